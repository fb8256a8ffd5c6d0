package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
)

// Client hint headers set by the web client. Browsers do not expose these
// values to the server on their own.
const (
	HeaderTimezone = "X-Client-Timezone"
	HeaderScreen   = "X-Client-Screen"
	HeaderPlatform = "X-Client-Platform"
)

// Placeholder stands in for any attribute the client did not provide.
const Placeholder = "-"

// Attributes are the client-observable values a fingerprint is built from.
type Attributes struct {
	UserAgent    string
	Language     string
	Platform     string
	ScreenWidth  int
	ScreenHeight int
	ColorDepth   int
	Timezone     string
}

// Fingerprint hashes the attributes in a fixed order and returns 32 hex chars.
// The same attributes always produce the same fingerprint.
func Fingerprint(a Attributes) string {
	parts := [...]string{
		part(a.UserAgent),
		part(strings.ToLower(a.Language)),
		part(a.Platform),
		dimension(a.ScreenWidth),
		dimension(a.ScreenHeight),
		dimension(a.ColorDepth),
		part(a.Timezone),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts[:], "|")))
	return hex.EncodeToString(sum[:16])
}

// AttributesFromRequest collects fingerprint attributes from request headers.
// X-Client-Screen is "WIDTHxHEIGHT" or "WIDTHxHEIGHTxDEPTH"; malformed values
// are ignored.
func AttributesFromRequest(r *http.Request) Attributes {
	a := Attributes{
		UserAgent: r.UserAgent(),
		Language:  primaryLanguage(r.Header.Get("Accept-Language")),
		Platform:  strings.Trim(r.Header.Get(HeaderPlatform), `" `),
		Timezone:  strings.TrimSpace(r.Header.Get(HeaderTimezone)),
	}
	if a.Platform == "" {
		a.Platform = strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `" `)
	}

	if screen := r.Header.Get(HeaderScreen); screen != "" {
		dims := strings.Split(strings.ToLower(screen), "x")
		if len(dims) >= 2 {
			a.ScreenWidth = atoi(dims[0])
			a.ScreenHeight = atoi(dims[1])
		}
		if len(dims) >= 3 {
			a.ColorDepth = atoi(dims[2])
		}
	}
	return a
}

func part(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Placeholder
	}
	return s
}

func dimension(n int) string {
	if n <= 0 {
		return Placeholder
	}
	return strconv.Itoa(n)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// primaryLanguage keeps the first tag of an Accept-Language list so that
// reordered quality values do not change the fingerprint.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}
