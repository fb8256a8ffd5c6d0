package identity

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is what the auth collaborator vouches for.
type Session struct {
	AccountID string
	Email     string
}

// SessionVerifier extracts a verified session from a request.
// It returns ErrNoSession when the request carries no credentials at all.
type SessionVerifier interface {
	Verify(r *http.Request) (Session, error)
}

// SessionClaims are the claims carried by session tokens.
type SessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 bearer tokens issued by the auth service.
type JWTVerifier struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// JWTOption configures a JWTVerifier.
type JWTOption func(*JWTVerifier)

// WithIssuer requires tokens to carry the given "iss" claim.
func WithIssuer(iss string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = iss }
}

// WithTimeFunc overrides the clock used for expiry checks.
func WithTimeFunc(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier returns a verifier for tokens signed with key.
func NewJWTVerifier(key string, opts ...JWTOption) (*JWTVerifier, error) {
	if key == "" {
		return nil, ErrMissingSigningKey
	}
	v := &JWTVerifier{key: []byte(key), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses the bearer token of r.
func (v *JWTVerifier) Verify(r *http.Request) (Session, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return Session{}, ErrNoSession
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	var claims SessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, parserOpts...)
	if err != nil {
		return Session{}, errors.Join(ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return Session{}, errors.Join(ErrInvalidSession, ErrMissingAccountID)
	}
	return Session{AccountID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a session token. The auth service owns issuance in production;
// this exists for local development and tests.
func (v *JWTVerifier) Issue(s Session, ttl time.Duration) (string, error) {
	now := v.now()
	claims := SessionClaims{
		Email: s.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.AccountID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
