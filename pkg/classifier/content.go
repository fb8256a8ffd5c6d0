package classifier

import (
	"net/url"
	"strings"
)

// MaxTextLength bounds the text sent to the model, in bytes.
const MaxTextLength = 20000

// Content is the material to classify. Exactly one kind is used; when several
// are set the precedence is VideoURL, Video, Image, Text.
type Content struct {
	Text     string `json:"text,omitempty"`
	Image    string `json:"image,omitempty"`
	Video    string `json:"video,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
}

// Kind names the content kind that will be analysed.
func (c Content) Kind() string {
	switch {
	case c.VideoURL != "":
		return "video_url"
	case c.Video != "":
		return "video"
	case c.Image != "":
		return "image"
	case strings.TrimSpace(c.Text) != "":
		return "text"
	}
	return ""
}

// Validate rejects content that cannot be classified.
func (c Content) Validate() error {
	switch c.Kind() {
	case "":
		return ErrEmptyContent
	case "video_url":
		u, err := url.Parse(c.VideoURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidVideoURL
		}
	case "image":
		if !strings.HasPrefix(c.Image, "data:image/") && !strings.HasPrefix(c.Image, "https://") {
			return ErrInvalidImage
		}
	case "text":
		if len(c.Text) > MaxTextLength {
			return ErrContentTooLarge
		}
	}
	return nil
}
