package classifier

import "errors"

var (
	ErrEmptyContent    = errors.New("classifier: text, image, video or video url is required")
	ErrContentTooLarge = errors.New("classifier: content exceeds size limit")
	ErrInvalidImage    = errors.New("classifier: image must be a data url or https url")
	ErrInvalidVideoURL = errors.New("classifier: video url must be an absolute http(s) url")
	ErrUnparseable     = errors.New("classifier: model answer is not a valid verdict")
	ErrProviderFailure = errors.New("classifier: provider request failed")
	ErrMissingAPIKey   = errors.New("classifier: api key is required")
)
