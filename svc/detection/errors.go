package detection

import "errors"

var (
	ErrInvalidContent       = errors.New("detection: invalid content")
	ErrClassificationFailed = errors.New("detection: classification failed")
)
