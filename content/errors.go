package content

import "errors"

var (
	ErrContentNotFound = errors.New("content not found")
	ErrContentOpen     = errors.New("content root already open")
	ErrContentNotOpen  = errors.New("content root not open")
)
