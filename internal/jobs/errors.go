package jobs

import "errors"

var (
	ErrNotFound          = errors.New("job not found")
	ErrNoValidItems      = errors.New("no valid items to rewrite")
	ErrInvalidTransition = errors.New("invalid job status transition")
)
