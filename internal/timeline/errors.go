package timeline

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidRange signals a clip placement or trim that conflicts
	// with other clips or overlaps on the track.
	ErrInvalidRange   = errors.New("invalid range")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
)
