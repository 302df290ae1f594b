package player

import "errors"

var (
	ErrNotOpened    = errors.New("no media has been opened")
	ErrInvalidState = errors.New("invalid state")
	ErrNoStream     = errors.New("neither video nor audio stream found")
	// ErrFatal marks pipeline protocol violations; the offending stage
	// exits and subsequent reads return empty frames until the player
	// is reopened.
	ErrFatal = errors.New("fatal pipeline error")
)
