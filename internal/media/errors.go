package media

import "errors"

var (
	// ErrAgain is returned by decoders when no output is available yet
	// (more input needed) or when the input side is full.
	ErrAgain = errors.New("resource temporarily unavailable")
	// ErrEOF signals the end of a stream or a drained decoder.
	ErrEOF = errors.New("end of stream")

	ErrNotOpened          = errors.New("media not opened")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrDecoderUnavailable = errors.New("decoder unavailable")
	ErrHwUnavailable      = errors.New("hardware acceleration unavailable")
)
