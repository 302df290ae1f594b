package eventstack

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidRange    = errors.New("invalid range")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrParseFailed     = errors.New("parse failed")
)
