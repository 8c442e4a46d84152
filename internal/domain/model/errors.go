package model

import "errors"

// Sentinel kinds for model errors.
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrInvalidNotice  = errors.New("invalid deployment notice")
)
