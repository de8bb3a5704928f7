package engine

import (
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrNotOpen is returned for documents that were never opened.
	ErrNotOpen = errors.New("document not open")
)
