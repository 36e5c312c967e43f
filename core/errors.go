package core

import "errors"

var (
	// ErrConfiguration marks invalid constants supplied at construction time.
	// It is always fatal for the component being built.
	ErrConfiguration = errors.New("configuration error")
	// ErrEmptyWindow is returned by Smoother.Mean before the first Push.
	ErrEmptyWindow = errors.New("smoothing window is empty")
)
