package model

import "errors"

// Sentinel errors shared across the service. Handlers map these onto HTTP
// status codes; everything else is treated as internal.
var (
	// ErrNotFound indicates an unknown analysis identifier
	ErrNotFound = errors.New("analysis not found")

	// ErrInvalidTransition indicates a rejected non-monotonic phase change
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrTerminalState indicates the analysis already reached a terminal phase
	ErrTerminalState = errors.New("analysis is in a terminal phase")
)
