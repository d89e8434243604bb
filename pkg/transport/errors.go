package transport

import "errors"

// Upgrade request errors. All of them are answered with 400.
var (
	ErrMissingApp     = errors.New("transport: missing application")
	ErrMissingSession = errors.New("transport: missing session")
	ErrMissingView    = errors.New("transport: missing view or resource")
)
