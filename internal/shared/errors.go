package shared

import "errors"

// ErrMissingToken occurs when the caller sent no bearer token. The order
// service authenticates every call with it.
var ErrMissingToken = errors.New("bearer token missing")
