package domain

import "errors"

// ErrUnexpectedResponse marks an upstream payload without a usable choice.
var ErrUnexpectedResponse = errors.New("unexpected response format")
