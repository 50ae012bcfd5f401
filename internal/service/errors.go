package service

import "errors"

// ErrInvalidArgument marks request validation failures. Transports map
// it to a 400-class response.
var ErrInvalidArgument = errors.New("invalid argument")
