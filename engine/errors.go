package engine

import "errors"

// ErrDomainRegistered is returned when a domain tag is registered twice.
var ErrDomainRegistered = errors.New("engine: domain already registered")

// ErrInvalidDomain is returned for an empty domain tag or nil routine.
var ErrInvalidDomain = errors.New("engine: invalid domain registration")

// ErrUnknownDomain is returned when an operation names a domain tag with
// no registered routine.
var ErrUnknownDomain = errors.New("engine: unknown domain")
