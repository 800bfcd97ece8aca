package riotsync

import "errors"

// ErrNotFound is returned when no document exists for the requested ip.
var ErrNotFound = errors.New("riotsync: not found")

// ErrInvalidInput is returned when a lookup argument is empty or malformed.
var ErrInvalidInput = errors.New("riotsync: invalid input")

// ErrNoDatabase is returned by New when no database handle is given.
var ErrNoDatabase = errors.New("riotsync: database handle is required")
