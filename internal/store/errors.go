package store

import "errors"

// ErrNotFound is returned when a row fetch by id matches nothing.
var ErrNotFound = errors.New("store: row not found")
