package models

import "errors"

// ErrNotFound is returned by store implementations when no row matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by store implementations when an insert loses a
// race against a unique index (email, username, slug).
var ErrDuplicate = errors.New("duplicate record")
