// Package persistence provides PostgreSQL adapters.
package persistence

import "errors"

// Common persistence errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
