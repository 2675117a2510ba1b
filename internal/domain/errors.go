// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrTerminal indicates an operation was attempted on an execution
// that already reached a terminal status.
var ErrTerminal = errors.New("execution is terminal")

// ErrValidation indicates a request failed domain validation.
var ErrValidation = errors.New("validation failed")
