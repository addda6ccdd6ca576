package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a guarded update finds the row in a
// different state than the caller observed.
var ErrConflict = errors.New("conflicting update")

// InsufficientCreditsError is returned when a debit would take a user's
// balance below zero. It carries the balance observed at the time of the
// failed debit so handlers can report it.
type InsufficientCreditsError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Balance, e.Required)
}
