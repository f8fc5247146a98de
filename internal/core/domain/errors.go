package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState            = errors.New("invalid state")
	ErrInsufficientLotQuantity = errors.New("insufficient lot quantity")
	ErrUnknownAllocationMethod = errors.New("unknown allocation method")
	ErrNotFound                = errors.New("not found")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrAlreadyExists           = errors.New("already exists")
)

// StateError describes referential or quantity corruption found in stored
// state. It matches ErrInvalidState under errors.Is.
type StateError struct {
	Entity string
	ID     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: %s %q: %s", e.Entity, e.ID, e.Reason)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
