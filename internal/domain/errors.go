package domain

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrDuplicate      = errors.New("duplicate identifier")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAmbiguousState = errors.New("ambiguous certificate state")
)
