package validators

import "errors"

var (
	ErrValidatorNotFound = errors.New("validator not found")
	ErrValidatorExists   = errors.New("validator already registered")
	ErrInvalidValidator  = errors.New("invalid validator")
)
