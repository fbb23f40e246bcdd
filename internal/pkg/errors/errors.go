package errors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid")
	ErrConflict       = errors.New("conflict")
	ErrTooMany        = errors.New("too many requests")
	ErrInternal       = errors.New("internal")
	ErrNotActive      = errors.New("election not active")
	ErrTokenUsed      = errors.New("token already used")
	ErrTokenCollision = errors.New("token collision retries exhausted")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
