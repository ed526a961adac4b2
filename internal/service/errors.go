package service

import (
	"errors"
	"fmt"
)

// ErrNotAssociated is returned when a mess owner has no mess.
var ErrNotAssociated = errors.New("owner is not associated with any mess")

// ValidationError reports a request field that failed a business rule.
// Handlers translate it into a 400 response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
