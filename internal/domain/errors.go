package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrActivityNotFound is returned when an activity does not exist or belongs
// to a different owner. The two causes are deliberately indistinguishable so
// callers cannot probe for other users' records.
var ErrActivityNotFound = errors.New("activity not found")

// FieldError names a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports one or more malformed or out-of-range fields.
// It never reflects a storage mutation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid activity data"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid activity data: " + strings.Join(parts, "; ")
}

// CapacityError rejects a well-formed mutation that would push an owner-day
// past DayCapacityMinutes. CurrentTotal excludes the record being updated,
// so Remaining is exactly what the caller may still log.
type CapacityError struct {
	Day          string
	CurrentTotal int
	Remaining    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("daily capacity exceeded for %s: %d minutes logged, %d remaining", e.Day, e.CurrentTotal, e.Remaining)
}
