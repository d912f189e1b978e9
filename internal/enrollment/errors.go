package enrollment

import (
	"errors"
	"fmt"
	"strings"
)

// ContractError means an operation was invoked with an incomplete input.
// It is a caller bug and must never be retried.
type ContractError struct {
	Op      string
	Missing []string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("enrollment: %s: missing required input: %s", e.Op, strings.Join(e.Missing, ", "))
}

// ValidationError is a user-correctable input problem caught before any
// network request is made.
type ValidationError struct {
	Op      string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("enrollment: %s: %s: %s", e.Op, e.Field, e.Message)
}

// IsContract reports whether err is a ContractError.
func IsContract(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// missing collects names of empty required fields.
type missing []string

func (m *missing) str(name, v string) {
	if strings.TrimSpace(v) == "" {
		*m = append(*m, name)
	}
}

func (m *missing) positive(name string, v float64) {
	if v <= 0 {
		*m = append(*m, name)
	}
}

func (m missing) err(op string) error {
	if len(m) == 0 {
		return nil
	}
	return &ContractError{Op: op, Missing: m}
}
