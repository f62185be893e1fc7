package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Common repository errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned when trying to create a user with an existing email
	ErrDuplicateEmail = errors.New("user with this email already exists")

	// ErrDuplicateClientID is returned when a generated client id collides with an existing one
	ErrDuplicateClientID = errors.New("client with this client id already exists")

	// ErrDuplicateToken is returned when trying to create a token with an existing hash
	ErrDuplicateToken = errors.New("token with this hash already exists")

	// ErrStatusChanged is returned when a conditional status update finds the row in another state
	ErrStatusChanged = errors.New("record status changed concurrently")
)

const uniqueViolation = "23505"

// uniqueConstraint returns the violated constraint name, or "" if err is not a unique violation
func uniqueConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == "" {
			return "unknown"
		}
		return pqErr.Constraint
	}
	return ""
}

// checkID rejects ids that cannot be a primary key so callers see ErrNotFound instead of a cast error
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %q not found: %w", kind, id, ErrNotFound)
	}
	return nil
}
