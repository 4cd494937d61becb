package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is provided the violation must name that constraint. SQLite
// messages are recognised so repository tests behave like Postgres.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	if pg, ok := pkgerrors.PostgresDetails(err); ok {
		if pg.Kind != pkgerrors.PGKindUniqueViolation {
			return false
		}
		return constraintName == "" || pg.Constraint == constraintName
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName == "" {
		return true
	}
	return strings.Contains(msg, constraintName) || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsTransient reports whether a failed transaction may succeed when retried:
// serialization failures, deadlocks and lock timeouts on the row locks taken
// by assignment transitions.
func IsTransient(err error) bool {
	pg, ok := pkgerrors.PostgresDetails(err)
	return ok && pg.Transient()
}
