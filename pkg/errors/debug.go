package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PGKind groups the Postgres failures the dispatch paths care about.
type PGKind string

const (
	PGKindUniqueViolation      PGKind = "unique_violation"
	PGKindForeignKeyViolation  PGKind = "foreign_key_violation"
	PGKindSerializationFailure PGKind = "serialization_failure"
	PGKindDeadlock             PGKind = "deadlock_detected"
	PGKindLockNotAvailable     PGKind = "lock_not_available"
	PGKindOther                PGKind = "other"
)

var pgKinds = map[string]PGKind{
	"23505": PGKindUniqueViolation,
	"23503": PGKindForeignKeyViolation,
	"40001": PGKindSerializationFailure,
	"40P01": PGKindDeadlock,
	"55P03": PGKindLockNotAvailable,
}

// PGDetails is the driver-independent view of a Postgres error.
type PGDetails struct {
	Code       string `json:"pg_code,omitempty"`
	Kind       PGKind `json:"pg_kind,omitempty"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Column     string `json:"pg_column,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

// Transient reports whether retrying the transaction may succeed.
func (d PGDetails) Transient() bool {
	switch d.Kind {
	case PGKindSerializationFailure, PGKindDeadlock, PGKindLockNotAvailable:
		return true
	}
	return false
}

type ErrorDump struct {
	TopMessage string     `json:"top_message"`
	Code       Code       `json:"code,omitempty"`
	Chain      []string   `json:"chain,omitempty"`
	PG         *PGDetails `json:"pg,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if pg, ok := PostgresDetails(err); ok {
		d.PG = &pg
	}
	return d
}

// Fields flattens the dump into structured log fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.PG != nil {
		fields["pg_code"] = d.PG.Code
		fields["pg_kind"] = d.PG.Kind
		fields["pg_constraint"] = d.PG.Constraint
		fields["pg_table"] = d.PG.Table
		fields["pg_column"] = d.PG.Column
		fields["pg_detail"] = d.PG.Detail
		fields["pg_message"] = d.PG.Message
	}
	return fields
}

// PostgresDetails extracts the Postgres error from either the pgx or lib/pq
// driver anywhere in the chain.
func PostgresDetails(err error) (PGDetails, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return newPGDetails(pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName, pgxErr.Detail, pgxErr.Message), true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return newPGDetails(string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Column, pqErr.Detail, pqErr.Message), true
	}
	return PGDetails{}, false
}

func newPGDetails(code, constraint, table, column, detail, message string) PGDetails {
	kind, ok := pgKinds[code]
	if !ok {
		kind = PGKindOther
	}
	return PGDetails{
		Code:       code,
		Kind:       kind,
		Constraint: constraint,
		Table:      table,
		Column:     column,
		Detail:     detail,
		Message:    message,
	}
}
