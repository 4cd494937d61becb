package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		assert.Equal(t, tt.status, meta.HTTPStatus, "status for %s", tt.code)
		assert.Equal(t, tt.retryable, meta.Retryable, "retryable for %s", tt.code)
		assert.Equal(t, tt.detailsOK, meta.DetailsAllowed, "details for %s", tt.code)
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "geo lookup")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	outer := fmt.Errorf("assign: %w", wrapped)
	require.True(t, IsCode(outer, CodeDependency))
	require.False(t, IsCode(outer, CodeNotFound))
	require.Nil(t, As(nil))
}

func TestInvalidTransitionCarriesStates(t *testing.T) {
	err := InvalidTransition("rejected", "accepted", "assigned")

	require.Equal(t, CodeStateConflict, err.Code())
	details, ok := err.Details().(TransitionDetails)
	require.True(t, ok, "unexpected details type %T", err.Details())
	assert.Equal(t, "rejected", details.Current)
	assert.Equal(t, "accepted", details.Attempted)
	assert.Equal(t, []string{"assigned"}, details.Required)
}

func TestDumpExtractsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_assignments_order_id", TableName: "assignments"}
	err := Wrap(CodeConflict, pgErr, "insert assignment")

	d := Dump(err)
	assert.Equal(t, CodeConflict, d.Code)
	require.NotNil(t, d.PG)
	assert.Equal(t, "23505", d.PG.Code)
	assert.Equal(t, PGKindUniqueViolation, d.PG.Kind)
	assert.Equal(t, "ux_assignments_order_id", d.PG.Constraint)
	assert.Len(t, d.Chain, 2)

	fields := d.Fields()
	assert.Equal(t, "assignments", fields["pg_table"])
	assert.Equal(t, PGKindUniqueViolation, fields["pg_kind"])
}

func TestDumpWithoutPostgresError(t *testing.T) {
	d := Dump(New(CodeNotFound, "assignment not found"))
	assert.Nil(t, d.PG)
	assert.NotContains(t, d.Fields(), "pg_code")
	assert.Equal(t, ErrorDump{}, Dump(nil))
}

func TestPostgresDetailsFromLibPQ(t *testing.T) {
	err := fmt.Errorf("update: %w", &pq.Error{Code: "40P01", Table: "assignments"})
	pg, ok := PostgresDetails(err)
	require.True(t, ok)
	assert.Equal(t, PGKindDeadlock, pg.Kind)
	assert.True(t, pg.Transient())

	pg, ok = PostgresDetails(&pgconn.PgError{Code: "22P02"})
	require.True(t, ok)
	assert.Equal(t, PGKindOther, pg.Kind)
	assert.False(t, pg.Transient())

	_, ok = PostgresDetails(stdErrors.New("plain"))
	assert.False(t, ok)
}
