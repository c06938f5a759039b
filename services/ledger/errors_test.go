package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    Kind
		message string
	}{
		{
			name:    "duplicate email",
			err:     &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_email"},
			want:    KindConflict,
			message: "email already exists",
		},
		{
			name:    "duplicate category wrapped",
			err:     fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "idx_donation_categories_name"}),
			want:    KindConflict,
			message: "category name already exists",
		},
		{
			name:    "unknown unique index",
			err:     &pgconn.PgError{Code: "23505", ConstraintName: "something_else"},
			want:    KindConflict,
			message: "duplicate value",
		},
		{
			name: "foreign key restrict",
			err:  &pgconn.PgError{Code: "23503"},
			want: KindConflict,
		},
		{
			name: "check constraint",
			err:  &pgconn.PgError{Code: "23514", ConstraintName: "chk_donations_amount"},
			want: KindValidation,
		},
		{
			name: "serialization failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: KindTransient,
		},
		{
			name: "statement timeout",
			err:  &pgconn.PgError{Code: "57014"},
			want: KindTransient,
		},
		{
			name: "connection class",
			err:  &pgconn.PgError{Code: "08006"},
			want: KindTransient,
		},
		{
			name: "deadline",
			err:  fmt.Errorf("query: %w", context.DeadlineExceeded),
			want: KindTransient,
		},
		{
			name: "record not found",
			err:  gorm.ErrRecordNotFound,
			want: KindNotFound,
		},
		{
			name:    "unknown pg error",
			err:     &pgconn.PgError{Code: "42P01", Message: `relation "x" does not exist`},
			want:    KindInternal,
			message: "internal store error",
		},
		{
			name:    "foreign error",
			err:     errors.New("boom"),
			want:    KindInternal,
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.want, KindOf(got))

			var le *Error
			require.ErrorAs(t, got, &le)
			if tt.message != "" {
				assert.Equal(t, tt.message, le.Message)
			}
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyPassesThroughLedgerErrors(t *testing.T) {
	orig := conflictf("donation is already deleted")
	assert.Same(t, orig, classify(orig))
	assert.NoError(t, classify(nil))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", forbidden("access denied to this donation"))

	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestViolations(t *testing.T) {
	var v violations
	require.NoError(t, v.err())

	v.add("amount", "must be greater than zero")
	v.add("purpose", "is required")

	err := v.err()
	require.ErrorIs(t, err, ErrValidation)

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, []FieldViolation{
		{Field: "amount", Message: "must be greater than zero"},
		{Field: "purpose", Message: "is required"},
	}, le.Fields)
}
