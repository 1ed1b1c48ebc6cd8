package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPostgres(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		constraint string
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "units_pkey"}, false, "units_pkey"},
		{"check violation without name", &pgconn.PgError{Code: "23514"}, false, "23514"},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true, ""},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, ""},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true, ""},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true, ""},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false, ""},
		{"deadline", context.DeadlineExceeded, true, ""},
		{"wrapped deadline", fmt.Errorf("commit: %w", context.DeadlineExceeded), true, ""},
		{"plain error", errors.New("unexpected row count"), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyPostgres("apply", "lyric", "1204", tt.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.retryable, IsRetryable(got))

			var cv *ConstraintViolationError
			if tt.constraint == "" {
				assert.False(t, errors.As(got, &cv))
				return
			}
			require.ErrorAs(t, got, &cv)
			assert.Equal(t, tt.constraint, cv.Constraint)
			assert.Equal(t, "lyric", cv.BuildingID)
			assert.Equal(t, "1204", cv.UnitNumber)
		})
	}
}
