package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/medaccess/pkg/pg"
)

func TestErrorHelpers(t *testing.T) {
	t.Parallel()

	wrap := func(code string) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: code})
	}

	tests := []struct {
		name string
		fn   func(error) bool
		hit  error
	}{
		{name: "not found", fn: pg.IsNotFoundError, hit: fmt.Errorf("select: %w", pgx.ErrNoRows)},
		{name: "duplicate key", fn: pg.IsDuplicateKeyError, hit: wrap("23505")},
		{name: "foreign key", fn: pg.IsForeignKeyViolationError, hit: wrap("23503")},
		{name: "serialization", fn: pg.IsSerializationFailure, hit: wrap("40001")},
		{name: "raised exception", fn: pg.IsRaisedException, hit: wrap("P0001")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.fn(tt.hit))
			assert.False(t, tt.fn(nil))
			assert.False(t, tt.fn(errors.New("other")))
			assert.False(t, tt.fn(wrap("00000")))
		})
	}
}
