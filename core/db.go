package core

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

type (
	DBExecutor interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
		PingContext(ctx context.Context) error
		Close() error
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

// ParseDBOrdering reads "field" (ascending) or "-field" (descending) and
// rejects fields not in allowed.
func ParseDBOrdering(raw string, allowed ...string) (DBOrdering, error) {
	raw = CleanString(raw, true)
	ord := DBOrdering{Field: strings.TrimPrefix(raw, "-"), Ascending: !strings.HasPrefix(raw, "-")}
	for _, f := range allowed {
		if f == ord.Field {
			return ord, nil
		}
	}
	return DBOrdering{}, NewValidationError(
		errors.Errorf("invalid ordering: %q", raw),
		FieldError{Field: "ordering", Error: OneOf(ord.Field, allowed)},
	)
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
