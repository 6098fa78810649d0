package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// SQLite is a Storage implementation backed by a single table of
// (id TEXT PRIMARY KEY, value BLOB) rows, with values marshalled as JSON.
// Suitable for durable single-node deployments; table name is caller
// supplied so one *sql.DB can back several entity stores.
type SQLite[T any] struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (creating if needed) a sqlite database at path and
// ensures the named table exists.
func OpenSQLite[T any](path, table string) (*SQLite[T], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &gwerrors.StorageError{Op: "open", Entity: table, Cause: err}
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, value BLOB NOT NULL)`, table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, &gwerrors.StorageError{Op: "migrate", Entity: table, Cause: err}
	}
	return &SQLite[T]{db: db, table: table}, nil
}

// Close releases the underlying database connection.
func (s *SQLite[T]) Close() error {
	return s.db.Close()
}

func (s *SQLite[T]) Create(ctx context.Context, id string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &gwerrors.StorageError{Op: "create", Entity: s.table, Cause: err}
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, value) VALUES (?, ?)`, s.table)
	if _, err := s.db.ExecContext(ctx, q, id, raw); err != nil {
		if isUniqueViolation(err) {
			return &gwerrors.ConflictError{Resource: s.table, ID: id}
		}
		return &gwerrors.StorageError{Op: "create", Entity: s.table, Cause: err}
	}
	return nil
}

func (s *SQLite[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	q := fmt.Sprintf(`SELECT value FROM %s WHERE id = ?`, s.table)
	row := s.db.QueryRowContext(ctx, q, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return zero, &gwerrors.NotFoundError{Resource: s.table, ID: id}
		}
		return zero, &gwerrors.StorageError{Op: "get", Entity: s.table, Cause: err}
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, &gwerrors.StorageError{Op: "decode", Entity: s.table, Cause: err}
	}
	return value, nil
}

func (s *SQLite[T]) Update(ctx context.Context, id string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &gwerrors.StorageError{Op: "update", Entity: s.table, Cause: err}
	}
	q := fmt.Sprintf(`UPDATE %s SET value = ? WHERE id = ?`, s.table)
	res, err := s.db.ExecContext(ctx, q, raw, id)
	if err != nil {
		return &gwerrors.StorageError{Op: "update", Entity: s.table, Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &gwerrors.StorageError{Op: "update", Entity: s.table, Cause: err}
	}
	if n == 0 {
		return &gwerrors.NotFoundError{Resource: s.table, ID: id}
	}
	return nil
}

func (s *SQLite[T]) Delete(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return &gwerrors.StorageError{Op: "delete", Entity: s.table, Cause: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &gwerrors.StorageError{Op: "delete", Entity: s.table, Cause: err}
	}
	if n == 0 {
		return &gwerrors.NotFoundError{Resource: s.table, ID: id}
	}
	return nil
}

func (s *SQLite[T]) Exists(ctx context.Context, id string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, s.table)
	row := s.db.QueryRowContext(ctx, q, id)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, &gwerrors.StorageError{Op: "exists", Entity: s.table, Cause: err}
	}
	return true, nil
}

func (s *SQLite[T]) List(ctx context.Context, filter func(T) bool) ([]T, error) {
	q := fmt.Sprintf(`SELECT value FROM %s`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &gwerrors.StorageError{Op: "list", Entity: s.table, Cause: err}
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, &gwerrors.StorageError{Op: "list", Entity: s.table, Cause: err}
		}
		var value T
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, &gwerrors.StorageError{Op: "decode", Entity: s.table, Cause: err}
		}
		if filter == nil || filter(value) {
			out = append(out, value)
		}
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite surfaces constraint violations as a generic error
	// whose message names the constraint; string matching is the pragmatic
	// option without importing the driver's internal error codes.
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
