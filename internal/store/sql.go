package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	tiktok "github.com/RavensCloud/tiktok-trending"
)

// SQLStore inserts through database/sql in a single transaction.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open sqlx handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert writes all records in one transaction. Any failure rolls the whole
// batch back.
func (s *SQLStore) Insert(ctx context.Context, records []tiktok.VideoRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			return 0, err
		}
		res, err := tx.NamedExecContext(ctx, namedInsertSQL, row)
		if err != nil {
			return 0, fmt.Errorf("insert video %s: %w", rec.VideoID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for %s: %w", rec.VideoID, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
