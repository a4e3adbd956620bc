package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	tiktok "github.com/RavensCloud/tiktok-trending"
)

const defaultBatchSize = 200

// txBeginner is the part of *pgxpool.Pool that PGStore uses.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PGStore inserts through pgx batches of at most batchSize statements, all in
// one transaction.
type PGStore struct {
	pool      txBeginner
	batchSize int
}

// NewPGStore wraps a pgx pool. Non-positive batchSize selects the default.
func NewPGStore(pool txBeginner, batchSize int) *PGStore {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &PGStore{pool: pool, batchSize: batchSize}
}

// Insert queues records in chunks and sums the command tags. Any failure
// rolls the whole batch back and reports zero rows inserted.
func (s *PGStore) Insert(ctx context.Context, records []tiktok.VideoRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	total := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))
		n, err := insertChunk(ctx, tx, records[start:end])
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return total, nil
}

func insertChunk(ctx context.Context, tx pgx.Tx, records []tiktok.VideoRecord) (int, error) {
	b := &pgx.Batch{}
	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			return 0, err
		}
		b.Queue(positionalInsertSQL, row.args()...)
	}

	br := tx.SendBatch(ctx, b)
	total := 0
	for _, rec := range records {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, fmt.Errorf("insert video %s: %w", rec.VideoID, err)
		}
		total += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}
	return total, nil
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
