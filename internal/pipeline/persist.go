package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	tiktok "github.com/RavensCloud/tiktok-trending"
	"github.com/RavensCloud/tiktok-trending/internal/snapshot"
	"github.com/RavensCloud/tiktok-trending/internal/store"
)

// ErrSinkDisabled is returned when a relational write is requested but no
// sink is configured.
var ErrSinkDisabled = errors.New("pipeline: relational sink disabled")

// SinkOpener connects to the relational store.
type SinkOpener func(ctx context.Context) (store.Sink, error)

// PersistResult reports the relational write and the snapshot separately.
type PersistResult struct {
	Inserted    int
	DBSkipped   bool
	DBErr       error
	SnapshotErr error
}

// Persister writes a record set to the relational store and the snapshot file.
type Persister struct {
	open         SinkOpener
	snapshotPath string
	logger       zerolog.Logger
}

// NewPersister creates a Persister. A nil open skips the relational write.
func NewPersister(open SinkOpener, snapshotPath string) *Persister {
	return &Persister{open: open, snapshotPath: snapshotPath, logger: zerolog.Nop()}
}

// WithLogger sets the logger.
func (p *Persister) WithLogger(l zerolog.Logger) *Persister {
	p.logger = l
	return p
}

// Persist attempts both writes. A database failure never prevents the
// snapshot.
func (p *Persister) Persist(ctx context.Context, records []tiktok.VideoRecord) PersistResult {
	var res PersistResult

	if p.open == nil {
		res.DBSkipped = true
	} else {
		res.Inserted, res.DBErr = p.Insert(ctx, records)
		if res.DBErr != nil {
			p.logger.Error().Err(res.DBErr).Msg("DB upload failed")
		} else {
			p.logger.Info().
				Int("inserted", res.Inserted).
				Int("skipped", len(records)-res.Inserted).
				Msg("Videos inserted into PostgreSQL")
		}
	}

	if err := snapshot.Write(p.snapshotPath, records); err != nil {
		res.SnapshotErr = err
		p.logger.Error().Err(err).Str("path", p.snapshotPath).Msg("snapshot write failed")
	} else {
		p.logger.Info().Str("path", p.snapshotPath).Int("records", len(records)).Msg("Cleaned data saved")
	}
	return res
}

// Insert opens the sink, writes records and always closes it.
func (p *Persister) Insert(ctx context.Context, records []tiktok.VideoRecord) (n int, err error) {
	if p.open == nil {
		return 0, ErrSinkDisabled
	}
	sink, err := p.open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close sink: %w", cerr))
		}
	}()
	return sink.Insert(ctx, records)
}
