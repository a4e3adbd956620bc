// Package pipeline wires harvesting, collection, dedupe and persistence into
// a single run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	tiktok "github.com/RavensCloud/tiktok-trending"
	"github.com/RavensCloud/tiktok-trending/internal/metrics"
	"github.com/RavensCloud/tiktok-trending/internal/snapshot"
)

// Report summarizes a run.
type Report struct {
	RunID          string
	Attempts       int
	Tokens         int
	Harvest        []tiktok.HarvestResult
	Sessions       int
	FailedSessions int
	Items          int
	Unique         int
	Inserted       int
	DBSkipped      bool
	DBErr          error
	SnapshotErr    error
	SnapshotPath   string
	Duration       time.Duration
}

// Runner executes the harvest → collect → dedupe → persist pipeline.
type Runner struct {
	harvester *tiktok.Harvester
	opener    tiktok.SessionOpener
	collector *tiktok.Collector
	persister *Persister

	metrics     *metrics.Metrics
	pushgateway string
	job         string
	logger      zerolog.Logger

	snapshotPath string
	newID        func() string
}

// NewRunner assembles a Runner from its stages.
func NewRunner(h *tiktok.Harvester, opener tiktok.SessionOpener, c *tiktok.Collector, p *Persister) *Runner {
	return &Runner{
		harvester:    h,
		opener:       opener,
		collector:    c,
		persister:    p,
		metrics:      metrics.New(nil),
		job:          "tiktok_trending",
		logger:       zerolog.Nop(),
		snapshotPath: p.snapshotPath,
		newID:        uuid.NewString,
	}
}

// WithLogger sets the base logger. Every run adds its run_id.
func (r *Runner) WithLogger(l zerolog.Logger) *Runner {
	r.logger = l
	return r
}

// WithMetrics records into m and, when pushgateway is set, pushes at the end
// of every run.
func (r *Runner) WithMetrics(m *metrics.Metrics, pushgateway, job string) *Runner {
	if m != nil {
		r.metrics = m
	}
	r.pushgateway = pushgateway
	if job != "" {
		r.job = job
	}
	return r
}

// Run executes one full pass. Only a run that cannot open any feed session
// returns an error; storage failures are carried in the Report.
func (r *Runner) Run(ctx context.Context) (report Report, err error) {
	start := time.Now()
	report = Report{RunID: r.newID(), SnapshotPath: r.snapshotPath}
	log := r.logger.With().Str("run_id", report.RunID).Logger()
	defer r.finish(ctx, &report, start, log)

	r.harvester.WithLogger(log)
	r.collector.WithLogger(log)
	r.persister.WithLogger(log)

	hr := r.harvester.HarvestAll(ctx)
	report.Attempts = len(hr.Results)
	report.Tokens = len(hr.Tokens)
	report.Harvest = hr.Results
	for _, res := range hr.Results {
		reason := string(res.Reason())
		if reason == "" {
			reason = metrics.OutcomeOK
		}
		r.metrics.HarvestAttempts.WithLabelValues(reason).Inc()
	}

	pool, err := tiktok.BuildSessions(ctx, r.opener, hr.Tokens, log)
	if err != nil {
		log.Error().Err(err).Msg("no feed sessions available")
		return report, fmt.Errorf("build sessions: %w", err)
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warn().Err(err).Msg("close sessions")
		}
	}()

	coll := r.collector.Collect(ctx, pool.Sessions())
	report.Sessions = len(coll.Sessions)
	report.FailedSessions = coll.Failed
	report.Items = coll.Total
	for _, s := range coll.Sessions {
		r.metrics.Sessions.WithLabelValues(metrics.Outcome(s.Err)).Inc()
	}
	r.metrics.ItemsCollected.Add(float64(coll.Total))
	log.Info().Int("items", coll.Total).Msg("Total videos retrieved")

	set := tiktok.Dedupe(coll.Items)
	report.Unique = set.Len()
	r.metrics.UniqueRecords.Set(float64(set.Len()))
	log.Info().Int("unique", set.Len()).Msg("Unique videos after deduplication")

	pr := r.persister.Persist(ctx, set.Records())
	report.Inserted = pr.Inserted
	report.DBSkipped = pr.DBSkipped
	report.DBErr = pr.DBErr
	report.SnapshotErr = pr.SnapshotErr
	r.metrics.RowsInserted.Add(float64(pr.Inserted))
	r.metrics.SnapshotWrites.WithLabelValues(metrics.Outcome(pr.SnapshotErr)).Inc()

	return report, nil
}

// Replay loads a snapshot and writes it to the relational store only.
func (r *Runner) Replay(ctx context.Context, path string) (report Report, err error) {
	start := time.Now()
	report = Report{RunID: r.newID(), SnapshotPath: path}
	log := r.logger.With().Str("run_id", report.RunID).Str("replay", path).Logger()
	defer r.finish(ctx, &report, start, log)

	records, err := snapshot.Read(path)
	if err != nil {
		return report, err
	}
	report.Unique = len(records)

	report.Inserted, report.DBErr = r.persister.WithLogger(log).Insert(ctx, records)
	r.metrics.RowsInserted.Add(float64(report.Inserted))
	if report.DBErr != nil {
		log.Error().Err(report.DBErr).Msg("replay failed")
		return report, report.DBErr
	}
	log.Info().Int("inserted", report.Inserted).Int("records", len(records)).Msg("snapshot replayed")
	return report, nil
}

func (r *Runner) finish(ctx context.Context, report *Report, start time.Time, log zerolog.Logger) {
	report.Duration = time.Since(start)
	r.metrics.RunDuration.Set(report.Duration.Seconds())

	log.Info().
		Int("tokens", report.Tokens).
		Int("sessions", report.Sessions).
		Int("failed_sessions", report.FailedSessions).
		Int("unique", report.Unique).
		Int("inserted", report.Inserted).
		Dur("duration", report.Duration).
		Msg("run finished")

	if r.pushgateway == "" {
		return
	}
	// A canceled run still pushes.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.metrics.Push(pushCtx, r.pushgateway, r.job, report.RunID); err != nil {
		log.Warn().Err(err).Msg("metrics push failed")
	}
}
