// Package metrics exposes Prometheus counters for a harvesting run.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "tiktok_trending"

// Outcome label values.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds all run metrics.
type Metrics struct {
	reg prometheus.Gatherer

	HarvestAttempts *prometheus.CounterVec // by reason
	Sessions        *prometheus.CounterVec // by outcome
	ItemsCollected  prometheus.Counter
	UniqueRecords   prometheus.Gauge
	RowsInserted    prometheus.Counter
	SnapshotWrites  *prometheus.CounterVec // by outcome
	RunDuration     prometheus.Gauge
}

// New registers all metrics on reg.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		HarvestAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvest_attempts_total",
			Help:      "Token harvest attempts by failure reason (ok on success).",
		}, []string{"reason"}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Feed sessions by collection outcome.",
		}, []string{"outcome"}),
		ItemsCollected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_collected_total",
			Help:      "Raw feed items collected before dedupe.",
		}),
		UniqueRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unique_records",
			Help:      "Unique video records after dedupe.",
		}),
		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_inserted_total",
			Help:      "Rows newly inserted into the relational store.",
		}),
		SnapshotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_writes_total",
			Help:      "Snapshot file writes by outcome.",
		}, []string{"outcome"}),
		RunDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
}

// Outcome maps an error to a label value.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}

// Push sends every registered metric to a Pushgateway, grouped by run id.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, runID string) error {
	err := push.New(gatewayURL, job).
		Gatherer(m.reg).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
