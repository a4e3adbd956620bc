package tiktok

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SessionResult is what one session contributed to a collection pass. Err is
// set when the stream failed; Items still holds everything pulled before that.
type SessionResult struct {
	Session int
	Items   []RawVideo
	Err     error
}

// Collection is the aggregate of a collection pass.
type Collection struct {
	Items    []RawVideo
	Sessions []SessionResult
	Total    int
	Failed   int
}

// Collector pulls a bounded number of trending items from every session.
type Collector struct {
	pageSize    int
	concurrency int
	logger      zerolog.Logger
}

// NewCollector creates a Collector that pulls pageSize items per session,
// one session at a time.
func NewCollector(pageSize int) *Collector {
	return &Collector{
		pageSize:    pageSize,
		concurrency: 1,
		logger:      zerolog.Nop(),
	}
}

// WithConcurrency sets how many sessions stream at once.
func (c *Collector) WithConcurrency(n int) *Collector {
	if n > 0 {
		c.concurrency = n
	}
	return c
}

// WithLogger sets the logger for per-session progress lines.
func (c *Collector) WithLogger(l zerolog.Logger) *Collector {
	c.logger = l
	return c
}

// Collect streams every session. A failing session never aborts the others;
// its partial items are kept and the failure is recorded. Items are
// concatenated in session order whatever the concurrency.
func (c *Collector) Collect(ctx context.Context, sessions []FeedSession) Collection {
	results := make([]SessionResult, len(sessions))
	var total atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, sess := range sessions {
		g.Go(func() error {
			c.logger.Info().Int("session", i+1).Msg("scraping session")
			results[i] = c.collectOne(ctx, i, sess, &total)
			res := results[i]
			if res.Err != nil {
				c.logger.Warn().
					Int("session", i+1).
					Int("items", len(res.Items)).
					Err(res.Err).
					Msg("session failed")
				return nil
			}
			c.logger.Info().Int("session", i+1).Int("items", len(res.Items)).Msg("session finished")
			return nil
		})
	}
	_ = g.Wait()

	out := Collection{Sessions: results}
	for _, res := range results {
		out.Items = append(out.Items, res.Items...)
		if res.Err != nil {
			out.Failed++
		}
	}
	out.Total = int(total.Load())
	c.logger.Info().Int("total", out.Total).Int("failed_sessions", out.Failed).Msg("collection finished")
	return out
}

func (c *Collector) collectOne(ctx context.Context, i int, sess FeedSession, total *atomic.Int64) (res SessionResult) {
	res.Session = i
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()

	for v, err := range sess.Trending(ctx, c.pageSize) {
		if err != nil {
			res.Err = err
			return res
		}
		res.Items = append(res.Items, v)
		if n := total.Add(1); n%50 == 0 {
			c.logger.Debug().Int64("total", n).Msg("items retrieved")
		}
	}
	return res
}
