package tiktok

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
)

// FeedSession is a live authenticated handle that can stream the trending feed.
type FeedSession interface {
	Trending(ctx context.Context, count int) iter.Seq2[RawVideo, error]
	Close() error
}

// SessionOpener turns one harvested token into a FeedSession.
type SessionOpener interface {
	Open(ctx context.Context, index int, token string) (FeedSession, error)
}

// SessionPool owns the sessions of one collection pass.
type SessionPool struct {
	sessions []FeedSession
}

// BuildSessions opens one session per token. Tokens whose session cannot be
// opened are skipped, so the pool may be smaller than the token list. It
// fails only when there are no tokens or no session could be opened.
func BuildSessions(ctx context.Context, opener SessionOpener, tokens []string, logger zerolog.Logger) (*SessionPool, error) {
	if len(tokens) == 0 {
		return nil, ErrNoTokens
	}

	pool := &SessionPool{}
	for i, token := range tokens {
		sess, err := opener.Open(ctx, i, token)
		if err != nil {
			logger.Warn().Int("session", i+1).Err(err).Msg("open session failed")
			continue
		}
		pool.sessions = append(pool.sessions, sess)
	}

	if len(pool.sessions) == 0 {
		return nil, fmt.Errorf("%w: %d tokens", ErrNoSessions, len(tokens))
	}
	logger.Info().Int("tokens", len(tokens)).Int("sessions", len(pool.sessions)).Msg("sessions opened")
	return pool, nil
}

// Sessions returns the open sessions in token order.
func (p *SessionPool) Sessions() []FeedSession {
	return append([]FeedSession(nil), p.sessions...)
}

// Len returns the number of open sessions.
func (p *SessionPool) Len() int {
	return len(p.sessions)
}

// Close closes every session and joins their errors.
func (p *SessionPool) Close() error {
	var errs []error
	for i, s := range p.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %d: %w", i+1, err))
		}
	}
	p.sessions = nil
	return errors.Join(errs...)
}

// BrowserSessionOpener opens Sessions that sign URLs with their own headless
// Chromium page. Every session shares the same engine configuration.
type BrowserSessionOpener struct {
	UserAgent string
	FeedDelay time.Duration
	Logger    zerolog.Logger

	// With ProxySessions, session i egresses through Pool.Next(i).
	Pool          *ProxyPool
	Credentials   ProxyCredentials
	ProxySessions bool

	// Sign launches the signing browser. Without it URLs go out unsigned.
	Sign bool
}

// Open implements SessionOpener.
func (o *BrowserSessionOpener) Open(ctx context.Context, index int, token string) (FeedSession, error) {
	s := NewSession(index, token).
		WithUserAgent(o.UserAgent).
		WithFeedDelay(o.FeedDelay).
		WithLogger(o.Logger)

	if o.ProxySessions && o.Pool != nil {
		p := o.Pool.Next(index)
		if err := s.UseProxy(p, o.Credentials); err != nil {
			return nil, fmt.Errorf("session %d proxy %s: %w", index+1, p, err)
		}
	}

	if o.Sign {
		if err := s.InitBrowser(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("session %d: %w", index+1, err)
		}
	}
	return s, nil
}
