package tiktok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// tokenCookie is the cookie TikTok's client JS sets with the session token.
	tokenCookie = "msToken"

	// harvestUserAgent is the fixed identity every harvest browser presents.
	harvestUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// BrowserOptions configures one isolated browser instance.
type BrowserOptions struct {
	Proxy       ProxyEndpoint
	Credentials ProxyCredentials
	UserAgent   string
	Headless    bool
}

// BrowserLauncher starts isolated browser instances.
type BrowserLauncher interface {
	Launch(ctx context.Context, opts BrowserOptions) (BrowserInstance, error)
}

// BrowserInstance is a single launched browser. Close must release every
// resource the launch acquired.
type BrowserInstance interface {
	Navigate(ctx context.Context, url string) error
	Cookies(ctx context.Context, url string) ([]*http.Cookie, error)
	Close() error
}

// FailureReason classifies why a harvest attempt produced no token.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonLaunch            FailureReason = "launch"
	ReasonNavigationTimeout FailureReason = "navigation_timeout"
	ReasonProxyUnreachable  FailureReason = "proxy_unreachable"
	ReasonTokenMissing      FailureReason = "token_missing"
	ReasonCanceled          FailureReason = "canceled"
	ReasonOther             FailureReason = "error"
)

// HarvestResult is the outcome of one harvest attempt.
type HarvestResult struct {
	Attempt int
	Proxy   ProxyEndpoint
	Token   string
	Err     error
}

// OK reports whether the attempt produced a token.
func (r HarvestResult) OK() bool {
	return r.Err == nil && r.Token != ""
}

// Reason classifies the failure. ReasonNone for successful attempts.
func (r HarvestResult) Reason() FailureReason {
	switch {
	case r.OK():
		return ReasonNone
	case errors.Is(r.Err, ErrBrowserLaunch):
		return ReasonLaunch
	case errors.Is(r.Err, ErrNavigationTimeout):
		return ReasonNavigationTimeout
	case errors.Is(r.Err, ErrProxyFailed):
		return ReasonProxyUnreachable
	case errors.Is(r.Err, ErrTokenNotFound):
		return ReasonTokenMissing
	case errors.Is(r.Err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonOther
	}
}

// HarvestReport collects the tokens and per-attempt results of HarvestAll.
type HarvestReport struct {
	Tokens  []string
	Results []HarvestResult
}

// Failed returns the number of attempts that produced no token.
func (r HarvestReport) Failed() int {
	return len(r.Results) - len(r.Tokens)
}

// Harvester acquires msTokens by driving one browser per attempt through a
// proxy drawn round-robin from the pool.
type Harvester struct {
	launcher BrowserLauncher
	pool     *ProxyPool
	creds    ProxyCredentials

	attempts   int
	navTimeout time.Duration
	settle     time.Duration
	userAgent  string
	targetURL  string
	logger     zerolog.Logger

	// sleep waits out the settle delay. Replaceable for testing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHarvester creates a Harvester with the defaults of a production run:
// six attempts, 60s navigation timeout, 15s settle delay.
func NewHarvester(launcher BrowserLauncher, pool *ProxyPool, creds ProxyCredentials) *Harvester {
	return &Harvester{
		launcher:   launcher,
		pool:       pool,
		creds:      creds,
		attempts:   6,
		navTimeout: 60 * time.Second,
		settle:     15 * time.Second,
		userAgent:  harvestUserAgent,
		targetURL:  "https://www.tiktok.com",
		logger:     zerolog.Nop(),
		sleep:      sleepContext,
	}
}

// WithAttempts sets how many harvest attempts HarvestAll makes.
func (h *Harvester) WithAttempts(n int) *Harvester {
	h.attempts = n
	return h
}

// WithNavigationTimeout bounds the page navigation of each attempt.
func (h *Harvester) WithNavigationTimeout(d time.Duration) *Harvester {
	h.navTimeout = d
	return h
}

// WithSettleDelay sets how long to wait after navigation for client-side
// token generation.
func (h *Harvester) WithSettleDelay(d time.Duration) *Harvester {
	h.settle = d
	return h
}

// WithUserAgent overrides the browser identity.
func (h *Harvester) WithUserAgent(ua string) *Harvester {
	if ua != "" {
		h.userAgent = ua
	}
	return h
}

// WithTargetURL overrides the page navigated to.
func (h *Harvester) WithTargetURL(u string) *Harvester {
	if u != "" {
		h.targetURL = u
	}
	return h
}

// WithLogger sets the logger for per-attempt progress lines.
func (h *Harvester) WithLogger(l zerolog.Logger) *Harvester {
	h.logger = l
	return h
}

// HarvestAll runs the configured number of attempts sequentially, drawing
// proxies round-robin. Failed attempts are recorded, never retried.
func (h *Harvester) HarvestAll(ctx context.Context) HarvestReport {
	var report HarvestReport
	for i := 0; i < h.attempts; i++ {
		if ctx.Err() != nil {
			break
		}
		proxy := h.pool.Next(i)
		h.logger.Info().Int("attempt", i+1).Str("proxy", proxy.String()).Msg("harvesting token")

		res := h.Harvest(ctx, i, proxy)
		report.Results = append(report.Results, res)
		if !res.OK() {
			h.logger.Warn().
				Int("attempt", i+1).
				Str("proxy", proxy.String()).
				Str("reason", string(res.Reason())).
				Err(res.Err).
				Msg("harvest failed")
			continue
		}
		report.Tokens = append(report.Tokens, res.Token)
		h.logger.Info().Int("attempt", i+1).Str("proxy", proxy.String()).Msg("token harvested")
		h.logger.Debug().Int("attempt", i+1).Str("token", truncate(res.Token, 12)).Msg("token prefix")
	}

	h.logger.Info().
		Int("attempts", len(report.Results)).
		Int("tokens", len(report.Tokens)).
		Msg("harvest finished")
	return report
}

// Harvest runs a single attempt: launch, navigate, settle, read cookies and
// tear the browser down on every path.
func (h *Harvester) Harvest(ctx context.Context, attempt int, proxy ProxyEndpoint) HarvestResult {
	res := HarvestResult{Attempt: attempt, Proxy: proxy}
	res.Token, res.Err = h.harvest(ctx, proxy)
	return res
}

func (h *Harvester) harvest(ctx context.Context, proxy ProxyEndpoint) (token string, err error) {
	inst, err := h.launcher.Launch(ctx, BrowserOptions{
		Proxy:       proxy,
		Credentials: h.creds,
		UserAgent:   h.userAgent,
		Headless:    true,
	})
	if err != nil {
		if errors.Is(err, ErrBrowserLaunch) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrBrowserLaunch, err)
	}
	defer func() {
		if cerr := inst.Close(); cerr != nil {
			h.logger.Debug().Str("proxy", proxy.String()).Err(cerr).Msg("close browser")
		}
	}()

	if err := h.navigate(ctx, inst); err != nil {
		return "", err
	}

	if err := h.sleep(ctx, h.settle); err != nil {
		return "", fmt.Errorf("settle: %w", err)
	}

	cookies, err := inst.Cookies(ctx, h.targetURL)
	if err != nil {
		return "", fmt.Errorf("read cookies: %w", err)
	}

	token = lastCookieValue(cookies, tokenCookie)
	if token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}

func (h *Harvester) navigate(ctx context.Context, inst BrowserInstance) error {
	navCtx := ctx
	if h.navTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, h.navTimeout)
		defer cancel()
	}

	err := inst.Navigate(navCtx, h.targetURL)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %w", ErrNavigationTimeout, h.navTimeout, err)
	}
	return fmt.Errorf("navigate %s: %w", h.targetURL, err)
}

// lastCookieValue returns the value of the last cookie named name, even when
// that value is empty. TikTok sets msToken several times across redirects; the
// final one is current.
func lastCookieValue(cookies []*http.Cookie, name string) string {
	value := ""
	for _, c := range cookies {
		if c != nil && c.Name == name {
			value = c.Value
		}
	}
	return value
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
