package tiktok

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Fake browser capability
// ---------------------------------------------------------------------------

type fakeInstance struct {
	navErr   error
	navBlock bool
	cookies  []*http.Cookie
	closed   *int
}

func (f *fakeInstance) Navigate(ctx context.Context, _ string) error {
	if f.navBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.navErr
}

func (f *fakeInstance) Cookies(context.Context, string) ([]*http.Cookie, error) {
	return f.cookies, nil
}

func (f *fakeInstance) Close() error {
	*f.closed++
	return nil
}

// fakeLauncher hands out instances per launch in order and records the
// options of every launch.
type fakeLauncher struct {
	mu        sync.Mutex
	instances []*fakeInstance
	launchErr error
	launches  []BrowserOptions
	closed    int
}

func (l *fakeLauncher) Launch(_ context.Context, opts BrowserOptions) (BrowserInstance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, opts)
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	inst := &fakeInstance{cookies: tokenCookies("tok")}
	if i := len(l.launches) - 1; i < len(l.instances) {
		inst = l.instances[i]
	}
	inst.closed = &l.closed
	return inst, nil
}

func tokenCookies(values ...string) []*http.Cookie {
	out := []*http.Cookie{{Name: "ttwid", Value: "x"}}
	for _, v := range values {
		out = append(out, &http.Cookie{Name: tokenCookie, Value: v})
	}
	return out
}

func fivePool(t *testing.T) *ProxyPool {
	t.Helper()
	var eps []ProxyEndpoint
	for i := range 5 {
		eps = append(eps, ProxyEndpoint{Host: "10.0.0." + string(rune('1'+i)), Port: 6540 + i})
	}
	pool, err := NewProxyPool(eps)
	if err != nil {
		t.Fatalf("NewProxyPool: %v", err)
	}
	return pool
}

func newTestHarvester(t *testing.T, l BrowserLauncher) *Harvester {
	t.Helper()
	return NewHarvester(l, fivePool(t), ProxyCredentials{Username: "u", Password: "secret"}).
		WithSettleDelay(0).
		WithNavigationTimeout(time.Second)
}

// ---------------------------------------------------------------------------
// Harvester tests
// ---------------------------------------------------------------------------

func TestNewHarvester_Defaults(t *testing.T) {
	t.Parallel()
	h := NewHarvester(&fakeLauncher{}, fivePool(t), ProxyCredentials{})
	if h.attempts != 6 {
		t.Errorf("expected 6 attempts, got %d", h.attempts)
	}
	if h.navTimeout != 60*time.Second {
		t.Errorf("expected 60s navigation timeout, got %v", h.navTimeout)
	}
	if h.settle != 15*time.Second {
		t.Errorf("expected 15s settle delay, got %v", h.settle)
	}
	if h.userAgent != harvestUserAgent {
		t.Errorf("expected default user agent, got %q", h.userAgent)
	}
}

func TestHarvest_LastTokenWins(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{instances: []*fakeInstance{{cookies: tokenCookies("first", "second", "last")}}}
	h := newTestHarvester(t, l)

	res := h.Harvest(context.Background(), 0, h.pool.Next(0))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Token != "last" {
		t.Errorf("expected last token, got %q", res.Token)
	}
	if l.closed != 1 {
		t.Errorf("expected browser closed once, got %d", l.closed)
	}
}

func TestHarvest_PassesProxyAndIdentity(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	h := newTestHarvester(t, l).WithUserAgent("ua/1")

	h.Harvest(context.Background(), 3, h.pool.Next(3))
	if len(l.launches) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(l.launches))
	}
	got := l.launches[0]
	if got.Proxy != h.pool.Next(3) {
		t.Errorf("expected proxy %v, got %v", h.pool.Next(3), got.Proxy)
	}
	if got.UserAgent != "ua/1" || !got.Headless {
		t.Errorf("unexpected browser options %+v", got)
	}
	if got.Credentials.Password != "secret" {
		t.Error("expected credentials passed to launcher")
	}
}

func TestHarvest_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		launcher   *fakeLauncher
		wantReason FailureReason
		wantClosed int
	}{
		{
			name:       "no token cookie",
			launcher:   &fakeLauncher{instances: []*fakeInstance{{cookies: tokenCookies()}}},
			wantReason: ReasonTokenMissing,
			wantClosed: 1,
		},
		{
			name:       "last token cookie empty",
			launcher:   &fakeLauncher{instances: []*fakeInstance{{cookies: tokenCookies("stale", "")}}},
			wantReason: ReasonTokenMissing,
			wantClosed: 1,
		},
		{
			name:       "proxy unreachable",
			launcher:   &fakeLauncher{instances: []*fakeInstance{{navErr: ErrProxyFailed}}},
			wantReason: ReasonProxyUnreachable,
			wantClosed: 1,
		},
		{
			name:       "navigation timeout",
			launcher:   &fakeLauncher{instances: []*fakeInstance{{navBlock: true}}},
			wantReason: ReasonNavigationTimeout,
			wantClosed: 1,
		},
		{
			name:       "launch failure",
			launcher:   &fakeLauncher{launchErr: errors.New("no chromium")},
			wantReason: ReasonLaunch,
			wantClosed: 0,
		},
		{
			name:       "other navigation error",
			launcher:   &fakeLauncher{instances: []*fakeInstance{{navErr: errors.New("boom")}}},
			wantReason: ReasonOther,
			wantClosed: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newTestHarvester(t, tt.launcher).WithNavigationTimeout(20 * time.Millisecond)
			res := h.Harvest(context.Background(), 0, h.pool.Next(0))
			if res.OK() {
				t.Fatal("expected failure")
			}
			if res.Reason() != tt.wantReason {
				t.Errorf("expected reason %q, got %q (%v)", tt.wantReason, res.Reason(), res.Err)
			}
			if tt.launcher.closed != tt.wantClosed {
				t.Errorf("expected %d closes, got %d", tt.wantClosed, tt.launcher.closed)
			}
		})
	}
}

func TestHarvest_CanceledDuringSettle(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	h := newTestHarvester(t, l).WithSettleDelay(10 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	h.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	res := h.Harvest(ctx, 0, h.pool.Next(0))
	if res.Reason() != ReasonCanceled {
		t.Errorf("expected canceled, got %q (%v)", res.Reason(), res.Err)
	}
	if l.closed != 1 {
		t.Errorf("expected browser closed, got %d", l.closed)
	}
}

func TestHarvestAll_RoundRobinWraps(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	h := newTestHarvester(t, l).WithAttempts(6)

	report := h.HarvestAll(context.Background())
	if len(report.Results) != 6 {
		t.Fatalf("expected 6 attempts, got %d", len(report.Results))
	}
	if l.launches[5].Proxy != h.pool.Next(0) {
		t.Errorf("expected attempt 6 to reuse proxy 0, got %v", l.launches[5].Proxy)
	}
	for i := range 5 {
		if l.launches[i].Proxy != h.pool.Next(i) {
			t.Errorf("attempt %d: expected proxy %v, got %v", i+1, h.pool.Next(i), l.launches[i].Proxy)
		}
	}
	if l.closed != 6 {
		t.Errorf("expected 6 teardowns, got %d", l.closed)
	}
}

func TestHarvestAll_PartialTokens(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{instances: []*fakeInstance{
		{cookies: tokenCookies("a")},
		{navErr: ErrProxyFailed},
		{cookies: tokenCookies()},
		{cookies: tokenCookies("b")},
	}}
	h := newTestHarvester(t, l).WithAttempts(4)

	report := h.HarvestAll(context.Background())
	if len(report.Tokens) != 2 || report.Tokens[0] != "a" || report.Tokens[1] != "b" {
		t.Errorf("expected tokens [a b], got %v", report.Tokens)
	}
	if report.Failed() != 2 {
		t.Errorf("expected 2 failures, got %d", report.Failed())
	}
}

func TestHarvestAll_StopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	l := &fakeLauncher{}
	h := newTestHarvester(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := h.HarvestAll(ctx)
	if len(report.Results) != 0 {
		t.Errorf("expected no attempts, got %d", len(report.Results))
	}
}

func TestLastCookieValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cookies []*http.Cookie
		want    string
	}{
		{"none", nil, ""},
		{"single", tokenCookies("a"), "a"},
		{"last wins", tokenCookies("a", "b"), "b"},
		{"empty last value", tokenCookies("a", ""), ""},
		{"nil entry", []*http.Cookie{nil, {Name: tokenCookie, Value: "z"}}, "z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := lastCookieValue(tt.cookies, tokenCookie); got != tt.want {
				t.Errorf("lastCookieValue() = %q, want %q", got, tt.want)
			}
		})
	}
}
