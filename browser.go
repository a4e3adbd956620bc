//go:build !unittest

package tiktok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodLauncher launches isolated headless Chromium instances with go-rod.
type RodLauncher struct {
	// Bin is an optional Chromium binary path; empty lets rod pick or
	// download one.
	Bin string
}

// Launch implements BrowserLauncher. The returned instance owns the Chromium
// process and its temporary profile.
func (r *RodLauncher) Launch(ctx context.Context, opts BrowserOptions) (BrowserInstance, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if r.Bin != "" {
		l = l.Bin(r.Bin)
	}
	if opts.Proxy.Host != "" {
		l = l.Proxy(opts.Proxy.Server())
	}

	browser, cancel, err := connect(l)
	if err != nil {
		return nil, err
	}
	inst := &rodInstance{launcher: l, browser: browser, cancel: cancel}

	if !opts.Credentials.Empty() {
		wait := browser.HandleAuth(opts.Credentials.Username, opts.Credentials.Password)
		go func() { _ = wait() }()
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = inst.Close()
		return nil, fmt.Errorf("%w: create stealth page: %w", ErrBrowserLaunch, err)
	}
	inst.page = page

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			_ = inst.Close()
			return nil, fmt.Errorf("%w: set user agent: %w", ErrBrowserLaunch, err)
		}
	}
	return inst, nil
}

// connect launches Chromium and attaches to it. Canceling the returned func
// stops every event listener bound to the browser, including HandleAuth.
func connect(l *launcher.Launcher) (*rod.Browser, context.CancelFunc, error) {
	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("%w: %w", ErrBrowserLaunch, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		cancel()
		l.Kill()
		l.Cleanup()
		return nil, nil, fmt.Errorf("%w: connect: %w", ErrBrowserLaunch, err)
	}
	return browser, cancel, nil
}

type rodInstance struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	cancel   context.CancelFunc
}

func (i *rodInstance) Navigate(ctx context.Context, url string) error {
	page := i.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return classifyNavigation(err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	return nil
}

func (i *rodInstance) Cookies(ctx context.Context, url string) ([]*http.Cookie, error) {
	cookies, err := i.page.Context(ctx).Cookies([]string{url})
	if err != nil {
		return nil, fmt.Errorf("get browser cookies: %w", err)
	}
	return toHTTPCookies(cookies), nil
}

// Close tears down page, browser and the Chromium process. It runs every
// step even when an earlier one fails.
func (i *rodInstance) Close() error {
	var errs []error
	if i.page != nil {
		if err := i.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		i.page = nil
	}
	if i.browser != nil {
		if err := i.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		i.browser = nil
	}
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	if i.launcher != nil {
		i.launcher.Kill()
		i.launcher.Cleanup()
		i.launcher = nil
	}
	return errors.Join(errs...)
}

// classifyNavigation maps Chrome's net error reasons onto sentinel errors.
func classifyNavigation(err error) error {
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		reason := navErr.Reason
		if strings.Contains(reason, "ERR_PROXY") || strings.Contains(reason, "ERR_TUNNEL") {
			return fmt.Errorf("%w: %s", ErrProxyFailed, reason)
		}
	}
	return fmt.Errorf("navigate: %w", err)
}

func toHTTPCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: time.Unix(int64(c.Expires), 0),
		})
	}
	return out
}

// InitBrowser launches the signing browser for this session: headless
// Chromium with a stealth page that carries the session's msToken.
func (s *Session) InitBrowser(ctx context.Context) error {
	l := launcher.New().Context(ctx).Headless(true)
	if s.egress != nil {
		l = l.Proxy(s.egress.Server())
	}

	browser, cancel, err := connect(l)
	if err != nil {
		return err
	}
	s.launcher = l
	s.browser = browser
	s.browserCancel = cancel

	if !s.egressCreds.Empty() {
		wait := browser.HandleAuth(s.egressCreds.Username, s.egressCreds.Password)
		go func() { _ = wait() }()
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = s.closeBrowser()
		return fmt.Errorf("create stealth page: %w", err)
	}
	s.page = page

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.userAgent}); err != nil {
		_ = s.closeBrowser()
		return fmt.Errorf("set user agent: %w", err)
	}
	if err := page.SetCookies([]*proto.NetworkCookieParam{{
		Name:   tokenCookie,
		Value:  s.msToken,
		Domain: ".tiktok.com",
		Path:   "/",
	}}); err != nil {
		_ = s.closeBrowser()
		return fmt.Errorf("set browser msToken: %w", err)
	}

	s.setupResourceBlocking()

	if err := page.Context(ctx).Navigate(s.baseURL); err != nil {
		_ = s.closeBrowser()
		return fmt.Errorf("navigate to tiktok: %w", err)
	}
	if err := page.WaitStable(2 * time.Second); err != nil {
		_ = s.closeBrowser()
		return fmt.Errorf("wait for page stable: %w", err)
	}

	s.signingReady.Store(true)
	s.signFunc = s.signURL
	return nil
}

func (s *Session) setupResourceBlocking() {
	router := s.browser.HijackRequests()
	blocked := []string{"*.css", "*.png", "*.jpg", "*.jpeg", "*.mp4", "*.woff*", "*.svg", "*analytics*"}
	for _, pattern := range blocked {
		router.MustAdd(pattern, func(ctx *rod.Hijack) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
	}
	go router.Run()
}

// signURL calls TikTok's frontierSign JS to generate the X-Bogus signature
// and appends the returned params to the URL.
// Caller must hold browserMu.
func (s *Session) signURL(rawURL string) (string, error) {
	if s.page == nil {
		return "", ErrBrowserNotReady
	}

	if err := s.ensureSigningReady(); err != nil {
		return "", fmt.Errorf("ensure signing ready: %w", err)
	}

	page := s.page.Timeout(5 * time.Second)
	result, err := page.Eval(`(url) => {
		if (typeof window.byted_acrawler === 'undefined') {
			throw new Error('signing function not available');
		}
		const params = window.byted_acrawler.frontierSign(url);
		if (typeof params === 'string') {
			return params;
		}
		const u = new URL(url);
		for (const [k, v] of Object.entries(params)) {
			u.searchParams.set(k, v);
		}
		return u.toString();
	}`, rawURL)
	if err != nil {
		// Next call reloads the page.
		s.signingReady.Store(false)
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return result.Value.String(), nil
}

// ensureSigningReady reloads the page only when a previous signing call
// failed or the signing function disappeared.
func (s *Session) ensureSigningReady() error {
	if s.signingReady.Load() {
		return nil
	}

	result, err := s.page.Timeout(3 * time.Second).Eval(`() => typeof window.byted_acrawler !== 'undefined'`)
	if err != nil || !result.Value.Bool() {
		if err := s.page.Navigate(s.baseURL); err != nil {
			return fmt.Errorf("reload for signing: %w", err)
		}
		if err := s.page.WaitStable(2 * time.Second); err != nil {
			return fmt.Errorf("wait after reload: %w", err)
		}
	}

	s.signingReady.Store(true)
	return nil
}

func (s *Session) closeBrowser() error {
	var errs []error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.launcher = nil
	}
	return errors.Join(errs...)
}
