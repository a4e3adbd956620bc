package tiktok

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

const defaultUserAgent = harvestUserAgent

var tiktokURL, _ = url.Parse("https://www.tiktok.com")

// Session is an authenticated feed client bound to one msToken. It pulls
// pages over HTTP and keeps a headless browser only for signing URLs.
type Session struct {
	id        int
	client    *http.Client
	proxy     string
	userAgent string
	baseURL   string // defaults to "https://www.tiktok.com"
	msToken   string
	logger    zerolog.Logger

	// Egress proxy shared by the HTTP client and the signing browser.
	egress      *ProxyEndpoint
	egressCreds ProxyCredentials

	// Browser for URL signing only.
	launcher      *launcher.Launcher
	browser       *rod.Browser
	browserCancel context.CancelFunc // stops browser event listeners
	page          *rod.Page
	browserMu     sync.Mutex
	signingReady  atomic.Bool

	// signFunc signs a raw URL via browser JS. Replaceable for testing.
	signFunc func(rawURL string) (string, error)

	// Minimum delay between feed page requests on this session.
	feedDelay time.Duration
	lastFeed  time.Time
	feedMu    sync.Mutex
}

// defaultTransport returns an http.Transport tuned for scraping:
// connection pooling, keep-alive, and TLS handshake caching.
func defaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewSession creates a Session authenticated with msToken. Until InitBrowser
// is called, URLs are sent unsigned.
func NewSession(id int, msToken string) *Session {
	jar, _ := cookiejar.New(nil)
	s := &Session{
		id: id,
		client: &http.Client{
			Jar:       jar,
			Timeout:   15 * time.Second,
			Transport: defaultTransport(),
		},
		baseURL:   "https://www.tiktok.com",
		userAgent: defaultUserAgent,
		feedDelay: 1 * time.Second,
		logger:    zerolog.Nop(),
	}
	s.signFunc = func(rawURL string) (string, error) { return rawURL, nil }
	s.SetCookies([]*http.Cookie{{Name: tokenCookie, Value: msToken, Domain: ".tiktok.com", Path: "/"}})
	return s
}

// WithFeedDelay sets the minimum delay between feed page requests.
func (s *Session) WithFeedDelay(d time.Duration) *Session {
	s.feedDelay = d
	return s
}

// WithUserAgent overrides the user agent sent with every request.
func (s *Session) WithUserAgent(ua string) *Session {
	if ua != "" {
		s.userAgent = ua
	}
	return s
}

// WithLogger sets the session logger.
func (s *Session) WithLogger(l zerolog.Logger) *Session {
	s.logger = l.With().Int("session", s.id+1).Logger()
	return s
}

// ID returns the zero-based session index.
func (s *Session) ID() int {
	return s.id
}

// Token returns the msToken the session is bound to.
func (s *Session) Token() string {
	return s.msToken
}

// SetProxy configures an HTTP/HTTPS or SOCKS5 proxy for the HTTP client.
// Connection pooling and keep-alive settings are preserved.
func (s *Session) SetProxy(proxyAddr string) error {
	if proxyAddr == "" {
		s.client.Transport = defaultTransport()
		s.proxy = ""
		return nil
	}

	u, err := url.Parse(proxyAddr)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	base := defaultTransport()

	switch u.Scheme {
	case "http", "https":
		base.Proxy = http.ProxyURL(u)
		s.client.Transport = base
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pass}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("socks5 proxy: %w", err)
		}
		dc, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return fmt.Errorf("socks5: context dialer not supported")
		}
		base.DialContext = dc.DialContext
		s.client.Transport = base
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}

	s.proxy = proxyAddr
	return nil
}

// UseProxy routes both the HTTP client and the signing browser through p.
func (s *Session) UseProxy(p ProxyEndpoint, creds ProxyCredentials) error {
	if err := s.SetProxy(p.URL(creds).String()); err != nil {
		return err
	}
	s.egress = &p
	s.egressCreds = creds
	return nil
}

// doRequest builds and executes an HTTP request with standard TikTok headers.
func (s *Session) doRequest(ctx context.Context, method, urlStr string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.tiktok.com/")
	req.Header.Set("Origin", "https://www.tiktok.com")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	}

	return resp, nil
}

// waitForFeed enforces the per-session page delay.
func (s *Session) waitForFeed(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.throttle(ctx, &s.lastFeed, s.feedDelay)
}

// throttle sleeps if needed to enforce min delay + jitter between requests.
func (s *Session) throttle(ctx context.Context, lastReq *time.Time, delay time.Duration) error {
	if delay == 0 {
		return nil
	}
	elapsed := time.Since(*lastReq)
	jitter := time.Duration(rand.Int64N(int64(500 * time.Millisecond)))
	if err := sleepContext(ctx, delay+jitter-elapsed); err != nil {
		return err
	}
	*lastReq = time.Now()
	return nil
}

// GetCookies returns the current session cookies for tiktok.com.
func (s *Session) GetCookies() []*http.Cookie {
	return s.client.Jar.Cookies(tiktokURL)
}

// SetCookies sets session cookies and tracks the msToken.
func (s *Session) SetCookies(cookies []*http.Cookie) {
	s.client.Jar.SetCookies(tiktokURL, cookies)
	if v := lastCookieValue(cookies, tokenCookie); v != "" {
		s.msToken = v
	}
}

// Close releases the signing browser if one was launched.
func (s *Session) Close() error {
	return s.closeBrowser()
}
