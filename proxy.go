package tiktok

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ProxyEndpoint is one egress proxy. Credentials are never stored here; they
// travel separately as ProxyCredentials.
type ProxyEndpoint struct {
	Scheme string // "http" (default) or "socks5"
	Host   string
	Port   int
}

// ProxyCredentials authenticates against every endpoint in a pool.
type ProxyCredentials struct {
	Username string
	Password string
}

// Empty reports whether no username was supplied.
func (c ProxyCredentials) Empty() bool {
	return c.Username == ""
}

// ParseProxyEndpoint accepts "host:port" or "scheme://host:port".
func ParseProxyEndpoint(s string) (ProxyEndpoint, error) {
	s = strings.TrimSpace(s)
	scheme := "http"
	if i := strings.Index(s, "://"); i >= 0 {
		scheme = strings.ToLower(s[:i])
		s = s[i+3:]
	}
	switch scheme {
	case "http", "https", "socks5":
	default:
		return ProxyEndpoint{}, fmt.Errorf("parse proxy %q: unsupported scheme %q", s, scheme)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return ProxyEndpoint{}, fmt.Errorf("parse proxy %q: %w", s, err)
	}
	if host == "" {
		return ProxyEndpoint{}, fmt.Errorf("parse proxy %q: host is required", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ProxyEndpoint{}, fmt.Errorf("parse proxy %q: invalid port %q", s, portStr)
	}
	return ProxyEndpoint{Scheme: scheme, Host: host, Port: port}, nil
}

func (p ProxyEndpoint) scheme() string {
	if p.Scheme == "" {
		return "http"
	}
	return p.Scheme
}

// String renders host:port. Safe to log.
func (p ProxyEndpoint) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Server renders the value Chrome expects for --proxy-server.
func (p ProxyEndpoint) Server() string {
	return p.scheme() + "://" + p.String()
}

// URL returns the proxy URL with credentials embedded, for HTTP transports.
// Never log the result.
func (p ProxyEndpoint) URL(creds ProxyCredentials) *url.URL {
	u := &url.URL{Scheme: p.scheme(), Host: p.String()}
	if !creds.Empty() {
		u.User = url.UserPassword(creds.Username, creds.Password)
	}
	return u
}

// ProxyPool is a fixed ordered list of endpoints drawn round-robin. It is
// read-only after construction and safe for concurrent use.
type ProxyPool struct {
	endpoints []ProxyEndpoint
}

// NewProxyPool copies endpoints into a pool. An empty list is a configuration
// error.
func NewProxyPool(endpoints []ProxyEndpoint) (*ProxyPool, error) {
	if len(endpoints) == 0 {
		return nil, ErrEmptyProxyPool
	}
	return &ProxyPool{endpoints: append([]ProxyEndpoint(nil), endpoints...)}, nil
}

// Next returns the endpoint for the given attempt index (index mod length).
func (p *ProxyPool) Next(attempt int) ProxyEndpoint {
	n := len(p.endpoints)
	return p.endpoints[((attempt%n)+n)%n]
}

// Len returns the number of endpoints.
func (p *ProxyPool) Len() int {
	return len(p.endpoints)
}
