// internal/network/client.go
package network

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultMaxIdleConnsPerHost   = 8
	DefaultIdleConnTimeout       = 90 * time.Second
)

// ClientConfig configures the HTTP client used for media downloads.
type ClientConfig struct {
	// UserAgent is sent on every request that does not set its own. The media
	// CDN is friendlier to the same agent the browser session presents.
	UserAgent string
	// Referer, when set, is added to requests that lack one.
	Referer string
	// MaxConnsPerHost caps parallel connections to one host. Zero is unlimited.
	MaxConnsPerHost int
	// Transport overrides the base transport, mainly for tests.
	Transport http.RoundTripper
}

// NewHTTPTransport builds the base transport. Its own compression is off
// because the decoding transport above it negotiates and decodes.
func NewHTTPTransport(cfg ClientConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   DefaultDialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient returns a client whose transport chain is
// headers -> decoding -> base transport. It sets no overall Timeout;
// callers bound each request with a context.
func NewClient(cfg ClientConfig) *http.Client {
	base := cfg.Transport
	if base == nil {
		base = NewHTTPTransport(cfg)
	}
	return &http.Client{
		Transport: &headerTransport{
			next:      newDecodingTransport(base),
			userAgent: cfg.UserAgent,
			referer:   cfg.Referer,
		},
	}
}

type headerTransport struct {
	next      http.RoundTripper
	userAgent string
	referer   string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	needUA := t.userAgent != "" && req.Header.Get("User-Agent") == ""
	needRef := t.referer != "" && req.Header.Get("Referer") == ""
	if needUA || needRef {
		req = req.Clone(req.Context())
		if needUA {
			req.Header.Set("User-Agent", t.userAgent)
		}
		if needRef {
			req.Header.Set("Referer", t.referer)
		}
	}
	return t.next.RoundTrip(req)
}
