// Package fetch downloads key material from the key server.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout is the HTTP client timeout for a single fetch
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBytes caps the size of a downloaded payload
	DefaultMaxBytes = 16 << 20
	// DefaultUserAgent is sent with every request
	DefaultUserAgent = "keydist"
)

// InvalidURLError is returned when the key server URL cannot be requested
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid URL %q: %s", e.URL, e.Reason)
}

// TransportError covers DNS, connection, timeout and body read failures
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("URL error occurred: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	Code   int
	Reason string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error occurred: %d %s", e.Code, e.Reason)
}

// Fetcher performs single-shot GET requests against the key server.
// There is no retry; the next scheduled sync is the retry.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxBytes sets the payload size limit
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		f.maxBytes = n
	}
}

// New creates a new fetcher
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		userAgent: DefaultUserAgent,
		maxBytes:  DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL and returns the response body
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &TransportError{Err: fmt.Errorf("response body exceeds %d bytes", f.maxBytes)}
	}

	return body, nil
}

// ValidateURL checks that rawURL is an absolute http or https URL
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &InvalidURLError{URL: rawURL, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &InvalidURLError{URL: rawURL, Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &InvalidURLError{URL: rawURL, Reason: "missing host"}
	}
	return nil
}
