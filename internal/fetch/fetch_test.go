package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ssh-ed25519 AAAA test\n"))
	}))
	defer srv.Close()

	body, err := New(WithUserAgent("keydist/test")).Fetch(context.Background(), srv.URL+"/keys.txt")
	require.NoError(t, err)

	assert.Equal(t, "ssh-ed25519 AAAA test\n", string(body))
	assert.Equal(t, "keydist/test", gotUA)
}

func TestFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
	assert.Equal(t, "Not Found", httpErr.Reason)
	assert.Equal(t, "HTTP error occurred: 404 Not Found", err.Error())
}

func TestFetch_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"ftp scheme", "ftp://example.com/keys"},
		{"no scheme", "example.com/keys"},
		{"missing host", "https://"},
		{"unparseable", "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Fetch(context.Background(), tt.url)

			var urlErr *InvalidURLError
			require.True(t, errors.As(err, &urlErr), "got %v", err)
			assert.Equal(t, tt.url, urlErr.URL)
		})
	}
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New().Fetch(context.Background(), url)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "got %v", err)
	assert.Error(t, transportErr.Unwrap())
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Fetch(ctx, srv.URL)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 128)))
	}))
	defer srv.Close()

	_, err := New(WithMaxBytes(64)).Fetch(context.Background(), srv.URL)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Contains(t, err.Error(), "exceeds 64 bytes")
}

func TestFetch_AcceptsAny2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNonAuthoritativeInfo)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	body, err := New().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "body", string(body))
}
