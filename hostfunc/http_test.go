package hostfunc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPBlockedWhenNoHosts(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{})
	_, err := fn(context.Background(), map[string]any{"url": "https://example.com"})
	require.ErrorIs(t, err, ErrHTTPDisabled)
}

func TestHTTPHostAllowlist(t *testing.T) {
	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"allowed.com"}})

	tests := []struct {
		name string
		url  string
	}{
		{"unlisted host", "https://evil.com"},
		{"query param bypass", "https://evil.com/?x=allowed.com"},
		{"suffix bypass", "https://allowed.com.evil.com/"},
		{"userinfo bypass", "https://allowed.com@evil.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fn(context.Background(), map[string]any{"url": tt.url})
			require.ErrorIs(t, err, ErrHostNotAllowed)
		})
	}
}

func TestHTTPRejectsBadInput(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"example.com"}, MaxURLLength: 40})
	ctx := context.Background()

	_, err := h.Request(ctx, map[string]any{})
	require.ErrorIs(t, err, ErrArgument)

	_, err = h.Request(ctx, map[string]any{"url": "ftp://example.com"})
	require.ErrorIs(t, err, ErrArgument)

	_, err = h.Request(ctx, map[string]any{"url": "https://example.com", "method": "TRACE"})
	require.ErrorIs(t, err, ErrArgument)

	_, err = h.Request(ctx, map[string]any{"url": "https://example.com/" + strings.Repeat("a", 40)})
	require.ErrorIs(t, err, ErrLimit)
}

func TestHTTPRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Token", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	result, err := h.Request(context.Background(), map[string]any{
		"method":  "post",
		"url":     server.URL,
		"body":    `{"ok":true}`,
		"headers": map[string]any{"X-Token": "secret"},
	})
	require.NoError(t, err)

	data := result.(map[string]any)
	require.Equal(t, http.StatusCreated, data["status"])
	require.Equal(t, `{"ok":true}`, data["body"])

	headers := data["headers"].(map[string]any)
	require.Equal(t, "POST", headers["X-Method"])
	require.Equal(t, "secret", headers["X-Token"])
}

func TestHTTPGetDoesNotMutateArgs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Method))
	}))
	defer server.Close()

	fn := NewHTTPGet(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	args := map[string]any{"url": server.URL, "method": "DELETE"}

	result, err := fn(context.Background(), args)
	require.NoError(t, err)
	require.Equal(t, "GET", result.(map[string]any)["body"])
	require.Equal(t, "DELETE", args["method"])
}

func TestHTTPResponseTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}, MaxBodySize: 10})
	result, err := h.Request(context.Background(), map[string]any{"url": server.URL})
	require.NoError(t, err)
	data := result.(map[string]any)
	require.Len(t, data["body"], 10)
	require.Equal(t, true, data["truncated"])
}

func TestHTTPResponseFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.Write([]byte(`{"n":12345678901234567890,"tags":["x"]}`))
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	ctx := context.Background()

	result, err := h.Request(ctx, map[string]any{"url": server.URL})
	require.NoError(t, err)
	data := result.(map[string]any)
	require.Equal(t, true, data["ok"])
	require.Equal(t, false, data["truncated"])
	require.Equal(t, map[string]any{
		"n":    json.Number("12345678901234567890"),
		"tags": []any{"x"},
	}, data["json"])
	require.Equal(t, "a, b", data["headers"].(map[string]any)["X-Multi"])

	result, err = h.Request(ctx, map[string]any{"url": server.URL + "/missing"})
	require.NoError(t, err)
	data = result.(map[string]any)
	require.Equal(t, http.StatusNotFound, data["status"])
	require.Equal(t, false, data["ok"])
	require.NotContains(t, data, "json")
}

func TestHTTPRedirectChecksAllowlist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/away":
			http.Redirect(w, r, "http://evil.com/", http.StatusFound)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		default:
			w.Write([]byte("landed"))
		}
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	ctx := context.Background()

	_, err := h.Request(ctx, map[string]any{"url": server.URL + "/away"})
	require.ErrorIs(t, err, ErrHostNotAllowed)

	_, err = h.Request(ctx, map[string]any{"url": server.URL + "/loop"})
	require.ErrorIs(t, err, ErrLimit)
}

func TestHTTPTimeouts(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})

	t.Run("timeout argument", func(t *testing.T) {
		start := time.Now()
		_, err := h.Request(context.Background(), map[string]any{"url": server.URL, "timeout": 0.1})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("caller deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := h.Request(ctx, map[string]any{"url": server.URL})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("bad timeout", func(t *testing.T) {
		_, err := h.Request(context.Background(), map[string]any{"url": server.URL, "timeout": "soon"})
		require.ErrorIs(t, err, ErrArgument)
	})
}

func TestHTTPHeadersMustBeStrings(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"example.com"}})
	_, err := h.Request(context.Background(), map[string]any{
		"url":     "https://example.com",
		"headers": map[string]any{"X-Count": int64(1)},
	})
	require.ErrorIs(t, err, ErrArgument)
}
