package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bomcontrole-proxy/internal/config"
	"bomcontrole-proxy/internal/metrics"
)

func testConfig(timeoutSeconds int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 10,
		},
	}
}

func TestUpstreamClient_DoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(10), logger, nil)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/test", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_DoStream_PostBody(t *testing.T) {
	var gotBody string
	var gotLength int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotLength = r.ContentLength
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(10), logger, nil)

	header := http.Header{"Content-Length": {"13"}}
	body := io.NopCloser(strings.NewReader(`{"valor":100}`))
	resp, err := c.DoStream(context.Background(), http.MethodPost, srv.URL+"/Vendas", header, body)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if gotBody != `{"valor":100}` {
		t.Errorf("upstream body = %q", gotBody)
	}
	if gotLength != 13 {
		t.Errorf("upstream ContentLength = %d, want 13", gotLength)
	}
}

func TestUpstreamClient_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(10), logger, nil)

	resp, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/start", http.Header{}, nil)
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
}

func TestUpstreamClient_DoStream_Error(t *testing.T) {
	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(1), logger, m)

	_, err := c.DoStream(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for unreachable host, got nil")
	}

	families, gerr := m.Registry.Gather()
	if gerr != nil {
		t.Fatalf("Gather() error = %v", gerr)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "bomcontrole_proxy_upstream_errors_total" {
			found = len(f.GetMetric()) > 0
		}
	}
	if !found {
		t.Error("expected bomcontrole_proxy_upstream_errors_total to be recorded")
	}
}

func TestUpstreamClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(1), logger, nil)

	_, err := c.DoStream(context.Background(), http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected timeout error, got nil")
	}
	if code := ErrorCode(err); code != CodeTimeout {
		t.Errorf("ErrorCode() = %q, want %q", code, CodeTimeout)
	}
}

func TestUpstreamClient_DoStream_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		time.Sleep(5 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewUpstreamClient(testConfig(30), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.DoStream(ctx, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("DoStream() expected error for canceled context, got nil")
	}
	if code := ErrorCode(err); code != CodeCanceled {
		t.Errorf("ErrorCode() = %q, want %q", code, CodeCanceled)
	}
}
