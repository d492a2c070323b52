package httpretry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		i := int(n) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		w.WriteHeader(statuses[i])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func fastClient() *Client {
	return New(nil, WithMaxRetries(2), WithBackoff(time.Millisecond, 5*time.Millisecond))
}

func TestRetriesTransientGET(t *testing.T) {
	srv, calls := newServer(t, http.StatusServiceUnavailable, http.StatusOK)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := fastClient().Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || atomic.LoadInt32(calls) != 2 {
		t.Errorf("status %d after %d calls", resp.StatusCode, *calls)
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	srv, calls := newServer(t, http.StatusBadGateway)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := fastClient().Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway || atomic.LoadInt32(calls) != 3 {
		t.Errorf("status %d after %d calls", resp.StatusCode, *calls)
	}
}

func TestDoesNotRetryClientErrorsOrPOST(t *testing.T) {
	srv, calls := newServer(t, http.StatusNotFound)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, _ := fastClient().Do(req)
	resp.Body.Close()
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("404 retried: %d calls", *calls)
	}

	srv2, calls2 := newServer(t, http.StatusServiceUnavailable)
	post, _ := http.NewRequest(http.MethodPost, srv2.URL, strings.NewReader("{}"))
	resp, _ = fastClient().Do(post)
	resp.Body.Close()
	if atomic.LoadInt32(calls2) != 1 {
		t.Errorf("POST retried: %d calls", *calls2)
	}
}

func TestStopsOnContextCancel(t *testing.T) {
	srv, _ := newServer(t, http.StatusServiceUnavailable)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if _, err := New(nil, WithBackoff(time.Second, time.Second)).Do(req); err == nil {
		t.Error("expected error for cancelled context")
	}
}
