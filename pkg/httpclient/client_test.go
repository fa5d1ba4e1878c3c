package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		status int
		want   RetryStrategy
	}{
		{status: http.StatusTooManyRequests, want: SmartRetry},
		{status: http.StatusServiceUnavailable, want: SmartRetry},
		{status: http.StatusInternalServerError, want: ConservativeRetry},
		{status: http.StatusBadGateway, want: ConservativeRetry},
		{status: http.StatusBadRequest, want: NoRetry},
		{status: http.StatusUnauthorized, want: NoRetry},
		{status: http.StatusOK, want: NoRetry},
	}

	for _, tt := range tests {
		if got := DefaultRetryStrategy(tt.status); got != tt.want {
			t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestClient_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("retry-after", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(
		WithMaxRetries(2),
		WithBaseDelay(time.Millisecond),
	)

	req, _ := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader([]byte("{}")))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(WithMaxRetries(3), WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() should return an error for HTTP 400")
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retries)", calls.Load())
	}
}

func TestClient_ExhaustedBudgetReturnsRetryableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("retry-after", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(WithMaxRetries(1), WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err == nil {
		t.Fatal("Do() should fail after budget exhaustion")
	}
	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("error type = %T, want *RetryableError", err)
	}
	if retryErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", retryErr.StatusCode)
	}
}

func TestParseAnthropicHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after", "7")
	h.Set("anthropic-ratelimit-requests-remaining", "12")

	info := ParseAnthropicHeaders(h)
	if info.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", info.RetryAfter)
	}
	if info.RequestsRemaining != 12 {
		t.Errorf("RequestsRemaining = %d, want 12", info.RequestsRemaining)
	}
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	h.Set("x-ratelimit-reset-requests", "250ms")
	h.Set("x-ratelimit-remaining-requests", "99")

	info := ParseOpenAIHeaders(h)
	if info.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", info.RetryAfter)
	}
	if info.ResetTime == 0 {
		t.Error("ResetTime should be derived from the duration header")
	}
	if info.RequestsRemaining != 99 {
		t.Errorf("RequestsRemaining = %d, want 99", info.RequestsRemaining)
	}
}
