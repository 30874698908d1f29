package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testAdapter(opts Options) *Adapter {
	return NewAdapter(zerolog.Nop(), opts)
}

func TestFetchPagePaging(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page_size"); got != "2" {
			t.Errorf("expected page_size=2, got %q", got)
		}
		switch r.URL.Query().Get("page_token") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"posts":           []map[string]any{{"post_id": "1"}, {"post_id": "2"}},
				"next_page_token": "t2",
			})
		case "t2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"posts": []map[string]any{{"post_id": "3"}},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("page_token"))
		}
	}))
	defer server.Close()

	adapter := testAdapter(Options{PageSize: 2})

	first, err := adapter.FetchPage(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("first page failed: %v", err)
	}
	if len(first.Posts) != 2 || first.NextPageToken != "t2" {
		t.Fatalf("unexpected first page: %+v", first)
	}

	second, err := adapter.FetchPage(context.Background(), server.URL, first.NextPageToken)
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if len(second.Posts) != 1 || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func TestFetchPageRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"posts": []map[string]any{{"post_id": "1"}},
		})
	}))
	defer server.Close()

	adapter := testAdapter(Options{MaxRetries: 3, RetryBaseDelay: time.Millisecond})

	page, err := adapter.FetchPage(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("expected recovery after retries: %v", err)
	}
	if len(page.Posts) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestFetchPageAuthFailureIsImmediate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := testAdapter(Options{MaxRetries: 3, RetryBaseDelay: time.Millisecond})

	_, err := adapter.FetchPage(context.Background(), server.URL, "")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("auth failures must not retry, got %d attempts", calls.Load())
	}
}

func TestFetchPageNoContentMeansNoMoreData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	adapter := testAdapter(Options{})
	if _, err := adapter.FetchPage(context.Background(), server.URL, ""); !errors.Is(err, ErrNoMoreData) {
		t.Fatalf("expected ErrNoMoreData, got %v", err)
	}
}

func TestFetchPageEmptyBodyMeansNoMoreData(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"posts": []any{}})
	}))
	defer server.Close()

	adapter := testAdapter(Options{})
	if _, err := adapter.FetchPage(context.Background(), server.URL, ""); !errors.Is(err, ErrNoMoreData) {
		t.Fatalf("expected ErrNoMoreData, got %v", err)
	}
}

func TestFetchPageHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"posts": []map[string]any{{"post_id": "1"}},
		})
	}))
	defer server.Close()

	adapter := testAdapter(Options{MaxRetries: 1, RetryBaseDelay: time.Millisecond})
	page, err := adapter.FetchPage(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("expected recovery after rate limit: %v", err)
	}
	if len(page.Posts) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestBuildPageURLRejectsRelativeEndpoints(t *testing.T) {
	t.Parallel()

	if _, err := buildPageURL("/feed", "", 10); err == nil {
		t.Fatalf("relative endpoint must be rejected")
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if got := parseRetryAfter("7"); got != 7*time.Second {
		t.Fatalf("expected 7s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 2*time.Second {
		t.Fatalf("expected 2s default, got %s", got)
	}
	if got := parseRetryAfter("garbage"); got != 2*time.Second {
		t.Fatalf("expected 2s fallback, got %s", got)
	}
}
