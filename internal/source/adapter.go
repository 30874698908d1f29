package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoMoreData signals that the feed has no further pages.
var ErrNoMoreData = errors.New("no more data")

// ErrAuth is fatal for the current run of one source; callers must not retry.
var ErrAuth = errors.New("authentication rejected by feed")

// RateLimitedError carries the provider-signaled delay from a 429 response.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by feed, retry after %s", e.RetryAfter)
}

// Page is one fetched page of raw posts. Items stay as raw JSON; schema
// validation and normalization happen downstream so one malformed post
// never poisons its page.
type Page struct {
	Posts         []json.RawMessage
	NextPageToken string
}

// Options bounds the adapter's outbound behavior.
type Options struct {
	PageSize       int
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Adapter pulls raw posts from one feed endpoint at a time.
type Adapter struct {
	client *http.Client
	logger zerolog.Logger
	opts   Options
}

type feedResponse struct {
	Posts         []json.RawMessage `json:"posts"`
	NextPageToken string            `json:"next_page_token"`
}

func NewAdapter(logger zerolog.Logger, opts Options) *Adapter {
	if opts.PageSize <= 0 {
		opts.PageSize = 25
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}

	return &Adapter{
		client: &http.Client{Timeout: opts.RequestTimeout},
		logger: logger,
		opts:   opts,
	}
}

// FetchPage retrieves one page of posts identified by pageToken (empty for
// the first page). Transient failures retry with exponential backoff up to
// the configured attempt count; auth failures surface immediately as ErrAuth;
// a 429 waits out the provider's retry-after once per attempt.
func (a *Adapter) FetchPage(ctx context.Context, endpoint, pageToken string) (*Page, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("source adapter is not initialized")
	}

	requestURL, err := buildPageURL(endpoint, pageToken, a.opts.PageSize)
	if err != nil {
		return nil, fmt.Errorf("build feed URL: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(a.opts.RetryBaseDelay, attempt)
			a.logger.Debug().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying feed page")
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		page, err := a.fetchOnce(ctx, requestURL)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ErrAuth) || errors.Is(err, ErrNoMoreData) || errors.Is(err, context.Canceled) {
			return nil, err
		}

		var rateLimited *RateLimitedError
		if errors.As(err, &rateLimited) {
			if sleepErr := sleepCtx(ctx, rateLimited.RetryAfter); sleepErr != nil {
				return nil, sleepErr
			}
		}
		lastErr = err
	}

	return nil, fmt.Errorf("feed page failed after %d attempts: %w", a.opts.MaxRetries+1, lastErr)
}

func (a *Adapter) fetchOnce(ctx context.Context, requestURL string) (*Page, error) {
	requestCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("feed status %d: %w", resp.StatusCode, ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoMoreData
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed feedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	if len(parsed.Posts) == 0 && parsed.NextPageToken == "" {
		return nil, ErrNoMoreData
	}

	return &Page{
		Posts:         parsed.Posts,
		NextPageToken: parsed.NextPageToken,
	}, nil
}

func buildPageURL(endpoint, pageToken string, pageSize int) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("feed endpoint %q is not absolute", endpoint)
	}

	q := parsed.Query()
	q.Set("page_size", strconv.Itoa(pageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func parseRetryAfter(header string) time.Duration {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return 2 * time.Second
	}
	if seconds, err := strconv.Atoi(trimmed); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(trimmed); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 2 * time.Second
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
