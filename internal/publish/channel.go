package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Job statuses reported by channel media and publish polls.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusRunning  JobStatus = "in_progress"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
)

// ErrAuth marks a 401/403 from a channel: fatal for that channel, never
// retried blindly.
var ErrAuth = errors.New("channel authentication rejected")

// ErrAlreadyInFlight is returned when a publish for the same (article,
// channel) pair is still pending; the second trigger is coalesced, not queued.
var ErrAlreadyInFlight = errors.New("publish already in flight for this article and channel")

// Post is the channel-independent publish payload. Each channel serializes
// it into its own wire shape.
type Post struct {
	ArticleID int64
	Headline  string
	Excerpt   string
	LinkURL   string
	ImageURLs []string
	VideoURL  string
	MediaRef  string
}

// Channel is one external publication target. Channels differ in wire shape
// and in whether media must be hosted with the provider before submission;
// the orchestration state machine stays the same.
type Channel interface {
	Name() string

	// RequiresHostedMedia reports whether media must be uploaded and polled
	// to completion before SubmitPost.
	RequiresHostedMedia() bool

	// UploadMedia starts an async media-upload-from-url job.
	UploadMedia(ctx context.Context, mediaURL string) (jobID string, err error)

	// MediaStatus polls an upload job; ref is the hosted media reference
	// once the job completes.
	MediaStatus(ctx context.Context, jobID string) (status JobStatus, ref string, err error)

	// SubmitPost submits the post body and returns the remote post id.
	SubmitPost(ctx context.Context, post Post) (remoteID string, err error)

	// PublishStatus polls for publish completion. Synchronous channels
	// return StatusComplete immediately.
	PublishStatus(ctx context.Context, remoteID string) (JobStatus, error)
}

// transientError wraps failures worth retrying: 5xx responses and transport
// timeouts.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func markTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// classifyStatus maps an HTTP response code onto the error taxonomy.
func classifyStatus(code int, body string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("channel status %d: %w", code, ErrAuth)
	case code >= 500 || code == http.StatusTooManyRequests:
		return markTransient(fmt.Errorf("channel status %d: %s", code, body))
	default:
		return fmt.Errorf("channel status %d: %s", code, body)
	}
}
