package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
	"github.com/Dannydropz/phuketradar-sub003/internal/headline"
)

// Terminal job states persisted to publication records.
const (
	OutcomePublished       = "published"
	OutcomeFailedPermanent = "failed-permanent"
)

// Media upload states.
const (
	MediaPending  = "pending"
	MediaUploaded = "uploaded"
	MediaFailed   = "failed"
	MediaSkipped  = "skipped"
)

// Store is the slice of persistence the orchestrator needs. The article
// reference is by value: a missing article is a fatal job error, not a
// cascade.
type Store interface {
	GetArticleByID(ctx context.Context, id int64) (*db.Article, error)
	InsertPublicationRecord(ctx context.Context, record *db.PublicationRecord) error
}

// Invalidator drops cached read views after a successful publish.
type Invalidator interface {
	InvalidatePrefix(prefix string)
}

// Options bounds retries and polling.
type Options struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	PollInterval time.Duration
	MaxPolls     int
	SiteBaseURL  string
}

// Orchestrator pushes approved articles to external channels. At most one
// publish per (article, channel) pair is in flight at a time.
type Orchestrator struct {
	store    Store
	channels map[string]Channel
	cache    Invalidator
	logger   zerolog.Logger
	opts     Options

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewOrchestrator(store Store, channels []Channel, cache Invalidator, logger zerolog.Logger, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 20
	}

	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		byName[ch.Name()] = ch
	}

	return &Orchestrator{
		store:    store,
		channels: byName,
		cache:    cache,
		logger:   logger,
		opts:     opts,
		inflight: map[string]struct{}{},
	}
}

// Channels lists the configured channel names.
func (o *Orchestrator) Channels() []string {
	names := make([]string, 0, len(o.channels))
	for name := range o.channels {
		names = append(names, name)
	}
	return names
}

// Publish runs the upload → submit → poll sequence for one article on one
// channel and persists the terminal outcome. A second trigger for the same
// pair while this one is pending returns ErrAlreadyInFlight.
func (o *Orchestrator) Publish(ctx context.Context, articleID int64, channelName string) (*db.PublicationRecord, error) {
	if o == nil || o.store == nil {
		return nil, fmt.Errorf("publication orchestrator is not initialized")
	}

	ch, ok := o.channels[channelName]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channelName)
	}

	key := fmt.Sprintf("%d|%s", articleID, channelName)
	o.mu.Lock()
	if _, pending := o.inflight[key]; pending {
		o.mu.Unlock()
		return nil, ErrAlreadyInFlight
	}
	o.inflight[key] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, key)
		o.mu.Unlock()
	}()

	record := &db.PublicationRecord{
		ArticleID:  articleID,
		Channel:    channelName,
		Status:     OutcomeFailedPermanent,
		MediaState: MediaPending,
		StartedAt:  globaltime.UTC(),
	}

	runErr := o.run(ctx, ch, articleID, record)
	finishedAt := globaltime.UTC()
	record.FinishedAt = &finishedAt
	if runErr != nil {
		message := runErr.Error()
		record.LastError = &message
	}

	if err := o.store.InsertPublicationRecord(ctx, record); err != nil {
		o.logger.Error().Err(err).
			Int64("article_id", articleID).
			Str("channel", channelName).
			Msg("failed to persist publication record")
	}

	if runErr != nil {
		return record, runErr
	}

	if o.cache != nil {
		o.cache.InvalidatePrefix("articles:")
		o.cache.InvalidatePrefix("trending:")
	}
	o.logger.Info().
		Int64("article_id", articleID).
		Str("channel", channelName).
		Str("remote_post_id", derefString(record.RemotePostID)).
		Msg("article published to channel")
	return record, nil
}

func (o *Orchestrator) run(ctx context.Context, ch Channel, articleID int64, record *db.PublicationRecord) error {
	article, err := o.store.GetArticleByID(ctx, articleID)
	if err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("article %d no longer exists: %w", articleID, err)
		}
		return err
	}

	post := o.buildPost(article)

	if ch.RequiresHostedMedia() && hasMedia(post) {
		ref, err := o.hostMedia(ctx, ch, post, record)
		if err != nil {
			record.MediaState = MediaFailed
			return err
		}
		record.MediaState = MediaUploaded
		post.MediaRef = ref
	} else {
		record.MediaState = MediaSkipped
	}

	var remoteID string
	err = o.withRetry(ctx, record, func() error {
		var submitErr error
		remoteID, submitErr = ch.SubmitPost(ctx, post)
		return submitErr
	})
	if err != nil {
		return fmt.Errorf("submit post to %s: %w", ch.Name(), err)
	}
	record.RemotePostID = &remoteID

	status, err := o.pollUntilTerminal(ctx, record, func(pollCtx context.Context) (JobStatus, string, error) {
		s, pollErr := ch.PublishStatus(pollCtx, remoteID)
		return s, "", pollErr
	})
	if err != nil {
		return fmt.Errorf("poll publish status on %s: %w", ch.Name(), err)
	}
	if status != StatusComplete {
		return fmt.Errorf("publish on %s did not complete: last status %q", ch.Name(), status)
	}

	record.Status = OutcomePublished
	return nil
}

// hostMedia uploads the richest media asset and polls the upload job to a
// terminal state within the poll budget.
func (o *Orchestrator) hostMedia(ctx context.Context, ch Channel, post Post, record *db.PublicationRecord) (string, error) {
	mediaURL := post.VideoURL
	if mediaURL == "" && len(post.ImageURLs) > 0 {
		mediaURL = post.ImageURLs[0]
	}

	var jobID string
	err := o.withRetry(ctx, record, func() error {
		var uploadErr error
		jobID, uploadErr = ch.UploadMedia(ctx, mediaURL)
		return uploadErr
	})
	if err != nil {
		return "", fmt.Errorf("upload media to %s: %w", ch.Name(), err)
	}

	status, ref, err := o.pollMedia(ctx, record, ch, jobID)
	if err != nil {
		return "", fmt.Errorf("poll media job on %s: %w", ch.Name(), err)
	}
	if status != StatusComplete {
		return "", fmt.Errorf("media job %q on %s did not complete: last status %q", jobID, ch.Name(), status)
	}
	return ref, nil
}

func (o *Orchestrator) pollMedia(ctx context.Context, record *db.PublicationRecord, ch Channel, jobID string) (JobStatus, string, error) {
	return o.pollUntilTerminalRef(ctx, record, func(pollCtx context.Context) (JobStatus, string, error) {
		return ch.MediaStatus(pollCtx, jobID)
	})
}

func (o *Orchestrator) pollUntilTerminal(ctx context.Context, record *db.PublicationRecord, poll func(context.Context) (JobStatus, string, error)) (JobStatus, error) {
	status, _, err := o.pollUntilTerminalRef(ctx, record, poll)
	return status, err
}

// pollUntilTerminalRef polls up to MaxPolls times at PollInterval. The last
// observed status is recorded even when the budget runs out, so a job that
// never terminates is reported as failed with its final status, never left
// pending forever.
func (o *Orchestrator) pollUntilTerminalRef(ctx context.Context, record *db.PublicationRecord, poll func(context.Context) (JobStatus, string, error)) (JobStatus, string, error) {
	last := StatusPending
	for i := 0; i < o.opts.MaxPolls; i++ {
		status, ref, err := poll(ctx)
		if err != nil {
			if IsTransient(err) {
				recordStatus(record, string(last))
				if sleepErr := sleepCtx(ctx, o.opts.PollInterval); sleepErr != nil {
					return last, "", sleepErr
				}
				continue
			}
			return StatusFailed, "", err
		}

		last = status
		recordStatus(record, string(status))
		if status == StatusComplete || status == StatusFailed {
			return status, ref, nil
		}
		if i < o.opts.MaxPolls-1 {
			if err := sleepCtx(ctx, o.opts.PollInterval); err != nil {
				return last, "", err
			}
		}
	}
	return last, "", nil
}

// withRetry runs step with backoff on transient failures. Auth errors and
// other permanent failures surface immediately.
func (o *Orchestrator) withRetry(ctx context.Context, record *db.PublicationRecord, step func() error) error {
	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		record.Attempts++
		err := step()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrAuth) || !IsTransient(err) {
			return err
		}
		lastErr = err
		if attempt < o.opts.MaxAttempts {
			if sleepErr := sleepCtx(ctx, o.opts.RetryDelay*time.Duration(attempt)); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return fmt.Errorf("step failed after %d attempts: %w", o.opts.MaxAttempts, lastErr)
}

func (o *Orchestrator) buildPost(article *db.Article) Post {
	assets := headline.Assets{
		HasVideo:          article.HasVideo,
		HasCCTV:           article.HasCCTV,
		HasMultipleImages: article.HasMultipleImages(),
		InterestScore:     article.InterestScore,
	}

	post := Post{
		ArticleID: article.ArticleID,
		Headline:  headline.Headline(article.Title, assets),
		Excerpt:   article.Excerpt,
	}
	if base := strings.TrimRight(o.opts.SiteBaseURL, "/"); base != "" {
		post.LinkURL = base + "/articles/" + article.Slug
	}
	if article.ImageURLs != nil {
		for _, line := range strings.Split(*article.ImageURLs, "\n") {
			if u := strings.TrimSpace(line); u != "" {
				post.ImageURLs = append(post.ImageURLs, u)
			}
		}
	}
	if article.VideoURL != nil {
		post.VideoURL = strings.TrimSpace(*article.VideoURL)
	}
	return post
}

func hasMedia(post Post) bool {
	return post.VideoURL != "" || len(post.ImageURLs) > 0
}

func recordStatus(record *db.PublicationRecord, status string) {
	if record == nil || status == "" {
		return
	}
	s := status
	record.LastStatus = &s
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

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
