package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/cache"
	"github.com/Dannydropz/phuketradar-sub003/internal/cluster"
	"github.com/Dannydropz/phuketradar-sub003/internal/config"
	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
	"github.com/Dannydropz/phuketradar-sub003/internal/ingest"
	"github.com/Dannydropz/phuketradar-sub003/internal/keylock"
	"github.com/Dannydropz/phuketradar-sub003/internal/publish"
	"github.com/Dannydropz/phuketradar-sub003/internal/schema"
	"github.com/Dannydropz/phuketradar-sub003/internal/similarity"
	"github.com/Dannydropz/phuketradar-sub003/internal/source"
)

// Pipeline wires the full ingest cycle: pull feeds, validate and normalize
// posts, gate exact duplicates, cluster survivors into stories, and push
// fresh articles out to the configured channels.
type Pipeline struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *db.Pool
	adapter    *source.Adapter
	normalizer *ingest.Normalizer
	clusters   *cluster.Engine
	publisher  *publish.Orchestrator
}

// NewPipeline assembles a pipeline from config. A nil channel list disables
// publication; ingest and clustering still run.
func NewPipeline(cfg *config.Config, pool *db.Pool, channels []publish.Channel, articleCache *cache.Cache, logger zerolog.Logger) *Pipeline {
	adapter := source.NewAdapter(logger, source.Options{
		PageSize:       cfg.SourcePageSize,
		RequestTimeout: cfg.SourceRequestTimeout,
		MaxRetries:     cfg.SourceMaxRetries,
		RetryBaseDelay: cfg.SourceRetryBaseDelay,
	})

	embedder := similarity.NewClient(similarity.ClientOptions{
		Endpoint:       cfg.EmbeddingEndpoint,
		ModelName:      cfg.EmbeddingModel,
		RequestTimeout: cfg.EmbeddingTimeout,
	})
	related := similarity.NewEngine(embedder, pool, logger, similarity.Options{
		TopK:          cfg.SimilarityTopK,
		MinScore:      cfg.MinSimilarity,
		RecencyWindow: cfg.RecencyWindow,
	})

	var clusterInvalidator cluster.Invalidator
	if articleCache != nil {
		clusterInvalidator = articleCache
	}
	clusters := cluster.NewEngine(related, pool, keylock.NewTable(), clusterInvalidator, logger, cluster.Thresholds{
		SameEvent: cfg.SameEventScore,
		SameStory: cfg.SameStoryScore,
	})

	var publisher *publish.Orchestrator
	if len(channels) > 0 {
		var invalidator publish.Invalidator
		if articleCache != nil {
			invalidator = articleCache
		}
		publisher = publish.NewOrchestrator(pool, channels, invalidator, logger, publish.Options{
			MaxAttempts:  cfg.PublishMaxAttempts,
			RetryDelay:   cfg.PublishRetryDelay,
			PollInterval: cfg.PublishPollInterval,
			MaxPolls:     cfg.PublishMaxPolls,
			SiteBaseURL:  cfg.SiteBaseURL,
		})
	}

	return &Pipeline{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		adapter:    adapter,
		normalizer: ingest.NewNormalizer(),
		clusters:   clusters,
		publisher:  publisher,
	}
}

// RunOnce pulls every configured source through a bounded worker pool. The
// run time budget stops feed pulling; publication jobs already started are
// allowed to finish on the parent context.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	sources := p.cfg.SourceList()
	if len(sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	fetchCtx, cancelFetch := context.WithTimeout(ctx, p.cfg.RunTimeBudget)
	defer cancelFetch()

	workers := p.cfg.FetchWorkers
	if workers > len(sources) {
		workers = len(sources)
	}

	jobs := make(chan config.SourceSpec)
	errs := make(chan error, len(sources))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for spec := range jobs {
				if err := p.ProcessSource(fetchCtx, ctx, spec); err != nil {
					errs <- fmt.Errorf("source %s: %w", spec.Name, err)
				}
			}
		}()
	}

	for _, spec := range sources {
		jobs <- spec
	}
	close(jobs)
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	return nil
}

// ProcessSource pulls one feed page by page and runs every post through the
// ingest gate. fetchCtx bounds the pulling; publishCtx outlives the budget so
// in-flight channel jobs can finish.
func (p *Pipeline) ProcessSource(fetchCtx, publishCtx context.Context, spec config.SourceSpec) error {
	run, err := p.pool.StartFetchRun(fetchCtx, spec.Name, globaltime.UTC())
	if err != nil {
		return err
	}

	runErr := p.pullPages(fetchCtx, publishCtx, spec, run)

	status := "completed"
	if runErr != nil {
		status = "failed"
	}
	if finishErr := p.pool.FinishFetchRun(publishCtx, run, status, globaltime.UTC(), runErr); finishErr != nil {
		p.logger.Error().Err(finishErr).Str("source", spec.Name).Msg("failed to finish fetch run")
	}

	p.logger.Info().
		Str("source", spec.Name).
		Str("status", status).
		Int("pages", run.PagesFetched).
		Int("posts", run.PostsFetched).
		Int("inserted", run.PostsInserted).
		Int("exact_dupes", run.ExactDupes).
		Int("malformed", run.Malformed).
		Msg("fetch run finished")

	return runErr
}

func (p *Pipeline) pullPages(fetchCtx, publishCtx context.Context, spec config.SourceSpec, run *db.FetchRun) error {
	pageToken := ""
	for pageIndex := 0; pageIndex < p.cfg.SourceMaxPages; pageIndex++ {
		if fetchCtx.Err() != nil {
			p.logger.Warn().Str("source", spec.Name).Msg("run budget exhausted, stopping feed pull")
			return nil
		}

		page, err := p.adapter.FetchPage(fetchCtx, spec.Endpoint, pageToken)
		if err != nil {
			if errors.Is(err, source.ErrNoMoreData) {
				return nil
			}
			return fmt.Errorf("fetch page %d: %w", pageIndex+1, err)
		}

		run.PagesFetched++
		run.PostsFetched += len(page.Posts)

		for _, raw := range page.Posts {
			p.processPost(fetchCtx, publishCtx, spec, run, raw)
		}

		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
	return nil
}

// processPost runs one raw post through validate → normalize → exact dedup →
// cluster → publish. Per-post failures are counted and logged, never fatal to
// the run.
func (p *Pipeline) processPost(fetchCtx, publishCtx context.Context, spec config.SourceSpec, run *db.FetchRun, raw []byte) {
	post, err := schema.ValidateSocialPostPayload(raw)
	if err != nil {
		run.Malformed++
		p.logger.Warn().Err(err).Str("source", spec.Name).Msg("dropping malformed post")
		return
	}

	candidate, err := p.normalizer.Normalize(spec.Name, post)
	if err != nil {
		run.Malformed++
		p.logger.Warn().Err(err).Str("source", spec.Name).Str("post_id", post.PostID).Msg("dropping unnormalizable post")
		return
	}
	if candidate.HasMultipleImages() {
		run.MultiImage++
	}

	since := globaltime.UTC().Add(-p.cfg.ExactDupWindow)
	seen, err := p.pool.SeenContentHash(fetchCtx, spec.Name, candidate.ContentHash, since)
	if err != nil {
		p.logger.Error().Err(err).Str("source", spec.Name).Str("post_id", post.PostID).Msg("exact dedup check failed")
		return
	}
	if seen {
		run.ExactDupes++
		return
	}
	if err := p.pool.RecordIngestedPost(fetchCtx, &db.IngestedPost{
		Source:       spec.Name,
		SourcePostID: candidate.SourcePostID,
		ContentHash:  candidate.ContentHash,
		IngestedAt:   globaltime.UTC(),
	}); err != nil {
		p.logger.Error().Err(err).Str("source", spec.Name).Str("post_id", post.PostID).Msg("failed to record ingested post")
		return
	}

	outcome, err := p.clusters.Resolve(fetchCtx, candidate)
	if err != nil {
		p.logger.Error().Err(err).Str("source", spec.Name).Str("post_id", post.PostID).Msg("clustering failed")
		return
	}

	switch outcome.State {
	case cluster.StateRejectedDuplicate:
		p.logger.Info().
			Str("source", spec.Name).
			Str("post_id", post.PostID).
			Float64("score", derefFloat(outcome.BestScore)).
			Msg("rejected near-duplicate")
	case cluster.StateNewStory, cluster.StateContinuation:
		run.PostsInserted++
		if outcome.Article != nil {
			p.publishArticle(publishCtx, outcome.Article)
		}
	}
}

// publishArticle pushes one stored article to every configured channel. Each
// channel gets its own budget; one channel failing never blocks another.
func (p *Pipeline) publishArticle(ctx context.Context, article *db.Article) {
	if p.publisher == nil {
		return
	}

	for _, name := range p.publisher.Channels() {
		channelCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishChannelBudget)
		_, err := p.publisher.Publish(channelCtx, article.ArticleID, name)
		cancel()
		if err != nil {
			if errors.Is(err, publish.ErrAlreadyInFlight) {
				continue
			}
			p.logger.Error().Err(err).
				Int64("article_id", article.ArticleID).
				Str("channel", name).
				Msg("publication failed")
		}
	}
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
