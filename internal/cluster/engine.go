package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
	"github.com/Dannydropz/phuketradar-sub003/internal/ingest"
	"github.com/Dannydropz/phuketradar-sub003/internal/keylock"
	"github.com/Dannydropz/phuketradar-sub003/internal/similarity"
)

// Candidate states. PENDING is implicit; Resolve always lands on a terminal.
const (
	StateNewStory          = "new_story"
	StateContinuation      = "continuation"
	StateRejectedDuplicate = "rejected_duplicate"
)

// Related abstracts the similarity lookup for tests.
type Related interface {
	FindRelated(ctx context.Context, candidate *ingest.Candidate) ([]similarity.Match, []float64, error)
}

// Store is the slice of the article store the clustering engine mutates.
type Store interface {
	CreateArticle(ctx context.Context, article *db.Article) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	PromoteToParent(ctx context.Context, articleID int64, seriesID, seriesTitle string) (bool, error)
	SeriesIDOf(ctx context.Context, articleID int64) (*string, error)
	SeriesParent(ctx context.Context, seriesID string) (*db.Article, error)
	GetArticleByID(ctx context.Context, id int64) (*db.Article, error)
	InsertClusterDecision(ctx context.Context, decision *db.ClusterDecision) error
}

// Invalidator drops cached read views after the engine mutates the article
// store. A nil invalidator disables the hook (fetch-only deployments).
type Invalidator interface {
	InvalidatePrefix(prefix string)
}

// Thresholds split the similarity range into duplicate / continuation / new.
type Thresholds struct {
	SameEvent float64
	SameStory float64
}

// Outcome is the terminal result for one candidate.
type Outcome struct {
	State            string
	Article          *db.Article
	MatchedArticleID *int64
	BestScore        *float64
	SeriesID         *string
	Degraded         bool
}

// Engine decides new-story vs continuation vs duplicate and maintains the
// parent/child series graph.
type Engine struct {
	related    Related
	store      Store
	locks      *keylock.Table
	cache      Invalidator
	logger     zerolog.Logger
	thresholds Thresholds
}

func NewEngine(related Related, store Store, locks *keylock.Table, cache Invalidator, logger zerolog.Logger, thresholds Thresholds) *Engine {
	if thresholds.SameEvent <= 0 {
		thresholds.SameEvent = 0.90
	}
	if thresholds.SameStory <= 0 {
		thresholds.SameStory = 0.70
	}
	if locks == nil {
		locks = keylock.NewTable()
	}

	return &Engine{
		related:    related,
		store:      store,
		locks:      locks,
		cache:      cache,
		logger:     logger,
		thresholds: thresholds,
	}
}

// invalidateViews drops the cached list and trending views after an article
// write so readers in the same process never serve a stale window.
func (e *Engine) invalidateViews() {
	if e.cache == nil {
		return
	}
	e.cache.InvalidatePrefix("articles:")
	e.cache.InvalidatePrefix("trending:")
}

// Resolve runs the clustering state machine for one candidate. A similarity
// outage degrades to a new story rather than blocking ingestion.
func (e *Engine) Resolve(ctx context.Context, candidate *ingest.Candidate) (*Outcome, error) {
	if e == nil || e.related == nil || e.store == nil {
		return nil, fmt.Errorf("cluster engine is not initialized")
	}
	if candidate == nil {
		return nil, fmt.Errorf("candidate is nil")
	}

	matches, fingerprint, err := e.related.FindRelated(ctx, candidate)
	if err != nil {
		if !errors.Is(err, similarity.ErrDegraded) {
			return nil, err
		}
		e.logger.Warn().
			Err(err).
			Str("source", candidate.Source).
			Str("post_id", candidate.SourcePostID).
			Msg("similarity degraded, storing candidate as new story")
		return e.storeNewStory(ctx, candidate, nil, nil, true)
	}

	if len(matches) == 0 {
		return e.storeNewStory(ctx, candidate, fingerprint, nil, false)
	}

	top := matches[0]
	switch {
	case top.Score >= e.thresholds.SameEvent:
		return e.rejectDuplicate(ctx, candidate, top)
	case top.Score >= e.thresholds.SameStory:
		allowed, err := e.autoMatchAllowed(ctx, top)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return e.storeNewStory(ctx, candidate, fingerprint, &top, false)
		}
		return e.attachContinuation(ctx, candidate, fingerprint, top)
	default:
		return e.storeNewStory(ctx, candidate, fingerprint, &top, false)
	}
}

// autoMatchAllowed consults the series parent when the match already belongs
// to a series, otherwise the matched article's own switch.
func (e *Engine) autoMatchAllowed(ctx context.Context, match similarity.Match) (bool, error) {
	if match.SeriesID == nil {
		return match.AutoMatchEnabled, nil
	}
	parent, err := e.store.SeriesParent(ctx, *match.SeriesID)
	if err != nil {
		if db.IsNotFound(err) {
			return match.AutoMatchEnabled, nil
		}
		return false, fmt.Errorf("load series parent: %w", err)
	}
	return parent.AutoMatchEnabled, nil
}

func (e *Engine) rejectDuplicate(ctx context.Context, candidate *ingest.Candidate, top similarity.Match) (*Outcome, error) {
	outcome := &Outcome{
		State:            StateRejectedDuplicate,
		MatchedArticleID: &top.ArticleID,
		BestScore:        &top.Score,
	}
	if err := e.recordDecision(ctx, candidate, outcome); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("source", candidate.Source).
		Str("post_id", candidate.SourcePostID).
		Int64("matched_article_id", top.ArticleID).
		Float64("score", top.Score).
		Msg("candidate rejected as duplicate")
	return outcome, nil
}

// attachContinuation serializes the promote-or-attach step on the matched
// article (or its series once assigned) so racing candidates cannot fork two
// series off one parent.
func (e *Engine) attachContinuation(ctx context.Context, candidate *ingest.Candidate, fingerprint []float64, top similarity.Match) (*Outcome, error) {
	lockKey := "article:" + fmt.Sprint(top.ArticleID)
	if top.SeriesID != nil {
		lockKey = "series:" + *top.SeriesID
	}
	release := e.locks.Acquire(lockKey)
	defer release()

	seriesID, err := e.store.SeriesIDOf(ctx, top.ArticleID)
	if err != nil {
		return nil, err
	}

	if seriesID == nil {
		matched, err := e.store.GetArticleByID(ctx, top.ArticleID)
		if err != nil {
			return nil, err
		}
		newSeriesID := uuid.NewString()
		promoted, err := e.store.PromoteToParent(ctx, top.ArticleID, newSeriesID, seriesTitle(matched.Title))
		if err != nil {
			return nil, err
		}
		if promoted {
			seriesID = &newSeriesID
		} else {
			// Lost the storage-level race; adopt the winner's series.
			seriesID, err = e.store.SeriesIDOf(ctx, top.ArticleID)
			if err != nil {
				return nil, err
			}
			if seriesID == nil {
				return nil, fmt.Errorf("article %d lost promotion race but has no series id", top.ArticleID)
			}
		}
	}

	article, err := e.buildArticle(ctx, candidate, fingerprint)
	if err != nil {
		return nil, err
	}
	article.SeriesID = seriesID
	article.IsDeveloping = true

	if err := e.store.CreateArticle(ctx, article); err != nil {
		return nil, err
	}
	e.invalidateViews()

	outcome := &Outcome{
		State:            StateContinuation,
		Article:          article,
		MatchedArticleID: &top.ArticleID,
		BestScore:        &top.Score,
		SeriesID:         seriesID,
	}
	if err := e.recordDecision(ctx, candidate, outcome); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("source", candidate.Source).
		Str("post_id", candidate.SourcePostID).
		Str("series_id", *seriesID).
		Float64("score", top.Score).
		Msg("candidate attached as continuation")
	return outcome, nil
}

func (e *Engine) storeNewStory(ctx context.Context, candidate *ingest.Candidate, fingerprint []float64, best *similarity.Match, degraded bool) (*Outcome, error) {
	article, err := e.buildArticle(ctx, candidate, fingerprint)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateArticle(ctx, article); err != nil {
		return nil, err
	}
	e.invalidateViews()

	outcome := &Outcome{
		State:    StateNewStory,
		Article:  article,
		Degraded: degraded,
	}
	if best != nil {
		outcome.MatchedArticleID = &best.ArticleID
		outcome.BestScore = &best.Score
	}
	if err := e.recordDecision(ctx, candidate, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (e *Engine) buildArticle(ctx context.Context, candidate *ingest.Candidate, fingerprint []float64) (*db.Article, error) {
	slug, err := e.uniqueSlug(ctx, candidate.Title, candidate.SourcePostID)
	if err != nil {
		return nil, err
	}

	now := globaltime.UTC()
	article := &db.Article{
		ArticleUUID:      uuid.NewString(),
		Slug:             slug,
		Title:            candidate.Title,
		Content:          candidate.CleanText,
		Excerpt:          candidate.Excerpt,
		Category:         candidate.Category,
		Language:         orDefault(candidate.Language, "und"),
		Published:        true,
		PublishedAt:      &now,
		InterestScore:    scoreInterest(candidate),
		AutoMatchEnabled: true,
		HasVideo:         candidate.HasVideo(),
		HasCCTV:          candidate.HasCCTV,
		ImageCount:       len(candidate.ImageURLs),
		Source:           candidate.Source,
		SourcePostID:     candidate.SourcePostID,
		ContentHash:      candidate.ContentHash,
	}
	if len(candidate.ImageURLs) > 0 {
		joined := strings.Join(candidate.ImageURLs, "\n")
		article.ImageURLs = &joined
	}
	if candidate.VideoURL != "" {
		videoURL := candidate.VideoURL
		article.VideoURL = &videoURL
	}
	if len(fingerprint) > 0 {
		encoded, err := similarity.EncodeFingerprint(fingerprint)
		if err != nil {
			return nil, err
		}
		article.Fingerprint = &encoded
	}
	return article, nil
}

func (e *Engine) recordDecision(ctx context.Context, candidate *ingest.Candidate, outcome *Outcome) error {
	decision := &db.ClusterDecision{
		Source:           candidate.Source,
		SourcePostID:     candidate.SourcePostID,
		Decision:         outcome.State,
		MatchedArticleID: outcome.MatchedArticleID,
		BestScore:        outcome.BestScore,
		SeriesID:         outcome.SeriesID,
		Degraded:         outcome.Degraded,
		CreatedAt:        globaltime.UTC(),
	}
	return e.store.InsertClusterDecision(ctx, decision)
}

func (e *Engine) uniqueSlug(ctx context.Context, title, sourcePostID string) (string, error) {
	base := slugify(title)
	if base == "" {
		base = "post"
	}

	slug := base
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%s-%d", base, shortToken(sourcePostID), attempt)
		}
		exists, err := e.store.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		if attempt == 0 {
			slug = base + "-" + shortToken(sourcePostID)
			exists, err = e.store.SlugExists(ctx, slug)
			if err != nil {
				return "", err
			}
			if !exists {
				return slug, nil
			}
		}
	}
	return "", fmt.Errorf("could not allocate unique slug for %q", base)
}

func seriesTitle(parentTitle string) string {
	trimmed := strings.TrimSpace(parentTitle)
	if trimmed == "" {
		return "Developing story"
	}
	return trimmed
}

// scoreInterest ranks the editorial weight of a candidate: richer media and
// hard-news categories score higher.
func scoreInterest(candidate *ingest.Candidate) int {
	score := 3
	if candidate.HasVideo() {
		score++
	}
	if candidate.HasMultipleImages() || candidate.HasCCTV {
		score++
	}
	switch candidate.Category {
	case "accident", "crime", "weather":
		score++
	}
	if score > 5 {
		score = 5
	}
	return score
}

func slugify(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	b.Grow(len(lower))
	lastDash := true
	for _, r := range lower {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	return slug
}

func shortToken(s string) string {
	cleaned := slugify(s)
	if cleaned == "" {
		return "x"
	}
	if len(cleaned) > 8 {
		return cleaned[:8]
	}
	return cleaned
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
