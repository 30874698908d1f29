package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
	"github.com/Dannydropz/phuketradar-sub003/internal/ingest"
)

// ErrDegraded signals that the fingerprint subsystem is unavailable. The
// clustering engine treats this as non-fatal and falls back to a new story.
var ErrDegraded = errors.New("similarity engine degraded")

// Embedder is the external text-to-vector dependency.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// FingerprintStore loads stored fingerprints of recently published articles.
type FingerprintStore interface {
	RecentPublishedFingerprints(ctx context.Context, since time.Time, limit int) ([]db.FingerprintRow, error)
}

// Match is one related article with its similarity score, highest first.
type Match struct {
	ArticleID        int64
	Title            string
	SeriesID         *string
	IsParentStory    bool
	AutoMatchEnabled bool
	Score            float64
}

// Options bounds the ranking.
type Options struct {
	TopK           int
	MinScore       float64
	RecencyWindow  time.Duration
	CandidateLimit int
}

// Engine ranks recently published articles against a candidate fingerprint.
// All calls are read-only; the engine never mutates the article store.
type Engine struct {
	embedder Embedder
	store    FingerprintStore
	logger   zerolog.Logger
	opts     Options
}

func NewEngine(embedder Embedder, store FingerprintStore, logger zerolog.Logger, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.55
	}
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = 72 * time.Hour
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 300
	}

	return &Engine{
		embedder: embedder,
		store:    store,
		logger:   logger,
		opts:     opts,
	}
}

// FindRelated embeds the candidate and returns up to TopK published articles
// within the recency window scoring above the minimum threshold, best first.
// An embedding failure surfaces as ErrDegraded; an empty result is not an
// error.
func (e *Engine) FindRelated(ctx context.Context, candidate *ingest.Candidate) ([]Match, []float64, error) {
	if e == nil || e.embedder == nil || e.store == nil {
		return nil, nil, fmt.Errorf("similarity engine is not initialized")
	}
	if candidate == nil {
		return nil, nil, fmt.Errorf("candidate is nil")
	}

	input := embeddingInput(candidate)
	if input == "" {
		return nil, nil, fmt.Errorf("candidate %q has no text to embed", candidate.SourcePostID)
	}

	vectors, err := e.embedder.Embed(ctx, []string{input})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, nil, fmt.Errorf("%w: provider returned no vector", ErrDegraded)
	}
	fingerprint := vectors[0]

	since := globaltime.UTC().Add(-e.opts.RecencyWindow)
	rows, err := e.store.RecentPublishedFingerprints(ctx, since, e.opts.CandidateLimit)
	if err != nil {
		return nil, fingerprint, fmt.Errorf("load recent fingerprints: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		stored, err := DecodeFingerprint(row.Fingerprint)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Int64("article_id", row.ArticleID).
				Msg("skipping article with undecodable fingerprint")
			continue
		}

		score, ok := cosineSimilarity(fingerprint, stored)
		if !ok || score < e.opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ArticleID:        row.ArticleID,
			Title:            row.Title,
			SeriesID:         row.SeriesID,
			IsParentStory:    row.IsParentStory,
			AutoMatchEnabled: row.AutoMatchEnabled,
			Score:            score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ArticleID > matches[j].ArticleID
	})
	if len(matches) > e.opts.TopK {
		matches = matches[:e.opts.TopK]
	}
	return matches, fingerprint, nil
}

func embeddingInput(candidate *ingest.Candidate) string {
	title := strings.TrimSpace(candidate.Title)
	body := strings.TrimSpace(candidate.CleanText)
	switch {
	case title == "" && body == "":
		return ""
	case body == "":
		return title
	case title == "":
		return body
	default:
		return title + "\n\n" + body
	}
}

// cosineSimilarity returns the cosine of the angle between two vectors.
// Dimension mismatch or a zero-magnitude vector yields ok=false.
func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

// EncodeFingerprint serializes a vector for the fingerprint text column.
func EncodeFingerprint(vector []float64) (string, error) {
	if len(vector) == 0 {
		return "", fmt.Errorf("fingerprint vector is empty")
	}
	for i, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("fingerprint has non-finite value at index %d", i)
		}
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("encode fingerprint: %w", err)
	}
	return string(encoded), nil
}

// DecodeFingerprint parses a stored fingerprint column value.
func DecodeFingerprint(stored string) ([]float64, error) {
	trimmed := strings.TrimSpace(stored)
	if trimmed == "" {
		return nil, fmt.Errorf("fingerprint is empty")
	}
	var vector []float64
	if err := json.Unmarshal([]byte(trimmed), &vector); err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("fingerprint is empty")
	}
	return vector, nil
}
