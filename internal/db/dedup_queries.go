package db

import (
	"context"
	"fmt"
	"time"
)

// SeenContentHash reports whether the same source produced a candidate with
// this content hash since the cutoff. This is the cheap first dedup signal;
// matches here never reach the similarity engine.
func (p *Pool) SeenContentHash(ctx context.Context, source, contentHash string, since time.Time) (bool, error) {
	if p == nil || p.gdb == nil {
		return false, fmt.Errorf("database pool is not initialized")
	}

	var count int64
	err := p.gdb.WithContext(ctx).Model(&IngestedPost{}).
		Where("source = ? AND content_hash = ? AND ingested_at >= ?", source, contentHash, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count ingested posts source=%q: %w", source, err)
	}
	return count > 0, nil
}

// RecordIngestedPost appends one row to the exact-duplicate ledger.
func (p *Pool) RecordIngestedPost(ctx context.Context, post *IngestedPost) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if post == nil {
		return fmt.Errorf("ingested post is nil")
	}
	if err := p.gdb.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("insert ingested post source=%q post_id=%q: %w", post.Source, post.SourcePostID, err)
	}
	return nil
}

// FingerprintRow is the slice of an article the similarity engine ranks
// against: identity, series membership, and the stored vector.
type FingerprintRow struct {
	ArticleID        int64
	Title            string
	SeriesID         *string
	IsParentStory    bool
	AutoMatchEnabled bool
	Fingerprint      string
}

// RecentPublishedFingerprints returns fingerprints of published articles
// within the recency window, newest first.
func (p *Pool) RecentPublishedFingerprints(ctx context.Context, since time.Time, limit int) ([]FingerprintRow, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 {
		limit = 300
	}

	var rows []FingerprintRow
	err := p.gdb.WithContext(ctx).Model(&Article{}).
		Select("article_id", "title", "series_id", "is_parent_story", "auto_match_enabled", "fingerprint").
		Where("published = ? AND fingerprint IS NOT NULL AND published_at >= ?", true, since).
		Order("published_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query recent fingerprints: %w", err)
	}
	return rows, nil
}

// InsertClusterDecision appends one clustering audit row.
func (p *Pool) InsertClusterDecision(ctx context.Context, decision *ClusterDecision) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if decision == nil {
		return fmt.Errorf("cluster decision is nil")
	}
	if err := p.gdb.WithContext(ctx).Create(decision).Error; err != nil {
		return fmt.Errorf("insert cluster decision: %w", err)
	}
	return nil
}
