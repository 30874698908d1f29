package db

import (
	"context"
	"fmt"
	"time"
)

// StartFetchRun opens a fetch run row in running state.
func (p *Pool) StartFetchRun(ctx context.Context, source string, startedAt time.Time) (*FetchRun, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	run := &FetchRun{
		Source:    source,
		StartedAt: startedAt,
		Status:    "running",
	}
	if err := p.gdb.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("insert fetch run source=%q: %w", source, err)
	}
	return run, nil
}

// FinishFetchRun records counters and the terminal status of a run.
func (p *Pool) FinishFetchRun(ctx context.Context, run *FetchRun, status string, finishedAt time.Time, runErr error) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if run == nil {
		return fmt.Errorf("fetch run is nil")
	}

	run.Status = status
	run.FinishedAt = &finishedAt
	if runErr != nil {
		message := truncate(runErr.Error(), 4000)
		run.ErrorMessage = &message
	}
	if err := p.gdb.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("finish fetch run id=%d: %w", run.FetchRunID, err)
	}
	return nil
}

// InsertPublicationRecord persists one terminal publication outcome.
func (p *Pool) InsertPublicationRecord(ctx context.Context, record *PublicationRecord) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if record == nil {
		return fmt.Errorf("publication record is nil")
	}
	if err := p.gdb.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("insert publication record article=%d channel=%q: %w", record.ArticleID, record.Channel, err)
	}
	return nil
}

// PublicationRecords lists terminal outcomes for one article, newest first.
func (p *Pool) PublicationRecords(ctx context.Context, articleID int64) ([]PublicationRecord, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var records []PublicationRecord
	err := p.gdb.WithContext(ctx).
		Where("article_id = ?", articleID).
		Order("publication_record_id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query publication records article=%d: %w", articleID, err)
	}
	return records, nil
}

// Stats aggregates operational counters for the stats endpoint.
type Stats struct {
	Articles           int64            `json:"articles"`
	PublishedArticles  int64            `json:"published_articles"`
	DevelopingSeries   int64            `json:"developing_series"`
	IngestedPosts      int64            `json:"ingested_posts"`
	FetchRuns          int64            `json:"fetch_runs"`
	PublicationRecords int64            `json:"publication_records"`
	ClusterDecisions   map[string]int64 `json:"cluster_decisions"`
}

// CollectStats counts the operational tables.
func (p *Pool) CollectStats(ctx context.Context) (*Stats, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	stats := &Stats{ClusterDecisions: map[string]int64{}}
	gdb := p.gdb.WithContext(ctx)

	if err := gdb.Model(&Article{}).Count(&stats.Articles).Error; err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	if err := gdb.Model(&Article{}).Where("published = ?", true).Count(&stats.PublishedArticles).Error; err != nil {
		return nil, fmt.Errorf("count published articles: %w", err)
	}
	if err := gdb.Model(&Article{}).Where("is_parent_story = ?", true).Count(&stats.DevelopingSeries).Error; err != nil {
		return nil, fmt.Errorf("count developing series: %w", err)
	}
	if err := gdb.Model(&IngestedPost{}).Count(&stats.IngestedPosts).Error; err != nil {
		return nil, fmt.Errorf("count ingested posts: %w", err)
	}
	if err := gdb.Model(&FetchRun{}).Count(&stats.FetchRuns).Error; err != nil {
		return nil, fmt.Errorf("count fetch runs: %w", err)
	}
	if err := gdb.Model(&PublicationRecord{}).Count(&stats.PublicationRecords).Error; err != nil {
		return nil, fmt.Errorf("count publication records: %w", err)
	}

	type decisionCount struct {
		Decision string
		Total    int64
	}
	var decisions []decisionCount
	err := gdb.Model(&ClusterDecision{}).
		Select("decision", "COUNT(*) AS total").
		Group("decision").
		Scan(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("count cluster decisions: %w", err)
	}
	for _, d := range decisions {
		stats.ClusterDecisions[d.Decision] = d.Total
	}

	return stats, nil
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
