package db

import (
	"time"
)

// Article is the persisted editorial unit. A developing story is a set of
// articles sharing series_id; exactly one of them carries is_parent_story.
type Article struct {
	ArticleID        int64      `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID      string     `gorm:"column:article_uuid;type:text;not null;uniqueIndex"`
	Slug             string     `gorm:"column:slug;type:text;not null;uniqueIndex"`
	Title            string     `gorm:"column:title;type:text;not null"`
	Content          string     `gorm:"column:content;type:text;not null;default:''"`
	Excerpt          string     `gorm:"column:excerpt;type:text;not null;default:''"`
	Category         string     `gorm:"column:category;type:text;not null;default:general"`
	Language         string     `gorm:"column:language;type:text;not null;default:und"`
	Published        bool       `gorm:"column:published;not null;default:false"`
	PublishedAt      *time.Time `gorm:"column:published_at"`
	Fingerprint      *string    `gorm:"column:fingerprint;type:text"`
	InterestScore    int        `gorm:"column:interest_score;not null;default:0"`
	IsDeveloping     bool       `gorm:"column:is_developing;not null;default:false"`
	SeriesID         *string    `gorm:"column:series_id;type:text;index"`
	IsParentStory    bool       `gorm:"column:is_parent_story;not null;default:false"`
	StorySeriesTitle *string    `gorm:"column:story_series_title;type:text"`
	AutoMatchEnabled bool       `gorm:"column:auto_match_enabled;not null;default:true"`
	HasVideo         bool       `gorm:"column:has_video;not null;default:false"`
	HasCCTV          bool       `gorm:"column:has_cctv;not null;default:false"`
	ImageCount       int        `gorm:"column:image_count;not null;default:0"`
	ImageURLs        *string    `gorm:"column:image_urls;type:text"`
	VideoURL         *string    `gorm:"column:video_url;type:text"`
	Source           string     `gorm:"column:source;type:text;not null"`
	SourcePostID     string     `gorm:"column:source_post_id;type:text;not null"`
	ContentHash      string     `gorm:"column:content_hash;type:text;not null;index"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;not null"`
}

func (Article) TableName() string { return "articles" }

// HasMultipleImages reports whether the article carries a true multi-photo set.
func (a Article) HasMultipleImages() bool { return a.ImageCount > 1 }

// IngestedPost is the exact-duplicate ledger. One row per accepted candidate;
// the content hash is checked against a rolling window before the similarity
// engine ever runs.
type IngestedPost struct {
	IngestedPostID int64     `gorm:"column:ingested_post_id;primaryKey;autoIncrement"`
	Source         string    `gorm:"column:source;type:text;not null;index:idx_ingested_source_hash"`
	SourcePostID   string    `gorm:"column:source_post_id;type:text;not null"`
	ContentHash    string    `gorm:"column:content_hash;type:text;not null;index:idx_ingested_source_hash"`
	IngestedAt     time.Time `gorm:"column:ingested_at;not null;index"`
}

func (IngestedPost) TableName() string { return "ingested_posts" }

// FetchRun records one source pull: counters plus terminal status.
type FetchRun struct {
	FetchRunID    int64      `gorm:"column:fetch_run_id;primaryKey;autoIncrement"`
	Source        string     `gorm:"column:source;type:text;not null;index"`
	StartedAt     time.Time  `gorm:"column:started_at;not null"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	Status        string     `gorm:"column:status;type:text;not null;default:running"`
	PagesFetched  int        `gorm:"column:pages_fetched;not null;default:0"`
	PostsFetched  int        `gorm:"column:posts_fetched;not null;default:0"`
	PostsInserted int        `gorm:"column:posts_inserted;not null;default:0"`
	ExactDupes    int        `gorm:"column:exact_dupes;not null;default:0"`
	Malformed     int        `gorm:"column:malformed;not null;default:0"`
	MultiImage    int        `gorm:"column:multi_image;not null;default:0"`
	ErrorMessage  *string    `gorm:"column:error_message;type:text"`
}

func (FetchRun) TableName() string { return "fetch_runs" }

// ClusterDecision is the audit row for one clustering outcome.
type ClusterDecision struct {
	ClusterDecisionID int64     `gorm:"column:cluster_decision_id;primaryKey;autoIncrement"`
	Source            string    `gorm:"column:source;type:text;not null"`
	SourcePostID      string    `gorm:"column:source_post_id;type:text;not null"`
	Decision          string    `gorm:"column:decision;type:text;not null"`
	MatchedArticleID  *int64    `gorm:"column:matched_article_id"`
	BestScore         *float64  `gorm:"column:best_score"`
	SeriesID          *string   `gorm:"column:series_id;type:text"`
	Degraded          bool      `gorm:"column:degraded;not null;default:false"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
}

func (ClusterDecision) TableName() string { return "cluster_decisions" }

// PublicationRecord is the persisted outcome of one publication job for one
// (article, channel) pair. In-flight coalescing lives in the orchestrator;
// only attempts that ran to a terminal state land here.
type PublicationRecord struct {
	PublicationRecordID int64      `gorm:"column:publication_record_id;primaryKey;autoIncrement"`
	ArticleID           int64      `gorm:"column:article_id;not null;index:idx_publication_article_channel"`
	Channel             string     `gorm:"column:channel;type:text;not null;index:idx_publication_article_channel"`
	Status              string     `gorm:"column:status;type:text;not null"`
	MediaState          string     `gorm:"column:media_state;type:text;not null;default:pending"`
	RemotePostID        *string    `gorm:"column:remote_post_id;type:text"`
	Attempts            int        `gorm:"column:attempts;not null;default:0"`
	LastError           *string    `gorm:"column:last_error;type:text"`
	LastStatus          *string    `gorm:"column:last_status;type:text"`
	StartedAt           time.Time  `gorm:"column:started_at;not null"`
	FinishedAt          *time.Time `gorm:"column:finished_at"`
}

func (PublicationRecord) TableName() string { return "publication_records" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&IngestedPost{},
		&FetchRun{},
		&ClusterDecision{},
		&PublicationRecord{},
	}
}
