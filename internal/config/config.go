package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PR_DB_MAX_CONNS" default:"8"`

	// Source adapter. Sources is a comma-separated list of name=endpoint pairs.
	Sources              string        `envconfig:"PR_SOURCES" default:""`
	SourcePageSize       int           `envconfig:"PR_SOURCE_PAGE_SIZE" default:"25"`
	SourceMaxPages       int           `envconfig:"PR_SOURCE_MAX_PAGES" default:"3"`
	SourceRequestTimeout time.Duration `envconfig:"PR_SOURCE_REQUEST_TIMEOUT" default:"30s"`
	SourceMaxRetries     int           `envconfig:"PR_SOURCE_MAX_RETRIES" default:"3"`
	SourceRetryBaseDelay time.Duration `envconfig:"PR_SOURCE_RETRY_BASE_DELAY" default:"500ms"`

	ExactDupWindow time.Duration `envconfig:"PR_EXACT_DUP_WINDOW" default:"48h"`

	// Similarity engine.
	EmbeddingEndpoint string        `envconfig:"PR_EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModel    string        `envconfig:"PR_EMBEDDING_MODEL" default:"Qwen3-Embedding-8B"`
	EmbeddingTimeout  time.Duration `envconfig:"PR_EMBEDDING_TIMEOUT" default:"45s"`
	SimilarityTopK    int           `envconfig:"PR_SIMILARITY_TOP_K" default:"5"`
	MinSimilarity     float64       `envconfig:"PR_MIN_SIMILARITY" default:"0.55"`
	SameStoryScore    float64       `envconfig:"PR_SAME_STORY_SCORE" default:"0.70"`
	SameEventScore    float64       `envconfig:"PR_SAME_EVENT_SCORE" default:"0.90"`
	RecencyWindow     time.Duration `envconfig:"PR_RECENCY_WINDOW" default:"72h"`

	// Publication orchestrator.
	SiteBaseURL          string        `envconfig:"PR_SITE_BASE_URL" default:"https://phuketradar.com"`
	TelegramBotToken     string        `envconfig:"PR_TELEGRAM_BOT_TOKEN" default:""`
	TelegramChatID       string        `envconfig:"PR_TELEGRAM_CHAT_ID" default:""`
	RelayAPIBase         string        `envconfig:"PR_RELAY_API_BASE" default:"https://app.ayrshare.com/api"`
	RelayAPIKey          string        `envconfig:"PR_RELAY_API_KEY" default:""`
	RelayNetworks        string        `envconfig:"PR_RELAY_NETWORKS" default:"facebook"`
	PublishMaxAttempts   int           `envconfig:"PR_PUBLISH_MAX_ATTEMPTS" default:"3"`
	PublishRetryDelay    time.Duration `envconfig:"PR_PUBLISH_RETRY_DELAY" default:"2s"`
	PublishPollInterval  time.Duration `envconfig:"PR_PUBLISH_POLL_INTERVAL" default:"3s"`
	PublishMaxPolls      int           `envconfig:"PR_PUBLISH_MAX_POLLS" default:"20"`
	PublishChannelBudget time.Duration `envconfig:"PR_PUBLISH_CHANNEL_BUDGET" default:"5m"`

	// Read-through cache.
	CacheTTL           time.Duration `envconfig:"PR_CACHE_TTL" default:"60s"`
	CacheSweepInterval time.Duration `envconfig:"PR_CACHE_SWEEP_INTERVAL" default:"30s"`

	// Scheduled run.
	RunInterval   time.Duration `envconfig:"PR_RUN_INTERVAL" default:"10m"`
	RunTimeBudget time.Duration `envconfig:"PR_RUN_TIME_BUDGET" default:"8m"`
	FetchWorkers  int           `envconfig:"PR_FETCH_WORKERS" default:"3"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PR_DB_MIN_CONNS (%d) cannot exceed PR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SourceMaxPages < 1 {
		return fmt.Errorf("PR_SOURCE_MAX_PAGES must be >= 1")
	}
	if c.SourceMaxRetries < 0 {
		return fmt.Errorf("PR_SOURCE_MAX_RETRIES must be >= 0")
	}
	if c.SimilarityTopK < 1 {
		return fmt.Errorf("PR_SIMILARITY_TOP_K must be >= 1")
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("PR_MIN_SIMILARITY must be within [0,1]")
	}
	if c.SameStoryScore < c.MinSimilarity {
		return fmt.Errorf("PR_SAME_STORY_SCORE (%f) must be >= PR_MIN_SIMILARITY (%f)", c.SameStoryScore, c.MinSimilarity)
	}
	if c.SameEventScore <= c.SameStoryScore {
		return fmt.Errorf("PR_SAME_EVENT_SCORE (%f) must exceed PR_SAME_STORY_SCORE (%f)", c.SameEventScore, c.SameStoryScore)
	}
	if c.PublishMaxAttempts < 1 {
		return fmt.Errorf("PR_PUBLISH_MAX_ATTEMPTS must be >= 1")
	}
	if c.PublishMaxPolls < 1 {
		return fmt.Errorf("PR_PUBLISH_MAX_POLLS must be >= 1")
	}
	if c.FetchWorkers < 1 {
		return fmt.Errorf("PR_FETCH_WORKERS must be >= 1")
	}
	return nil
}

// SourceSpec is one configured feed endpoint.
type SourceSpec struct {
	Name     string
	Endpoint string
}

// SourceList parses PR_SOURCES ("name=url,name=url") into specs, dropping
// malformed entries.
func (c *Config) SourceList() []SourceSpec {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.Sources, ",")
	specs := make([]SourceSpec, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		endpoint = strings.TrimSpace(endpoint)
		if !ok || name == "" || endpoint == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		specs = append(specs, SourceSpec{Name: name, Endpoint: endpoint})
	}
	return specs
}

// RelayNetworkList splits PR_RELAY_NETWORKS into the target social networks.
func (c *Config) RelayNetworkList() []string {
	if c == nil {
		return nil
	}
	parts := strings.Split(c.RelayNetworks, ",")
	networks := make([]string, 0, len(parts))
	for _, part := range parts {
		network := strings.ToLower(strings.TrimSpace(part))
		if network == "" {
			continue
		}
		networks = append(networks, network)
	}
	return networks
}
