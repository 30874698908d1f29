package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/cache"
	"github.com/Dannydropz/phuketradar-sub003/internal/db"
	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	feedItemLimit = 30
)

type Options struct {
	Host            string
	Port            int
	SiteBaseURL     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the read-only presentation surface. All list and detail reads go
// through the cache; write traffic never enters here.
type Server struct {
	pool   *db.Pool
	cache  *cache.Cache
	logger zerolog.Logger
	opts   Options
}

type articleView struct {
	ArticleID     int64      `json:"article_id"`
	ArticleUUID   string     `json:"article_uuid"`
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	Excerpt       string     `json:"excerpt"`
	Content       string     `json:"content,omitempty"`
	Category      string     `json:"category"`
	Language      string     `json:"language"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	InterestScore int        `json:"interest_score"`
	IsDeveloping  bool       `json:"is_developing"`
	SeriesID      *string    `json:"series_id,omitempty"`
	IsParentStory bool       `json:"is_parent_story"`
	SeriesTitle   *string    `json:"series_title,omitempty"`
	HasVideo      bool       `json:"has_video"`
	HasCCTV       bool       `json:"has_cctv"`
	ImageCount    int        `json:"image_count"`
	ImageURLs     []string   `json:"image_urls,omitempty"`
	VideoURL      *string    `json:"video_url,omitempty"`
	Source        string     `json:"source"`
}

type seriesView struct {
	SeriesID string        `json:"series_id"`
	Parent   *articleView  `json:"parent,omitempty"`
	Members  []articleView `json:"members"`
}

func NewServer(pool *db.Pool, articleCache *cache.Cache, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		cache:  articleCache,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			SiteBaseURL:     strings.TrimRight(strings.TrimSpace(opts.SiteBaseURL), "/"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// Handler assembles the echo instance with all routes registered. Split out
// from Start so tests can exercise the routes without binding a port.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/feed", s.handleFeed)

	api := e.Group("/api")
	api.GET("/articles", s.handleArticles)
	api.GET("/articles/trending", s.handleTrending)
	api.GET("/articles/slug/:slug", s.handleArticleBySlug)
	api.GET("/articles/:article_id", s.handleArticleByID)
	api.GET("/series/:series_id", s.handleSeries)
	api.GET("/stats", s.handleStats)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("phuketradar api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("phuketradar api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if strings.HasPrefix(c.Request().URL.Path, "/api/") {
		if status >= 500 {
			_ = internalError(c, "Internal server error")
			return
		}
		_ = fail(c, status, message, nil)
		return
	}

	_ = c.String(status, message)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "phuketradar",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleArticles(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}
	category := strings.TrimSpace(strings.ToLower(c.QueryParam("category")))

	key := fmt.Sprintf("articles:list:%s:%d:%d", category, page, pageSize)
	value, err := s.cached(key, func() (any, error) {
		articles, loadErr := s.pool.GetPublishedArticles(c.Request().Context(), db.ArticleListOptions{
			Category: category,
			Limit:    pageSize,
			Offset:   (page - 1) * pageSize,
		})
		if loadErr != nil {
			return nil, loadErr
		}
		return map[string]any{
			"items": viewList(articles, false),
			"pagination": map[string]any{
				"page":      page,
				"page_size": pageSize,
			},
			"filters": map[string]any{
				"category": category,
			},
		}, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("category", category).Msg("query published articles failed")
		return internalError(c, "Failed to load articles")
	}
	return success(c, value)
}

func (s *Server) handleTrending(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 10, 1, 50)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	key := fmt.Sprintf("trending:%d", limit)
	value, err := s.cached(key, func() (any, error) {
		articles, loadErr := s.pool.GetTrendingArticles(c.Request().Context(), limit)
		if loadErr != nil {
			return nil, loadErr
		}
		return map[string]any{"items": viewList(articles, false)}, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("query trending articles failed")
		return internalError(c, "Failed to load trending articles")
	}
	return success(c, value)
}

// handleArticleBySlug treats the path segment strictly as a slug. A value
// that happens to look like an id is still looked up as a slug.
func (s *Server) handleArticleBySlug(c echo.Context) error {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		return failValidation(c, map[string]string{"slug": "is required"})
	}

	key := "articles:slug:" + slug
	value, err := s.cached(key, func() (any, error) {
		article, loadErr := s.pool.GetArticleBySlug(c.Request().Context(), slug)
		if loadErr != nil {
			return nil, loadErr
		}
		return view(article, true), nil
	})
	if err != nil {
		if db.IsNotFound(err) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("query article by slug failed")
		return internalError(c, "Failed to load article")
	}
	return success(c, value)
}

// handleArticleByID resolves a numeric article id. A non-numeric value is a
// structural mismatch and maps to the same 404 as a missing row.
func (s *Server) handleArticleByID(c echo.Context) error {
	raw := strings.TrimSpace(c.Param("article_id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return failNotFound(c, "Article not found")
	}

	key := fmt.Sprintf("articles:id:%d", id)
	value, err := s.cached(key, func() (any, error) {
		article, loadErr := s.pool.GetArticleByID(c.Request().Context(), id)
		if loadErr != nil {
			return nil, loadErr
		}
		return view(article, true), nil
	})
	if err != nil {
		if db.IsNotFound(err) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Int64("article_id", id).Msg("query article by id failed")
		return internalError(c, "Failed to load article")
	}
	return success(c, value)
}

func (s *Server) handleSeries(c echo.Context) error {
	seriesID := strings.TrimSpace(c.Param("series_id"))
	if seriesID == "" {
		return failValidation(c, map[string]string{"series_id": "is required"})
	}

	key := "articles:series:" + seriesID
	value, err := s.cached(key, func() (any, error) {
		members, loadErr := s.pool.SeriesMembers(c.Request().Context(), seriesID)
		if loadErr != nil {
			return nil, loadErr
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("series %q: %w", seriesID, db.ErrNotFound)
		}

		out := seriesView{SeriesID: seriesID, Members: viewList(members, false)}
		for i := range members {
			if members[i].IsParentStory {
				parent := view(&members[i], false)
				out.Parent = &parent
				break
			}
		}
		return out, nil
	})
	if err != nil {
		if db.IsNotFound(err) {
			return failNotFound(c, "Series not found")
		}
		s.logger.Error().Err(err).Str("series_id", seriesID).Msg("query series failed")
		return internalError(c, "Failed to load series")
	}
	return success(c, value)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pool.CollectStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("collect stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleFeed(c echo.Context) error {
	value, err := s.cached("articles:feed", func() (any, error) {
		articles, loadErr := s.pool.GetPublishedArticles(c.Request().Context(), db.ArticleListOptions{Limit: feedItemLimit})
		if loadErr != nil {
			return nil, loadErr
		}
		return s.renderFeed(articles)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("render feed failed")
		return internalError(c, "Failed to render feed")
	}

	body, ok := value.(string)
	if !ok {
		return internalError(c, "Failed to render feed")
	}
	return c.Blob(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(body))
}

func (s *Server) renderFeed(articles []db.Article) (string, error) {
	base := s.opts.SiteBaseURL
	if base == "" {
		base = "http://localhost"
	}

	feed := &feeds.Feed{
		Title:       "Phuket Radar",
		Link:        &feeds.Link{Href: base},
		Description: "Breaking news and developing stories from Phuket",
		Created:     globaltime.UTC(),
	}
	for _, article := range articles {
		item := &feeds.Item{
			Title:       article.Title,
			Link:        &feeds.Link{Href: base + "/articles/" + article.Slug},
			Description: article.Excerpt,
			Id:          article.ArticleUUID,
		}
		if article.PublishedAt != nil {
			item.Created = *article.PublishedAt
		}
		feed.Items = append(feed.Items, item)
	}

	body, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("encode rss feed: %w", err)
	}
	return body, nil
}

// cached routes a read through the cache when one is configured; without a
// cache every read hits the pool directly.
func (s *Server) cached(key string, loader func() (any, error)) (any, error) {
	if s.cache == nil {
		return loader()
	}
	return s.cache.GetOrLoad(key, loader)
}

func view(article *db.Article, includeContent bool) articleView {
	v := articleView{
		ArticleID:     article.ArticleID,
		ArticleUUID:   article.ArticleUUID,
		Slug:          article.Slug,
		Title:         article.Title,
		Excerpt:       article.Excerpt,
		Category:      article.Category,
		Language:      article.Language,
		PublishedAt:   article.PublishedAt,
		InterestScore: article.InterestScore,
		IsDeveloping:  article.IsDeveloping,
		SeriesID:      article.SeriesID,
		IsParentStory: article.IsParentStory,
		SeriesTitle:   article.StorySeriesTitle,
		HasVideo:      article.HasVideo,
		HasCCTV:       article.HasCCTV,
		ImageCount:    article.ImageCount,
		VideoURL:      article.VideoURL,
		Source:        article.Source,
	}
	if includeContent {
		v.Content = article.Content
	}
	if article.ImageURLs != nil {
		for _, line := range strings.Split(*article.ImageURLs, "\n") {
			if u := strings.TrimSpace(line); u != "" {
				v.ImageURLs = append(v.ImageURLs, u)
			}
		}
	}
	return v
}

func viewList(articles []db.Article, includeContent bool) []articleView {
	items := make([]articleView, 0, len(articles))
	for i := range articles {
		items = append(items, view(&articles[i], includeContent))
	}
	return items
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
