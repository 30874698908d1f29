package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Dannydropz/phuketradar-sub003/internal/db"
)

func openTestPool(t *testing.T) *db.Pool {
	t.Helper()
	pool, err := db.Open(context.Background(), ":memory:", db.OpenOptions{
		MaxConns: 1,
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func seedArticle(t *testing.T, pool *db.Pool, mutate func(*db.Article)) *db.Article {
	t.Helper()
	id := uuid.NewString()
	publishedAt := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	article := &db.Article{
		ArticleUUID:   id,
		Slug:          "article-" + id[:8],
		Title:         "Flooding reported in Kathu",
		Content:       "Heavy rain flooded several roads in Kathu district overnight.",
		Excerpt:       "Heavy rain flooded several roads.",
		Category:      "weather",
		Language:      "en",
		Published:     true,
		PublishedAt:   &publishedAt,
		InterestScore: 3,
		Source:        "phuket-news",
		SourcePostID:  "fb-" + id[:8],
		ContentHash:   id,
	}
	if mutate != nil {
		mutate(article)
	}
	if err := pool.CreateArticle(context.Background(), article); err != nil {
		t.Fatalf("seed article: %v", err)
	}
	return article
}

func newTestServer(t *testing.T, pool *db.Pool) *Server {
	t.Helper()
	return NewServer(pool, nil, zerolog.Nop(), Options{SiteBaseURL: "https://phuketradar.com"})
}

func doRequest(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSend(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openTestPool(t))
	rec := doRequest(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeJSend(t, rec)
	if body["status"] != "success" {
		t.Fatalf("expected jsend success, got %v", body["status"])
	}
}

func TestListArticlesFiltersByCategory(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedArticle(t, pool, nil)
	seedArticle(t, pool, func(a *db.Article) { a.Category = "crime" })
	seedArticle(t, pool, func(a *db.Article) { a.Published = false; a.PublishedAt = nil })
	s := newTestServer(t, pool)

	rec := doRequest(t, s, "/api/articles")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSend(t, rec)
	data := body["data"].(map[string]any)
	items := data["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("unpublished articles must be hidden, got %d items", len(items))
	}

	rec = doRequest(t, s, "/api/articles?category=crime")
	data = decodeJSend(t, rec)["data"].(map[string]any)
	items = data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 crime article, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["category"] != "crime" {
		t.Fatalf("wrong category in filtered list: %v", first["category"])
	}
	if _, ok := first["content"]; ok {
		t.Fatalf("list views must not carry full content")
	}
}

func TestListArticlesRejectsBadPaging(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, openTestPool(t))
	rec := doRequest(t, s, "/api/articles?page_size=9999")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeJSend(t, rec); body["status"] != "fail" {
		t.Fatalf("expected jsend fail, got %v", body["status"])
	}
}

func TestArticleBySlug(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	article := seedArticle(t, pool, func(a *db.Article) { a.Slug = "9081726354" })
	s := newTestServer(t, pool)

	// A purely numeric slug is still a slug, never an id.
	rec := doRequest(t, s, "/api/articles/slug/9081726354")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeJSend(t, rec)["data"].(map[string]any)
	if data["article_uuid"] != article.ArticleUUID {
		t.Fatalf("wrong article returned: %v", data["article_uuid"])
	}
	if data["content"] != article.Content {
		t.Fatalf("detail view must include content")
	}

	rec = doRequest(t, s, "/api/articles/slug/no-such-story")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeJSend(t, rec); body["status"] != "fail" {
		t.Fatalf("404 must be jsend fail, got %s", rec.Body.String())
	}
}

func TestArticleByIDStructuralMismatchIs404(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	article := seedArticle(t, pool, nil)
	s := newTestServer(t, pool)

	rec := doRequest(t, s, fmt.Sprintf("/api/articles/%d", article.ArticleID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	for _, raw := range []string{"not-a-number", "-4", "0", "99999"} {
		rec := doRequest(t, s, "/api/articles/"+raw)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("id %q: expected 404, got %d", raw, rec.Code)
		}
	}
}

func TestTrendingOrdersByInterest(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedArticle(t, pool, func(a *db.Article) { a.InterestScore = 2 })
	top := seedArticle(t, pool, func(a *db.Article) { a.InterestScore = 5 })
	seedArticle(t, pool, func(a *db.Article) { a.InterestScore = 3 })
	s := newTestServer(t, pool)

	rec := doRequest(t, s, "/api/articles/trending?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	items := decodeJSend(t, rec)["data"].(map[string]any)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("limit not applied, got %d items", len(items))
	}
	first := items[0].(map[string]any)
	if first["article_uuid"] != top.ArticleUUID {
		t.Fatalf("highest interest score must rank first, got %v", first["title"])
	}

	rec = doRequest(t, s, "/api/articles/trending?limit=500")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized limit must be rejected, got %d", rec.Code)
	}
}

func TestSeriesEndpoint(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seriesID := uuid.NewString()
	title := "Flooding reported in Kathu"
	parent := seedArticle(t, pool, func(a *db.Article) {
		a.SeriesID = &seriesID
		a.IsParentStory = true
		a.StorySeriesTitle = &title
	})
	later := parent.PublishedAt.Add(2 * time.Hour)
	seedArticle(t, pool, func(a *db.Article) {
		a.SeriesID = &seriesID
		a.IsDeveloping = true
		a.PublishedAt = &later
	})
	s := newTestServer(t, pool)

	rec := doRequest(t, s, "/api/series/"+seriesID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeJSend(t, rec)["data"].(map[string]any)
	members := data["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	parentView := data["parent"].(map[string]any)
	if parentView["article_uuid"] != parent.ArticleUUID {
		t.Fatalf("wrong parent in series view: %v", parentView["article_uuid"])
	}

	rec = doRequest(t, s, "/api/series/"+uuid.NewString())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown series must 404, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	seedArticle(t, pool, nil)
	s := newTestServer(t, pool)

	rec := doRequest(t, s, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeJSend(t, rec)["data"].(map[string]any)
	if data["articles"].(float64) != 1 {
		t.Fatalf("expected 1 article in stats, got %v", data["articles"])
	}
}

func TestFeedRendersRSS(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	article := seedArticle(t, pool, nil)
	s := newTestServer(t, pool)

	rec := doRequest(t, s, "/feed")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/rss+xml") {
		t.Fatalf("wrong feed content type: %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, article.Title) {
		t.Fatalf("feed missing article title: %s", body)
	}
	if !strings.Contains(body, "https://phuketradar.com/articles/"+article.Slug) {
		t.Fatalf("feed missing canonical article link")
	}
}
