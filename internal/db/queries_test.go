package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()

	// A single connection keeps the in-memory database alive for the test.
	pool, err := Open(context.Background(), ":memory:", OpenOptions{
		MaxConns: 1,
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func seedArticle(t *testing.T, pool *Pool, mutate func(*Article)) *Article {
	t.Helper()

	id := uuid.NewString()
	publishedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	article := &Article{
		ArticleUUID:      id,
		Slug:             "article-" + id[:8],
		Title:            "Motorbike crash on Patong hill",
		Content:          "Two tourists injured in a motorbike crash.",
		Excerpt:          "Two tourists injured.",
		Category:         "accident",
		Language:         "en",
		Published:        true,
		PublishedAt:      &publishedAt,
		AutoMatchEnabled: true,
		Source:           "phuket-news",
		SourcePostID:     "fb-" + id[:8],
		ContentHash:      "hash-" + id[:8],
	}
	if mutate != nil {
		mutate(article)
	}
	if err := pool.CreateArticle(context.Background(), article); err != nil {
		t.Fatalf("seed article: %v", err)
	}
	return article
}

func TestGetArticleBySlugTreatsNumericAsSlug(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seeded := seedArticle(t, pool, func(a *Article) { a.Slug = "12345" })

	got, err := pool.GetArticleBySlug(ctx, "12345")
	if err != nil {
		t.Fatalf("numeric slug lookup failed: %v", err)
	}
	if got.ArticleID != seeded.ArticleID {
		t.Fatalf("wrong article resolved: %d", got.ArticleID)
	}

	if _, err := pool.GetArticleBySlug(ctx, "does-not-exist"); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, err := pool.GetArticleBySlug(ctx, "  "); !IsNotFound(err) {
		t.Fatalf("blank slug must be not-found, got %v", err)
	}
}

func TestGetArticleByIDNotFound(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	if _, err := pool.GetArticleByID(context.Background(), 99999); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if _, err := pool.GetArticleByID(context.Background(), 0); !IsNotFound(err) {
		t.Fatalf("non-positive id must be not-found, got %v", err)
	}
}

func TestGetPublishedArticlesFilters(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seedArticle(t, pool, func(a *Article) { a.Category = "accident" })
	seedArticle(t, pool, func(a *Article) { a.Category = "weather" })
	seedArticle(t, pool, func(a *Article) {
		a.Category = "weather"
		a.Published = false
		a.PublishedAt = nil
	})

	all, err := pool.GetPublishedArticles(ctx, ArticleListOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unpublished articles leaked into the listing: %d", len(all))
	}

	weather, err := pool.GetPublishedArticles(ctx, ArticleListOptions{Category: "Weather"})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(weather) != 1 || weather[0].Category != "weather" {
		t.Fatalf("category filter wrong: %+v", weather)
	}
}

func TestPromoteToParentIsConditional(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	article := seedArticle(t, pool, nil)

	promoted, err := pool.PromoteToParent(ctx, article.ArticleID, "series-1", "Crash series")
	if err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	if !promoted {
		t.Fatalf("first promotion must win")
	}

	// A racing second promotion must lose and leave the original series intact.
	promoted, err = pool.PromoteToParent(ctx, article.ArticleID, "series-2", "Other series")
	if err != nil {
		t.Fatalf("second promote errored: %v", err)
	}
	if promoted {
		t.Fatalf("second promotion must not overwrite the series")
	}

	seriesID, err := pool.SeriesIDOf(ctx, article.ArticleID)
	if err != nil {
		t.Fatalf("series id lookup failed: %v", err)
	}
	if seriesID == nil || *seriesID != "series-1" {
		t.Fatalf("expected series-1, got %v", seriesID)
	}

	parent, err := pool.SeriesParent(ctx, "series-1")
	if err != nil {
		t.Fatalf("series parent lookup failed: %v", err)
	}
	if parent.ArticleID != article.ArticleID || !parent.IsParentStory || !parent.IsDeveloping {
		t.Fatalf("parent flags wrong: %+v", parent)
	}
}

func TestSeriesMembersParentFirst(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seriesID := "series-members"
	child := seedArticle(t, pool, func(a *Article) { a.SeriesID = &seriesID })
	parent := seedArticle(t, pool, func(a *Article) {
		a.SeriesID = &seriesID
		a.IsParentStory = true
	})

	members, err := pool.SeriesMembers(ctx, seriesID)
	if err != nil {
		t.Fatalf("series members failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].ArticleID != parent.ArticleID {
		t.Fatalf("parent must be listed first")
	}
	if members[1].ArticleID != child.ArticleID {
		t.Fatalf("child missing from members")
	}
}

func TestSeenContentHashWindow(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	ingestedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := pool.RecordIngestedPost(ctx, &IngestedPost{
		Source:       "phuket-news",
		SourcePostID: "fb-1",
		ContentHash:  "abc",
		IngestedAt:   ingestedAt,
	}); err != nil {
		t.Fatalf("record ingested post: %v", err)
	}

	seen, err := pool.SeenContentHash(ctx, "phuket-news", "abc", ingestedAt.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("seen check failed: %v", err)
	}
	if !seen {
		t.Fatalf("hash inside the window must be seen")
	}

	seen, err = pool.SeenContentHash(ctx, "phuket-news", "abc", ingestedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("seen check failed: %v", err)
	}
	if seen {
		t.Fatalf("hash older than the cutoff must not count")
	}

	seen, err = pool.SeenContentHash(ctx, "other-source", "abc", ingestedAt.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("seen check failed: %v", err)
	}
	if seen {
		t.Fatalf("dedup ledger must be scoped per source")
	}
}

func TestRecentPublishedFingerprints(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	fp := `[0.1,0.2]`
	recent := seedArticle(t, pool, func(a *Article) { a.Fingerprint = &fp })
	seedArticle(t, pool, nil) // no fingerprint
	seedArticle(t, pool, func(a *Article) {
		old := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		a.Fingerprint = &fp
		a.PublishedAt = &old
	})

	since := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	rows, err := pool.RecentPublishedFingerprints(ctx, since, 10)
	if err != nil {
		t.Fatalf("recent fingerprints failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ArticleID != recent.ArticleID {
		t.Fatalf("window or fingerprint filter wrong: %+v", rows)
	}
	if rows[0].Fingerprint != fp {
		t.Fatalf("fingerprint column lost: %q", rows[0].Fingerprint)
	}
}

func TestSetAutoMatchUnknownArticle(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	if err := pool.SetAutoMatch(context.Background(), 424242, false); !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCollectStats(t *testing.T) {
	t.Parallel()

	pool := openTestPool(t)
	ctx := context.Background()

	seedArticle(t, pool, func(a *Article) { a.IsParentStory = true })
	seedArticle(t, pool, func(a *Article) {
		a.Published = false
		a.PublishedAt = nil
	})

	for i, decision := range []string{"new_story", "new_story", "continuation"} {
		if err := pool.InsertClusterDecision(ctx, &ClusterDecision{
			Source:       "phuket-news",
			SourcePostID: fmt.Sprintf("fb-%d", i),
			Decision:     decision,
			CreatedAt:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("insert decision: %v", err)
		}
	}

	stats, err := pool.CollectStats(ctx)
	if err != nil {
		t.Fatalf("collect stats failed: %v", err)
	}
	if stats.Articles != 2 || stats.PublishedArticles != 1 || stats.DevelopingSeries != 1 {
		t.Fatalf("article counters wrong: %+v", stats)
	}
	if stats.ClusterDecisions["new_story"] != 2 || stats.ClusterDecisions["continuation"] != 1 {
		t.Fatalf("decision counters wrong: %+v", stats.ClusterDecisions)
	}
}
