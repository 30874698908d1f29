package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
)

// ArticleListOptions filters the published-article listing.
type ArticleListOptions struct {
	Category string
	SeriesID string
	Limit    int
	Offset   int
}

// GetPublishedArticles lists published articles, newest first. Filters are
// optional; the query is assembled dynamically so empty filters add no
// predicates.
func (p *Pool) GetPublishedArticles(ctx context.Context, opts ArticleListOptions) ([]Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 25
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	builder := sq.Select("*").
		From("articles").
		Where(sq.Eq{"published": true}).
		OrderBy("published_at DESC", "article_id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	if category := strings.TrimSpace(strings.ToLower(opts.Category)); category != "" {
		builder = builder.Where(sq.Eq{"category": category})
	}
	if seriesID := strings.TrimSpace(opts.SeriesID); seriesID != "" {
		builder = builder.Where(sq.Eq{"series_id": seriesID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build published articles query: %w", err)
	}

	var articles []Article
	if err := p.gdb.WithContext(ctx).Raw(query, args...).Scan(&articles).Error; err != nil {
		return nil, fmt.Errorf("query published articles: %w", err)
	}
	return articles, nil
}

// GetTrendingArticles lists published articles by interest score.
func (p *Pool) GetTrendingArticles(ctx context.Context, limit int) ([]Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	query, args, err := sq.Select("*").
		From("articles").
		Where(sq.Eq{"published": true}).
		OrderBy("interest_score DESC", "published_at DESC", "article_id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build trending query: %w", err)
	}

	var articles []Article
	if err := p.gdb.WithContext(ctx).Raw(query, args...).Scan(&articles).Error; err != nil {
		return nil, fmt.Errorf("query trending articles: %w", err)
	}
	return articles, nil
}

// GetArticleBySlug fetches one published article by its slug.
// Returns ErrNotFound when the slug does not exist; a numeric string given
// here is just a slug that happens to look like a number, never an id.
func (p *Pool) GetArticleBySlug(ctx context.Context, slug string) (*Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return nil, fmt.Errorf("slug %q: %w", slug, ErrNotFound)
	}

	var article Article
	err := p.gdb.WithContext(ctx).Where("slug = ?", trimmed).First(&article).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("slug %q: %w", trimmed, ErrNotFound)
		}
		return nil, fmt.Errorf("query article by slug: %w", err)
	}
	return &article, nil
}

// GetArticleByID fetches one article by its numeric id.
func (p *Pool) GetArticleByID(ctx context.Context, id int64) (*Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if id <= 0 {
		return nil, fmt.Errorf("article id %d: %w", id, ErrNotFound)
	}

	var article Article
	err := p.gdb.WithContext(ctx).Where("article_id = ?", id).First(&article).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("article id %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("query article by id: %w", err)
	}
	return &article, nil
}

// CreateArticle inserts one article row.
func (p *Pool) CreateArticle(ctx context.Context, article *Article) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if article == nil {
		return fmt.Errorf("article is nil")
	}
	if err := p.gdb.WithContext(ctx).Create(article).Error; err != nil {
		return fmt.Errorf("insert article slug=%q: %w", article.Slug, err)
	}
	return nil
}

// SlugExists reports whether a slug is already taken.
func (p *Pool) SlugExists(ctx context.Context, slug string) (bool, error) {
	if p == nil || p.gdb == nil {
		return false, fmt.Errorf("database pool is not initialized")
	}
	var count int64
	if err := p.gdb.WithContext(ctx).Model(&Article{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count slug %q: %w", slug, err)
	}
	return count > 0, nil
}
