package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// PromoteToParent turns a standalone article into the parent of a new series.
// The WHERE series_id IS NULL guard makes the promotion conditional: when two
// writers race, exactly one update lands and the loser re-reads the winner's
// series id. Returns true when this call performed the promotion.
func (p *Pool) PromoteToParent(ctx context.Context, articleID int64, seriesID, seriesTitle string) (bool, error) {
	if p == nil || p.gdb == nil {
		return false, fmt.Errorf("database pool is not initialized")
	}

	res := p.gdb.WithContext(ctx).Model(&Article{}).
		Where("article_id = ? AND series_id IS NULL", articleID).
		Updates(map[string]any{
			"series_id":          seriesID,
			"is_parent_story":    true,
			"is_developing":      true,
			"story_series_title": seriesTitle,
		})
	if res.Error != nil {
		return false, fmt.Errorf("promote article %d to parent: %w", articleID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SeriesIDOf returns the series id currently assigned to an article, nil when
// the article is standalone.
func (p *Pool) SeriesIDOf(ctx context.Context, articleID int64) (*string, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var article Article
	err := p.gdb.WithContext(ctx).Select("series_id").Where("article_id = ?", articleID).First(&article).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("article id %d: %w", articleID, ErrNotFound)
		}
		return nil, fmt.Errorf("query series id of article %d: %w", articleID, err)
	}
	return article.SeriesID, nil
}

// SeriesParent returns the parent article of a series.
func (p *Pool) SeriesParent(ctx context.Context, seriesID string) (*Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var article Article
	err := p.gdb.WithContext(ctx).
		Where("series_id = ? AND is_parent_story = ?", seriesID, true).
		First(&article).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("series %q parent: %w", seriesID, ErrNotFound)
		}
		return nil, fmt.Errorf("query series parent: %w", err)
	}
	return &article, nil
}

// SeriesMembers lists all articles in a series, parent first, then children
// in publication order.
func (p *Pool) SeriesMembers(ctx context.Context, seriesID string) ([]Article, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	var members []Article
	err := p.gdb.WithContext(ctx).
		Where("series_id = ?", seriesID).
		Order("is_parent_story DESC, published_at ASC, article_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("query series members: %w", err)
	}
	return members, nil
}

// SetAutoMatch flips the parent-level switch that allows or forbids automatic
// attachment of future candidates.
func (p *Pool) SetAutoMatch(ctx context.Context, articleID int64, enabled bool) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	res := p.gdb.WithContext(ctx).Model(&Article{}).
		Where("article_id = ?", articleID).
		Update("auto_match_enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("set auto_match_enabled on article %d: %w", articleID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("article id %d: %w", articleID, ErrNotFound)
	}
	return nil
}
