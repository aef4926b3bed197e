package repository

import (
	"context"
	"errors"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrLinkNotFound signals that the requested short link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrCodeTaken signals a unique violation on short_code.
	ErrCodeTaken = errors.New("short code already taken")
)

// LinkRepository defines the data access contract for short links.
//
// Lookups with activeOnly set skip rows flagged is_expired.
type LinkRepository interface {
	Create(ctx context.Context, link *model.Link) error
	GetByID(ctx context.Context, id int64) (*model.Link, error)
	GetByCode(ctx context.Context, code string, activeOnly bool) (*model.Link, error)
	ListByOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]model.Link, error)
	ListByOriginalURL(ctx context.Context, url string, activeOnly bool) ([]model.Link, error)
	ListExpired(ctx context.Context) ([]model.Link, error)
	ListAllCodes(ctx context.Context) ([]string, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	UpdateStats(ctx context.Context, id int64, redirectCount int64, lastUsedAt time.Time) error
	UpdateOriginalURL(ctx context.Context, id int64, url string) (int64, error)
	DeleteByCode(ctx context.Context, code string) error
	BulkExpire(ctx context.Context, now time.Time) ([]model.Link, error)
	BulkDeleteStale(ctx context.Context, cutoff time.Time) ([]model.Link, error)
	// Transaction runs fn against a repository bound to one database transaction.
	Transaction(ctx context.Context, fn func(repo LinkRepository) error) error
}

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository returns a GORM-backed LinkRepository.
// The gorm.DB must be opened with TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id int64) (*model.Link, error) {
	var link model.Link
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) GetByCode(ctx context.Context, code string, activeOnly bool) (*model.Link, error) {
	var link model.Link
	if err := r.scope(ctx, activeOnly).Where("short_code = ?", code).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

func (r *linkRepository) ListByOwner(ctx context.Context, ownerID int64, activeOnly bool) ([]model.Link, error) {
	var result []model.Link
	if err := r.scope(ctx, activeOnly).
		Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) ListByOriginalURL(ctx context.Context, url string, activeOnly bool) ([]model.Link, error) {
	var result []model.Link
	if err := r.scope(ctx, activeOnly).
		Where("original_url = ?", url).
		Order("created_at DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) ListExpired(ctx context.Context) ([]model.Link, error) {
	var result []model.Link
	if err := r.db.WithContext(ctx).
		Where("is_expired = ?", true).
		Order("created_at DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *linkRepository) ListAllCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Pluck("short_code", &codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *linkRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Where("short_code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *linkRepository) UpdateStats(ctx context.Context, id int64, redirectCount int64, lastUsedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"redirect_count": redirectCount,
			"last_used_at":   lastUsedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *linkRepository) UpdateOriginalURL(ctx context.Context, id int64, url string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("id = ?", id).
		Update("original_url", url)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrLinkNotFound
	}
	return id, nil
}

func (r *linkRepository) DeleteByCode(ctx context.Context, code string) error {
	result := r.db.WithContext(ctx).Where("short_code = ?", code).Delete(&model.Link{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// BulkExpire flags every active link whose expires_at has passed in one
// conditional UPDATE and returns the flagged rows.
func (r *linkRepository) BulkExpire(ctx context.Context, now time.Time) ([]model.Link, error) {
	var expired []model.Link
	err := r.db.WithContext(ctx).
		Model(&expired).
		Clauses(clause.Returning{}).
		Where("is_expired = ? AND expires_at IS NOT NULL AND expires_at < ?", false, now.UTC()).
		Update("is_expired", true).Error
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// BulkDeleteStale removes links last used before cutoff, or never used and
// created before cutoff, in one DELETE and returns the removed rows.
func (r *linkRepository) BulkDeleteStale(ctx context.Context, cutoff time.Time) ([]model.Link, error) {
	cutoff = cutoff.UTC()
	var deleted []model.Link
	err := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("(last_used_at IS NOT NULL AND last_used_at < ?) OR (last_used_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Delete(&deleted).Error
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *linkRepository) Transaction(ctx context.Context, fn func(repo LinkRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&linkRepository{db: tx})
	})
}

func (r *linkRepository) scope(ctx context.Context, activeOnly bool) *gorm.DB {
	db := r.db.WithContext(ctx)
	if activeOnly {
		db = db.Where("is_expired = ?", false)
	}
	return db
}
