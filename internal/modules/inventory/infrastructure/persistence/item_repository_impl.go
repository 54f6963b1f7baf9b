package persistence

import (
	"context"
	"errors"
	"strings"

	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"

	"gorm.io/gorm"
)

type itemRepositoryImpl struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) repository.ItemRepository {
	return &itemRepositoryImpl{db: db}
}

func (r *itemRepositoryImpl) Create(ctx context.Context, it *item.Item) error {
	if it == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(it).Error
}

// Save 同 id 覆盖写（重新摄取同一实物时走这里）
func (r *itemRepositoryImpl) Save(ctx context.Context, it *item.Item) error {
	if it == nil {
		return nil
	}
	return r.db.WithContext(ctx).Save(it).Error
}

func (r *itemRepositoryImpl) GetByID(ctx context.Context, id string) (*item.Item, error) {
	var it item.Item
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&it).Error
	if err == nil {
		return &it, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *itemRepositoryImpl) Delete(ctx context.Context, id string) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&item.Item{})
	return res.RowsAffected, res.Error
}

func (r *itemRepositoryImpl) List(ctx context.Context, filter repository.ItemFilter) ([]item.Item, error) {
	q := r.db.WithContext(ctx).Model(&item.Item{})
	if cat := strings.TrimSpace(filter.Category); cat != "" {
		q = q.Where("category = ?", cat)
	}
	if kw := strings.TrimSpace(filter.Keyword); kw != "" {
		like := "%" + kw + "%"
		q = q.Where("name LIKE ? OR attributes_json LIKE ?", like, like)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	var items []item.Item
	err := q.Order("created_at DESC, id ASC").Limit(limit).Find(&items).Error
	return items, err
}

func (r *itemRepositoryImpl) ListAll(ctx context.Context) ([]item.Item, error) {
	var items []item.Item
	err := r.db.WithContext(ctx).Order("id ASC").Find(&items).Error
	return items, err
}

func (r *itemRepositoryImpl) ListIDsByCategory(ctx context.Context, category string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&item.Item{}).
		Where("category = ?", strings.TrimSpace(category)).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *itemRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&item.Item{}).Count(&n).Error
	return n, err
}
