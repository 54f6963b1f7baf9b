package repository

import (
	"context"

	"Nexus/internal/modules/inventory/domain/item"
)

// ItemFilter list 过滤条件：category 精确匹配，Keyword 对 name 与
// attributes_json 做子串匹配。零值表示不过滤。
type ItemFilter struct {
	Category string
	Keyword  string
	Offset   int
	Limit    int
}

// ItemRepository Item Store 的领域接口。
// 约定：GetByID 未命中返回 (nil, nil)；Save 对同 id 为覆盖语义；
// Delete 对不存在的 id 返回 affected=0 而不是错误。
type ItemRepository interface {
	Create(ctx context.Context, it *item.Item) error
	Save(ctx context.Context, it *item.Item) error
	GetByID(ctx context.Context, id string) (*item.Item, error)
	Delete(ctx context.Context, id string) (affected int64, err error)
	List(ctx context.Context, filter ItemFilter) ([]item.Item, error)
	ListAll(ctx context.Context) ([]item.Item, error)
	ListIDsByCategory(ctx context.Context, category string) ([]string, error)
	Count(ctx context.Context) (int64, error)
}
