package repository

import (
	"context"

	"Nexus/internal/modules/account/domain/entity"
)

// AccountRepository 账号仓储。GetByUsername / GetByUUID 未命中返回 (nil, nil)
type AccountRepository interface {
	Create(ctx context.Context, account *entity.Account) error
	GetByUsername(ctx context.Context, username string) (*entity.Account, error)
	GetByUUID(ctx context.Context, uuid string) (*entity.Account, error)
}
