package persistence

import (
	"context"
	"errors"

	"Nexus/internal/modules/account/domain/entity"
	"Nexus/internal/modules/account/domain/repository"

	"gorm.io/gorm"
)

type accountRepositoryImpl struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) repository.AccountRepository {
	return &accountRepositoryImpl{db: db}
}

func (r *accountRepositoryImpl) Create(ctx context.Context, account *entity.Account) error {
	if account == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepositoryImpl) GetByUsername(ctx context.Context, username string) (*entity.Account, error) {
	var a entity.Account
	err := r.db.WithContext(ctx).Where("username = ?", username).Take(&a).Error
	if err == nil {
		return &a, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *accountRepositoryImpl) GetByUUID(ctx context.Context, uuid string) (*entity.Account, error) {
	var a entity.Account
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).Take(&a).Error
	if err == nil {
		return &a, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}
