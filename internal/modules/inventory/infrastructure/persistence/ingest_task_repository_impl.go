package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"

	"gorm.io/gorm"
)

type ingestTaskRepositoryImpl struct {
	db *gorm.DB
}

func NewIngestTaskRepository(db *gorm.DB) repository.IngestTaskRepository {
	return &ingestTaskRepositoryImpl{db: db}
}

func (r *ingestTaskRepositoryImpl) Create(ctx context.Context, task *item.IngestTask) error {
	if task == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *ingestTaskRepositoryImpl) GetByID(ctx context.Context, id string) (*item.IngestTask, error) {
	var task item.IngestTask
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&task).Error
	if err == nil {
		return &task, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *ingestTaskRepositoryImpl) UpdateState(ctx context.Context, id string, state string) error {
	return r.db.WithContext(ctx).Model(&item.IngestTask{}).Where("id = ?", id).
		Updates(map[string]any{"state": state, "updated_at": time.Now()}).Error
}

// TryMarkProcessing 消费端抢占：只有 received 状态能被抢到，
// RowsAffected=0 说明已被其他消费者处理
func (r *ingestTaskRepositoryImpl) TryMarkProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&item.IngestTask{}).
		Where("id = ? AND state = ?", id, item.TaskStateReceived).
		Updates(map[string]any{"state": item.TaskStateEmbedding, "updated_at": now})
	return res.RowsAffected > 0, res.Error
}

func (r *ingestTaskRepositoryImpl) MarkIndexed(ctx context.Context, id string, itemID string) error {
	return r.db.WithContext(ctx).Model(&item.IngestTask{}).Where("id = ?", id).
		Updates(map[string]any{
			"state":      item.TaskStateIndexed,
			"item_id":    itemID,
			"error_code": 0,
			"error_msg":  "",
			"updated_at": time.Now(),
		}).Error
}

func (r *ingestTaskRepositoryImpl) MarkFailed(ctx context.Context, id string, errCode int, errMsg string) error {
	errMsg = strings.TrimSpace(errMsg)
	if len(errMsg) > 255 {
		errMsg = errMsg[:255]
	}
	return r.db.WithContext(ctx).Model(&item.IngestTask{}).Where("id = ?", id).
		Updates(map[string]any{
			"state":      item.TaskStateFailed,
			"error_code": errCode,
			"error_msg":  errMsg,
			"updated_at": time.Now(),
		}).Error
}

func (r *ingestTaskRepositoryImpl) AddRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&item.IngestTask{}).Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + ?", 1),
			"updated_at":  time.Now(),
		}).Error
}
