package repository

import (
	"context"
	"time"

	"Nexus/internal/modules/inventory/domain/item"
)

// IngestTaskRepository 摄取任务仓储。
// TryMarkProcessing 用于异步消费端抢占任务：只有处于 received 的任务
// 能被抢到，返回 false 表示已被其他消费者处理或已终态。
type IngestTaskRepository interface {
	Create(ctx context.Context, task *item.IngestTask) error
	GetByID(ctx context.Context, id string) (*item.IngestTask, error)
	UpdateState(ctx context.Context, id string, state string) error
	TryMarkProcessing(ctx context.Context, id string, now time.Time) (bool, error)
	MarkIndexed(ctx context.Context, id string, itemID string) error
	MarkFailed(ctx context.Context, id string, errCode int, errMsg string) error
	AddRetry(ctx context.Context, id string) error
}
