package service

import (
	"context"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/application/dto/respond"
	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/pipeline"
	"Nexus/pkg/redis"
	"Nexus/pkg/ws"
	"Nexus/pkg/xerr"
)

const (
	taskStateKeyPrefix = "nexus:task:state:"
	taskStateCacheTTL  = 10 * time.Minute
)

// TaskService 摄取任务查询服务接口
type TaskService interface {
	// GetTask 任务状态（轮询用），未找到返回 xerr.ErrNotFound
	GetTask(ctx context.Context, taskID string) (*respond.TaskStatusRespond, error)
}

type taskServiceImpl struct {
	taskRepo repository.IngestTaskRepository
}

func NewTaskService(taskRepo repository.IngestTaskRepository) TaskService {
	return &taskServiceImpl{taskRepo: taskRepo}
}

func (s *taskServiceImpl) GetTask(ctx context.Context, taskID string) (*respond.TaskStatusRespond, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "缺少 task_id")
	}
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, xerr.ErrNotFound
	}
	return &respond.TaskStatusRespond{
		TaskID:     task.Id,
		State:      task.State,
		ItemID:     task.ItemId,
		ErrCode:    task.ErrorCode,
		ErrMsg:     task.ErrorMsg,
		RetryCount: task.RetryCount,
		CreatedAt:  task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  task.UpdatedAt.Format(time.RFC3339),
	}, nil
}

// taskProgressEvent websocket 推送的进度事件
type taskProgressEvent struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
	ErrMsg string `json:"err_msg,omitempty"`
}

// NewTaskStateObserver 把 Pipeline 的状态转移接到 websocket 推送与
// redis 状态缓存上。终态之后断开该任务的所有订阅端。
func NewTaskStateObserver(hub *ws.Hub) pipeline.StateObserver {
	return func(taskID, state string, errMsg string) {
		if taskID == "" {
			return
		}
		if redis.IsConnected() {
			_ = redis.Set(context.Background(), taskStateKeyPrefix+taskID, state, taskStateCacheTTL)
		}
		if hub == nil {
			return
		}
		_ = hub.PublishJSON(taskID, taskProgressEvent{
			TaskID: taskID,
			State:  state,
			ErrMsg: errMsg,
		})
		if item.IsTerminalState(state) {
			hub.CloseTask(taskID)
		}
	}
}
