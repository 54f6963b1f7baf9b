package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/application/dto/request"
	"Nexus/internal/modules/inventory/application/dto/respond"
	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/mq"
	"Nexus/internal/modules/inventory/infrastructure/pipeline"
	"Nexus/internal/modules/inventory/infrastructure/queue"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 异步载荷在 redis 里的存活时间，超过则任务只能判失败
const ingestPayloadTTL = time.Hour

// IngestService 条目摄取服务接口
type IngestService interface {
	// Ingest 摄取一张图片为库内条目。
	// 同步路径阻塞到终态；异步路径立即返回 state=received 的 task_id。
	Ingest(ctx context.Context, req request.IngestItemRequest, ownerID string) (*respond.IngestRespond, error)
}

type ingestServiceImpl struct {
	pipe          *pipeline.IngestPipeline
	taskRepo      repository.IngestTaskRepository
	publisher     mq.Publisher
	payloads      queue.PayloadStore
	topic         string
	asyncEnabled  bool
	maxImageBytes int
}

// NewIngestService 创建摄取服务。publisher / payloads 为 nil 时异步路径退化为同步。
func NewIngestService(
	pipe *pipeline.IngestPipeline,
	taskRepo repository.IngestTaskRepository,
	publisher mq.Publisher,
	payloads queue.PayloadStore,
	topic string,
	asyncEnabled bool,
	maxImageBytes int,
) IngestService {
	return &ingestServiceImpl{
		pipe:          pipe,
		taskRepo:      taskRepo,
		publisher:     publisher,
		payloads:      payloads,
		topic:         topic,
		asyncEnabled:  asyncEnabled,
		maxImageBytes: maxImageBytes,
	}
}

func (s *ingestServiceImpl) Ingest(ctx context.Context, req request.IngestItemRequest, ownerID string) (*respond.IngestRespond, error) {
	if s.pipe == nil {
		return nil, fmt.Errorf("ingest pipeline is nil")
	}
	// 1. 参数校验与图片解码
	raw := strings.TrimSpace(req.ImageB64)
	if raw == "" {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "缺少 image_b64")
	}
	image, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "图片 base64 解码失败")
	}
	if len(image) == 0 {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "图片内容为空")
	}
	if s.maxImageBytes > 0 && len(image) > s.maxImageBytes {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "图片超过大小上限")
	}

	// 2. 建任务行（received）
	taskID := uuid.NewString()
	now := time.Now()
	task := &item.IngestTask{
		Id:        taskID,
		OwnerId:   ownerID,
		State:     item.TaskStateReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	// 3. 异步路径：暂存载荷、投递任务 id、立即返回
	if req.Async && s.asyncEnabled && s.publisher != nil && s.payloads != nil {
		if err := s.enqueue(ctx, taskID, ownerID, req, raw); err != nil {
			zlog.Warn("ingest enqueue failed, fall back to sync",
				zap.String("task_id", taskID), zap.Error(err))
		} else {
			return &respond.IngestRespond{
				TaskID: taskID,
				State:  item.TaskStateReceived,
			}, nil
		}
	}

	// 4. 同步路径：阻塞执行 Pipeline 至终态
	res, err := s.pipe.Ingest(ctx, &pipeline.IngestRequest{
		TaskID:   taskID,
		OwnerID:  ownerID,
		ItemID:   strings.TrimSpace(req.ItemID),
		Image:    image,
		TextHint: req.TextHint,
		ImageURL: strings.TrimSpace(req.ImageURL),
	})
	if err != nil {
		return nil, err
	}
	resp := &respond.IngestRespond{
		TaskID:     res.TaskID,
		ItemID:     res.ItemID,
		State:      res.State,
		ErrCode:    res.ErrCode,
		ErrMsg:     res.ErrMsg,
		RetryCount: res.RetryCount,
		DurationMs: res.DurationMs,
	}
	if res.State == item.TaskStateFailed {
		return resp, xerr.New(res.ErrCode, res.ErrMsg)
	}
	return resp, nil
}

func (s *ingestServiceImpl) enqueue(ctx context.Context, taskID, ownerID string, req request.IngestItemRequest, imageB64 string) error {
	payload := &queue.IngestPayload{
		OwnerID:  ownerID,
		ItemID:   strings.TrimSpace(req.ItemID),
		TextHint: strings.TrimSpace(req.TextHint),
		ImageURL: strings.TrimSpace(req.ImageURL),
		ImageB64: imageB64,
	}
	if err := s.payloads.Save(ctx, taskID, payload, ingestPayloadTTL); err != nil {
		return err
	}
	_, err := s.publisher.Publish(ctx, mq.Message{
		Topic: s.topic,
		Key:   []byte(taskID),
		Value: []byte(taskID),
	})
	if err != nil {
		// 投递失败时清掉暂存，走同步兜底
		_ = s.payloads.Delete(ctx, taskID)
		return err
	}
	return nil
}
