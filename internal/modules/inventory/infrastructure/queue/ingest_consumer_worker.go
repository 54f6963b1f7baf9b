package queue

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/mq"
	"Nexus/internal/modules/inventory/infrastructure/pipeline"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"go.uber.org/zap"
)

// IngestConsumerWorker 异步摄取消费端。
// 消息体只有任务 id；任务行用 TryMarkProcessing 抢占，抢不到说明
// 已被其他消费者处理（重投、多实例），直接跳过。
type IngestConsumerWorker struct {
	consumer mq.Consumer
	taskRepo repository.IngestTaskRepository
	payloads PayloadStore
	pipeline *pipeline.IngestPipeline
}

func NewIngestConsumerWorker(consumer mq.Consumer, taskRepo repository.IngestTaskRepository, payloads PayloadStore, p *pipeline.IngestPipeline) *IngestConsumerWorker {
	return &IngestConsumerWorker{
		consumer: consumer,
		taskRepo: taskRepo,
		payloads: payloads,
		pipeline: p,
	}
}

func (w *IngestConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.taskRepo == nil {
		return errors.New("task repo is nil")
	}
	if w.payloads == nil {
		return errors.New("payload store is nil")
	}
	if w.pipeline == nil {
		return errors.New("pipeline is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *IngestConsumerWorker) Close() error {
	if w == nil || w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}

func (w *IngestConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	taskID := strings.TrimSpace(string(msg.Value))
	if taskID == "" {
		zlog.Warn("ingest consumer empty task_id", zap.String("topic", msg.Topic))
		return nil
	}

	task, err := w.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		zlog.Warn("ingest consumer get task failed", zap.String("task_id", taskID), zap.Error(err))
		return err
	}
	if task == nil {
		zlog.Warn("ingest consumer unknown task", zap.String("task_id", taskID))
		return nil
	}
	if item.IsTerminalState(task.State) {
		return nil
	}

	ok, err := w.taskRepo.TryMarkProcessing(ctx, taskID, time.Now())
	if err != nil {
		zlog.Warn("ingest consumer claim failed", zap.String("task_id", taskID), zap.Error(err))
		return err
	}
	if !ok {
		return nil
	}

	payload, err := w.payloads.Load(ctx, taskID)
	if err != nil {
		zlog.Warn("ingest consumer load payload failed", zap.String("task_id", taskID), zap.Error(err))
		return err
	}
	if payload == nil {
		// 载荷已过期，任务无法再执行
		_ = w.taskRepo.MarkFailed(ctx, taskID, xerr.CodeInvalidInput, "图片载荷已过期")
		zlog.Warn("ingest consumer payload expired", zap.String("task_id", taskID))
		return nil
	}

	image, err := base64.StdEncoding.DecodeString(payload.ImageB64)
	if err != nil {
		_ = w.taskRepo.MarkFailed(ctx, taskID, xerr.CodeInvalidInput, "图片 base64 解码失败")
		_ = w.payloads.Delete(ctx, taskID)
		return nil
	}

	res, err := w.pipeline.Ingest(ctx, &pipeline.IngestRequest{
		TaskID:   taskID,
		OwnerID:  payload.OwnerID,
		ItemID:   payload.ItemID,
		Image:    image,
		TextHint: payload.TextHint,
		ImageURL: payload.ImageURL,
	})
	if err != nil {
		// Pipeline 本身出错（非业务失败），不提交位点等待重投
		zlog.Error("ingest consumer pipeline error", zap.String("task_id", taskID), zap.Error(err))
		return err
	}

	// 业务终态（indexed / failed）已由 Pipeline 落库，载荷不再需要
	_ = w.payloads.Delete(ctx, taskID)
	zlog.Info("ingest consumer task done",
		zap.String("task_id", taskID),
		zap.String("state", res.State),
		zap.String("item_id", res.ItemID),
		zap.Int("err_code", res.ErrCode))
	return nil
}
