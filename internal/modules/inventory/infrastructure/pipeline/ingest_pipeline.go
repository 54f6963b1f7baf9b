package pipeline

import (
	"context"
	"fmt"
	"time"

	"Nexus/internal/modules/inventory/domain/repository"

	"github.com/cloudwego/eino/compose"
)

// IngestRequest 摄取 Pipeline 的输入
type IngestRequest struct {
	TaskID   string // 任务 id（必填，调用方生成）
	OwnerID  string // 归属用户
	ItemID   string // 指定则为重新摄取（覆盖更新），留空新建
	Image    []byte // 图片载荷（必填）
	TextHint string // 可选文本提示
	ImageURL string // 图片上传后的外部地址（可选）
}

// IngestResult 摄取 Pipeline 的输出
type IngestResult struct {
	TaskID      string
	ItemID      string
	State       string // indexed 或 failed
	ErrCode     int
	ErrMsg      string
	DurationMs  int64
	EmbeddingMs int64
	ExtractMs   int64
	RetryCount  int
}

// StateObserver 任务状态演进的观察者（ws 推送、redis 缓存等），可为 nil
type StateObserver func(taskID, state string, errMsg string)

// IngestPipeline 摄取 Pipeline（基于 Eino compose.Graph）。
//
// 状态机：received → embedding → extracting → persisting → indexed，
// 任一非终态可转入 failed。每次转移都落到任务表并通知观察者。
//
// 失败策略：
//   - ProviderUnavailable 在 Embed / Extract 节点内做有限指数退避重试；
//   - 其余错误立即终止；
//   - Persist 成功而 Index 失败时回滚 Item Store 写入（新建则删除，
//     覆盖更新则恢复旧快照），保证存储与索引的 id 对齐不变式。
type IngestPipeline struct {
	provider  repository.EmbeddingProvider
	extractor repository.AttributeExtractor
	itemRepo  repository.ItemRepository
	taskRepo  repository.IngestTaskRepository
	index     repository.VectorIndex

	retryTimes int
	baseDelay  time.Duration
	observer   StateObserver

	r compose.Runnable[*IngestRequest, *IngestResult]
}

func NewIngestPipeline(
	provider repository.EmbeddingProvider,
	extractor repository.AttributeExtractor,
	itemRepo repository.ItemRepository,
	taskRepo repository.IngestTaskRepository,
	index repository.VectorIndex,
	retryTimes int,
	observer StateObserver,
) (*IngestPipeline, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("attribute extractor is nil")
	}
	if itemRepo == nil {
		return nil, fmt.Errorf("item repo is nil")
	}
	if taskRepo == nil {
		return nil, fmt.Errorf("task repo is nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is nil")
	}
	if retryTimes <= 0 {
		retryTimes = 3
	}
	p := &IngestPipeline{
		provider:   provider,
		extractor:  extractor,
		itemRepo:   itemRepo,
		taskRepo:   taskRepo,
		index:      index,
		retryTimes: retryTimes,
		baseDelay:  200 * time.Millisecond,
		observer:   observer,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Ingest 执行摄取（封装 Eino Runnable.Invoke）
func (p *IngestPipeline) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	if req == nil {
		return nil, fmt.Errorf("ingest request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}
