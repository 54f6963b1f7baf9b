package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ingestState 摄取 Pipeline 的中间状态（在节点间传递）
type ingestState struct {
	Req         *IngestRequest               // 原始请求
	ItemID      string                       // 本次写入的条目 id
	Vec         []float32                    // 图片向量
	Extracted   *repository.ExtractedContext // 视觉模型抽取结果
	Prev        *item.Item                   // 覆盖更新时的旧快照（新建为 nil）
	Persisted   bool                         // Item Store 是否已写入（决定是否需要回滚）
	Start       time.Time                    // 开始时间
	EmbeddingMs int64                        // 向量化耗时
	ExtractMs   int64                        // 属性抽取耗时
	RetryCount  int                          // 模型调用重试总次数
	Err         error                        // 错误（如果有）
}

// buildGraph 构建摄取 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → Embed → Extract → Persist → IndexVec → BuildResult
func (p *IngestPipeline) buildGraph(ctx context.Context) (compose.Runnable[*IngestRequest, *IngestResult], error) {
	const (
		Validate    = "Validate"
		Embed       = "Embed"
		Extract     = "Extract"
		Persist     = "Persist"
		IndexVec    = "IndexVec"
		BuildResult = "BuildResult"
	)
	g := compose.NewGraph[*IngestRequest, *IngestResult]()
	// 添加节点
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Extract, compose.InvokableLambdaWithOption(p.extractNode), compose.WithNodeName(Extract))
	_ = g.AddLambdaNode(Persist, compose.InvokableLambdaWithOption(p.persistNode), compose.WithNodeName(Persist))
	_ = g.AddLambdaNode(IndexVec, compose.InvokableLambdaWithOption(p.indexNode), compose.WithNodeName(IndexVec))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))
	// 添加边（定义节点顺序）
	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, Embed)
	_ = g.AddEdge(Embed, Extract)
	_ = g.AddEdge(Extract, Persist)
	_ = g.AddEdge(Persist, IndexVec)
	_ = g.AddEdge(IndexVec, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)
	// 编译为 Runnable
	return g.Compile(ctx, compose.WithGraphName("ItemIngestPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// transition 记录任务状态转移并通知观察者。
// 任务行更新失败只告警，不中断摄取本身。
func (p *IngestPipeline) transition(ctx context.Context, taskID, state string) {
	if err := p.taskRepo.UpdateState(ctx, taskID, state); err != nil {
		zlog.Warn("ingest task state update failed",
			zap.String("task_id", taskID),
			zap.String("state", state),
			zap.Error(err))
	}
	if p.observer != nil {
		p.observer(taskID, state, "")
	}
}

// withRetry 对模型调用做有限指数退避重试。
// 只有 ProviderUnavailable 会重试，其余错误（含 ctx 取消）立即返回。
// 返回实际重试次数。
func (p *IngestPipeline) withRetry(ctx context.Context, taskID string, fn func() error) (int, error) {
	delay := p.baseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !xerr.IsRetryable(err) || attempt >= p.retryTimes {
			return attempt, err
		}
		if rerr := p.taskRepo.AddRetry(ctx, taskID); rerr != nil {
			zlog.Warn("ingest task retry count update failed",
				zap.String("task_id", taskID), zap.Error(rerr))
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// validateNode 节点 1：校验请求参数并确定条目 id
func (p *IngestPipeline) validateNode(ctx context.Context, req *IngestRequest, _ ...any) (*ingestState, error) {
	_ = ctx
	st := &ingestState{
		Req:   req,
		Start: time.Now(),
	}
	if req == nil {
		st.Err = fmt.Errorf("ingest request is nil")
		return st, nil
	}
	req.TaskID = strings.TrimSpace(req.TaskID)
	if req.TaskID == "" {
		st.Err = fmt.Errorf("missing task_id")
		return st, nil
	}
	if len(req.Image) == 0 {
		st.Err = xerr.Wrap(xerr.ErrInvalidInput, "图片内容为空")
		return st, nil
	}
	req.TextHint = strings.TrimSpace(req.TextHint)
	// 指定 id 表示覆盖更新，否则新建
	st.ItemID = strings.TrimSpace(req.ItemID)
	if st.ItemID == "" {
		st.ItemID = uuid.NewString()
	}
	return st, nil
}

// embedNode 节点 2：将图片（连同文本提示）向量化
func (p *IngestPipeline) embedNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	p.transition(ctx, st.Req.TaskID, item.TaskStateEmbedding)
	embStart := time.Now()
	var vec []float32
	retries, err := p.withRetry(ctx, st.Req.TaskID, func() error {
		var embErr error
		vec, embErr = p.provider.EmbedImage(ctx, st.Req.Image, st.Req.TextHint)
		return embErr
	})
	st.RetryCount += retries
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Vec = vec
	st.EmbeddingMs = time.Since(embStart).Milliseconds()
	return st, nil
}

// extractNode 节点 3：视觉模型抽取名称、类别与属性
func (p *IngestPipeline) extractNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	p.transition(ctx, st.Req.TaskID, item.TaskStateExtracting)
	exStart := time.Now()
	var ec *repository.ExtractedContext
	retries, err := p.withRetry(ctx, st.Req.TaskID, func() error {
		var exErr error
		ec, exErr = p.extractor.Extract(ctx, st.Req.Image, st.Req.TextHint)
		return exErr
	})
	st.RetryCount += retries
	if err != nil {
		st.Err = err
		return st, nil
	}
	if ec == nil {
		st.Err = xerr.Wrap(xerr.ErrProviderUnavailable, "抽取结果为空")
		return st, nil
	}
	st.Extracted = ec
	st.ExtractMs = time.Since(exStart).Milliseconds()
	return st, nil
}

// persistNode 节点 4：写入 Item Store（覆盖更新前先留存旧快照）
func (p *IngestPipeline) persistNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	p.transition(ctx, st.Req.TaskID, item.TaskStatePersisting)
	prev, err := p.itemRepo.GetByID(ctx, st.ItemID)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Prev = prev
	now := time.Now()
	it := &item.Item{
		Id:        st.ItemID,
		Name:      st.Extracted.Name,
		Category:  st.Extracted.Category,
		ImageURL:  st.Req.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev != nil {
		it.CreatedAt = prev.CreatedAt
		if it.ImageURL == "" {
			it.ImageURL = prev.ImageURL
		}
	}
	it.SetAttributes(st.Extracted.Attributes)
	it.SetEmbedding(st.Vec)
	if err := p.itemRepo.Save(ctx, it); err != nil {
		st.Err = err
		return st, nil
	}
	st.Persisted = true
	return st, nil
}

// indexNode 节点 5：写入向量索引；失败则回滚 Item Store 写入
func (p *IngestPipeline) indexNode(ctx context.Context, st *ingestState, _ ...any) (*ingestState, error) {
	if st == nil {
		return &ingestState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	if err := p.index.Insert(ctx, st.ItemID, st.Vec); err != nil {
		st.Err = err
		p.rollbackPersist(ctx, st)
		return st, nil
	}
	return st, nil
}

// rollbackPersist 撤销本轮的 Item Store 写入：新建删除，覆盖更新恢复旧快照。
// 索引里仍是旧向量（或没有该 id），回滚后两边重新对齐。
func (p *IngestPipeline) rollbackPersist(ctx context.Context, st *ingestState) {
	if !st.Persisted {
		return
	}
	var err error
	if st.Prev != nil {
		err = p.itemRepo.Save(ctx, st.Prev)
	} else {
		_, err = p.itemRepo.Delete(ctx, st.ItemID)
	}
	if err != nil {
		zlog.Error("ingest rollback failed, store and index may diverge",
			zap.String("task_id", st.Req.TaskID),
			zap.String("item_id", st.ItemID),
			zap.Error(err))
		return
	}
	st.Persisted = false
}

// buildResultNode 节点 6：落终态并组装结果。
// 无论成败都返回 IngestResult，失败信息由 State/ErrCode/ErrMsg 承载。
func (p *IngestPipeline) buildResultNode(ctx context.Context, st *ingestState, _ ...any) (*IngestResult, error) {
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	res := &IngestResult{
		ItemID:     st.ItemID,
		RetryCount: st.RetryCount,
		DurationMs: time.Since(st.Start).Milliseconds(),
	}
	taskID := ""
	ownerID := ""
	if st.Req != nil {
		taskID = st.Req.TaskID
		ownerID = st.Req.OwnerID
	}
	res.TaskID = taskID
	res.EmbeddingMs = st.EmbeddingMs
	res.ExtractMs = st.ExtractMs

	if st.Err != nil {
		res.State = item.TaskStateFailed
		res.ErrCode, res.ErrMsg = errCodeOf(st.Err)
		res.ItemID = ""
		if taskID != "" {
			if err := p.taskRepo.MarkFailed(ctx, taskID, res.ErrCode, res.ErrMsg); err != nil {
				zlog.Warn("ingest task mark failed error",
					zap.String("task_id", taskID), zap.Error(err))
			}
			if p.observer != nil {
				p.observer(taskID, item.TaskStateFailed, res.ErrMsg)
			}
		}
		zlog.Warn("item ingest failed",
			zap.String("task_id", taskID),
			zap.String("owner_id", ownerID),
			zap.Int("err_code", res.ErrCode),
			zap.String("err_msg", res.ErrMsg),
			zap.Int("retry_count", res.RetryCount),
			zap.Int64("duration_ms", res.DurationMs))
		return res, nil
	}

	res.State = item.TaskStateIndexed
	if err := p.taskRepo.MarkIndexed(ctx, taskID, st.ItemID); err != nil {
		zlog.Warn("ingest task mark indexed error",
			zap.String("task_id", taskID), zap.Error(err))
	}
	if p.observer != nil {
		p.observer(taskID, item.TaskStateIndexed, "")
	}
	name, category := "", ""
	if st.Extracted != nil {
		name = st.Extracted.Name
		category = st.Extracted.Category
	}
	zlog.Info("item ingest done",
		zap.String("task_id", taskID),
		zap.String("owner_id", ownerID),
		zap.String("item_id", st.ItemID),
		zap.String("name", name),
		zap.String("category", category),
		zap.Bool("overwrite", st.Prev != nil),
		zap.Int("retry_count", res.RetryCount),
		zap.Int64("embedding_ms", res.EmbeddingMs),
		zap.Int64("extract_ms", res.ExtractMs),
		zap.Int64("duration_ms", res.DurationMs))
	return res, nil
}

// errCodeOf 把任意错误折算成对外的错误码与描述
func errCodeOf(err error) (int, string) {
	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		return ce.Code, ce.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xerr.ServiceUnavailable, "任务被取消或超时"
	}
	return xerr.InternalServerError, err.Error()
}
