package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/application/dto/request"
	"Nexus/internal/modules/inventory/application/dto/respond"
	"Nexus/internal/modules/inventory/domain/item"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/pipeline"
	"Nexus/pkg/redis"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"go.uber.org/zap"
)

// 图快照缓存：构图是 O(n²)，30 秒内的重复请求直接吃缓存
const (
	graphCacheKeyFmt = "nexus:graph:snapshot:%.4f:%d"
	graphCacheTTL    = 30 * time.Second
)

// QueryService 检索与条目读写服务接口
type QueryService interface {
	// SemanticSearch 语义检索（文本 / 图片 / 文本+图片）
	SemanticSearch(ctx context.Context, req request.SemanticSearchRequest, ownerID string) (*respond.SearchRespond, error)
	// GetItem 条目详情，未找到返回 xerr.ErrNotFound
	GetItem(ctx context.Context, id string) (*respond.ItemDetail, error)
	// DeleteItem 删除条目（索引先删、存储后删），未找到返回 xerr.ErrNotFound
	DeleteItem(ctx context.Context, id string) error
	// ListItems 条目列表（类别 / 关键词过滤）
	ListItems(ctx context.Context, req request.ItemListRequest) (*respond.ItemListRespond, error)
	// CountItems 库内条目总数
	CountItems(ctx context.Context) (int64, error)
	// GraphSnapshot 相似图快照，threshold / maxEdges ≤0 时取配置默认值
	GraphSnapshot(ctx context.Context, threshold float32, maxEdges int) (*respond.GraphSnapshotRespond, error)
}

type queryServiceImpl struct {
	pipe     *pipeline.SearchPipeline
	itemRepo repository.ItemRepository
	index    repository.VectorIndex

	defaultThreshold float32
	defaultMaxEdges  int
}

func NewQueryService(
	pipe *pipeline.SearchPipeline,
	itemRepo repository.ItemRepository,
	index repository.VectorIndex,
	defaultThreshold float32,
	defaultMaxEdges int,
) QueryService {
	return &queryServiceImpl{
		pipe:             pipe,
		itemRepo:         itemRepo,
		index:            index,
		defaultThreshold: defaultThreshold,
		defaultMaxEdges:  defaultMaxEdges,
	}
}

func (s *queryServiceImpl) SemanticSearch(ctx context.Context, req request.SemanticSearchRequest, ownerID string) (*respond.SearchRespond, error) {
	if s.pipe == nil {
		return nil, fmt.Errorf("search pipeline is nil")
	}
	// 1. 图片查询先解码
	var image []byte
	if raw := strings.TrimSpace(req.ImageB64); raw != "" {
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, xerr.Wrap(xerr.ErrInvalidInput, "图片 base64 解码失败")
		}
		image = b
	}
	// 2. 执行检索 Pipeline
	result, err := s.pipe.Search(ctx, &pipeline.SearchRequest{
		OwnerID:  ownerID,
		Query:    req.Query,
		Image:    image,
		TopK:     req.TopK,
		Category: req.Category,
	})
	if err != nil {
		return nil, err
	}
	// 3. 转换为 DTO 响应
	return &respond.SearchRespond{
		QueryID:      result.QueryID,
		Hits:         result.Hits,
		TotalInIndex: result.TotalInIndex,
		EmbeddingMs:  result.EmbeddingMs,
		SearchMs:     result.SearchMs,
		DurationMs:   result.DurationMs,
		IsEmpty:      result.IsEmpty,
		Message:      result.Message,
	}, nil
}

func (s *queryServiceImpl) GetItem(ctx context.Context, id string) (*respond.ItemDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "缺少条目 id")
	}
	it, err := s.itemRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, xerr.ErrNotFound
	}
	return itemDetail(it), nil
}

func (s *queryServiceImpl) DeleteItem(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return xerr.Wrap(xerr.ErrInvalidInput, "缺少条目 id")
	}
	// 先删索引再删存储：中途失败最多留下"存储有、索引无"的条目，
	// 不会出现检索命中但详情 404
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	affected, err := s.itemRepo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return xerr.ErrNotFound
	}
	zlog.Info("item deleted", zap.String("item_id", id))
	return nil
}

func (s *queryServiceImpl) ListItems(ctx context.Context, req request.ItemListRequest) (*respond.ItemListRespond, error) {
	items, err := s.itemRepo.List(ctx, repository.ItemFilter{
		Category: strings.TrimSpace(req.Category),
		Keyword:  strings.TrimSpace(req.Keyword),
		Offset:   req.Offset,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, err
	}
	total, err := s.itemRepo.Count(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]respond.ItemDetail, 0, len(items))
	for i := range items {
		out = append(out, *itemDetail(&items[i]))
	}
	return &respond.ItemListRespond{Items: out, Total: total}, nil
}

func (s *queryServiceImpl) CountItems(ctx context.Context) (int64, error) {
	return s.itemRepo.Count(ctx)
}

func (s *queryServiceImpl) GraphSnapshot(ctx context.Context, threshold float32, maxEdges int) (*respond.GraphSnapshotRespond, error) {
	if threshold <= 0 {
		threshold = s.defaultThreshold
	}
	if maxEdges <= 0 {
		maxEdges = s.defaultMaxEdges
	}
	// 1. 缓存命中直接返回
	cacheKey := fmt.Sprintf(graphCacheKeyFmt, threshold, maxEdges)
	if redis.IsConnected() {
		if raw, err := redis.Get(ctx, cacheKey); err == nil && raw != "" {
			var snap respond.GraphSnapshotRespond
			if err := json.Unmarshal([]byte(raw), &snap); err == nil {
				snap.Cached = true
				return &snap, nil
			}
		}
	}
	// 2. 导出边集与节点集
	edges, err := s.index.ExportEdges(ctx, threshold, maxEdges)
	if err != nil {
		return nil, err
	}
	items, err := s.itemRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]respond.GraphNode, 0, len(items))
	for i := range items {
		nodes = append(nodes, respond.GraphNode{
			ItemID:   items[i].Id,
			Name:     items[i].Name,
			Category: items[i].Category,
		})
	}
	snap := &respond.GraphSnapshotRespond{
		Nodes:       nodes,
		Edges:       edges,
		Threshold:   threshold,
		MaxEdges:    maxEdges,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}
	// 3. 回填缓存（失败不影响响应）
	if redis.IsConnected() {
		if b, err := json.Marshal(snap); err == nil {
			if err := redis.Set(ctx, cacheKey, string(b), graphCacheTTL); err != nil {
				zlog.Warn("graph snapshot cache set failed", zap.Error(err))
			}
		}
	}
	return snap, nil
}

func itemDetail(it *item.Item) *respond.ItemDetail {
	return &respond.ItemDetail{
		ItemID:     it.Id,
		Name:       it.Name,
		Category:   it.Category,
		Attributes: it.Attributes(),
		ImageURL:   it.ImageURL,
		CreatedAt:  it.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  it.UpdatedAt.Format(time.RFC3339),
	}
}
