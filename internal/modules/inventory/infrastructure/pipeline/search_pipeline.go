package pipeline

import (
	"context"
	"fmt"

	"Nexus/internal/modules/inventory/application/dto/respond"
	"Nexus/internal/modules/inventory/domain/repository"

	"github.com/cloudwego/eino/compose"
)

// SearchRequest 语义检索 Pipeline 的输入。
// Query 与 Image 至少其一；两者同时给出时图片为主、文本作提示。
type SearchRequest struct {
	OwnerID  string // 发起用户（从 JWT 提取，用于日志）
	Query    string // 自然语言查询
	Image    []byte // 以图搜图的图片载荷
	TopK     int    // 默认取配置 engine.default_top_k
	Category string // 限定类别（可选）
}

// SearchResult 语义检索 Pipeline 的输出
type SearchResult struct {
	QueryID      string            // 本次查询唯一 ID（便于追踪回放）
	Hits         []respond.ItemHit // 解析后的命中条目
	TotalInIndex int               // 检索时索引内条目总数
	DurationMs   int64             // 总耗时（毫秒）
	EmbeddingMs  int64             // 向量化耗时（毫秒）
	SearchMs     int64             // 近邻检索耗时（毫秒）
	IsEmpty      bool              // 是否未命中任何结果
	Message      string            // 提示信息
}

// SearchPipeline 语义检索 Pipeline（基于 Eino compose.Graph）。
// 与 IngestPipeline 保持一致的架构风格：只依赖 domain 层接口，
// 错误随状态结构在节点间传递，最后一个节点统一收口。
type SearchPipeline struct {
	provider repository.EmbeddingProvider
	itemRepo repository.ItemRepository
	index    repository.VectorIndex

	defaultTopK int
	r           compose.Runnable[*SearchRequest, *SearchResult]
}

func NewSearchPipeline(
	provider repository.EmbeddingProvider,
	itemRepo repository.ItemRepository,
	index repository.VectorIndex,
	defaultTopK int,
) (*SearchPipeline, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is nil")
	}
	if itemRepo == nil {
		return nil, fmt.Errorf("item repo is nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 15
	}
	p := &SearchPipeline{
		provider:    provider,
		itemRepo:    itemRepo,
		index:       index,
		defaultTopK: defaultTopK,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Search 执行语义检索（封装 Eino Runnable.Invoke）
func (p *SearchPipeline) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}
