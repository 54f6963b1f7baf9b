package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"Nexus/internal/modules/inventory/application/dto/respond"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/pkg/util"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

const maxSearchTopK = 100

// searchState 语义检索 Pipeline 的中间状态（在节点间传递）
type searchState struct {
	Req          *SearchRequest         // 原始请求
	QueryVec     []float32              // 查询向量
	Filter       func(id string) bool   // 类别过滤谓词（截断前生效），nil 表示不过滤
	RawHits      []repository.VectorHit // 索引原始命中
	Hits         []respond.ItemHit      // 解析后的命中明细
	TotalInIndex int                    // 检索时索引内条目总数
	Start        time.Time              // 开始时间
	EmbeddingMs  int64                  // 向量化耗时
	SearchMs     int64                  // 检索耗时
	Err          error                  // 错误（如果有）
}

// buildGraph 构建语义检索 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → EmbedQuery → SearchVector → ResolveItems → BuildResult
func (p *SearchPipeline) buildGraph(ctx context.Context) (compose.Runnable[*SearchRequest, *SearchResult], error) {
	const (
		Validate     = "Validate"
		EmbedQuery   = "EmbedQuery"
		SearchVector = "SearchVector"
		ResolveItems = "ResolveItems"
		BuildResult  = "BuildResult"
	)
	g := compose.NewGraph[*SearchRequest, *SearchResult]()
	// 添加节点
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(SearchVector, compose.InvokableLambdaWithOption(p.searchVectorNode), compose.WithNodeName(SearchVector))
	_ = g.AddLambdaNode(ResolveItems, compose.InvokableLambdaWithOption(p.resolveItemsNode), compose.WithNodeName(ResolveItems))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))
	// 添加边（定义节点顺序）
	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, SearchVector)
	_ = g.AddEdge(SearchVector, ResolveItems)
	_ = g.AddEdge(ResolveItems, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)
	// 编译为 Runnable
	return g.Compile(ctx, compose.WithGraphName("SemanticSearchPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 节点 1：校验请求参数并规范化 TopK
func (p *SearchPipeline) validateNode(ctx context.Context, req *SearchRequest, _ ...any) (*searchState, error) {
	_ = ctx
	st := &searchState{
		Req:   req,
		Start: time.Now(),
	}
	if req == nil {
		st.Err = fmt.Errorf("search request is nil")
		return st, nil
	}
	req.Query = strings.TrimSpace(req.Query)
	req.Category = strings.TrimSpace(req.Category)
	if req.Query == "" && len(req.Image) == 0 {
		st.Err = xerr.Wrap(xerr.ErrInvalidInput, "query 与 image 至少给出一项")
		return st, nil
	}
	if req.TopK <= 0 {
		req.TopK = p.defaultTopK
	}
	if req.TopK > maxSearchTopK {
		req.TopK = maxSearchTopK
	}
	return st, nil
}

// embedQueryNode 节点 2：查询向量化。
// 给了图片走图片通道（文本作提示），否则走纯文本通道。
func (p *SearchPipeline) embedQueryNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil {
		return &searchState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	embStart := time.Now()
	var vec []float32
	var err error
	if len(st.Req.Image) > 0 {
		vec, err = p.provider.EmbedImage(ctx, st.Req.Image, st.Req.Query)
	} else {
		vec, err = p.provider.EmbedText(ctx, st.Req.Query)
	}
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.QueryVec = vec
	st.EmbeddingMs = time.Since(embStart).Milliseconds()
	return st, nil
}

// searchVectorNode 节点 3：构造类别过滤谓词并执行近邻检索
func (p *SearchPipeline) searchVectorNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil {
		return &searchState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	searchStart := time.Now()
	if total, err := p.index.Len(ctx); err == nil {
		st.TotalInIndex = total
	}
	// 类别过滤在截断 top-K 之前生效，命中数不会因过滤而少于候选内真实前 K
	if st.Req.Category != "" {
		ids, err := p.itemRepo.ListIDsByCategory(ctx, st.Req.Category)
		if err != nil {
			st.Err = err
			return st, nil
		}
		if len(ids) == 0 {
			st.RawHits = []repository.VectorHit{}
			st.SearchMs = time.Since(searchStart).Milliseconds()
			return st, nil
		}
		allowed := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			allowed[id] = struct{}{}
		}
		st.Filter = func(id string) bool {
			_, ok := allowed[id]
			return ok
		}
	}
	hits, err := p.index.Query(ctx, st.QueryVec, st.Req.TopK, st.Filter)
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.RawHits = hits
	st.SearchMs = time.Since(searchStart).Milliseconds()
	return st, nil
}

// resolveItemsNode 节点 4：按命中 id 回查 Item Store。
// 索引里有而存储里没有属于不一致，丢弃该命中并告警，不让整次查询失败。
func (p *SearchPipeline) resolveItemsNode(ctx context.Context, st *searchState, _ ...any) (*searchState, error) {
	if st == nil {
		return &searchState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}
	hits := make([]respond.ItemHit, 0, len(st.RawHits))
	for _, h := range st.RawHits {
		it, err := p.itemRepo.GetByID(ctx, h.ID)
		if err != nil {
			st.Err = err
			return st, nil
		}
		if it == nil {
			zlog.Warn("vector index hit missing from item store",
				zap.String("item_id", h.ID),
				zap.Int("err_code", xerr.CodeInconsistency))
			continue
		}
		hits = append(hits, respond.ItemHit{
			ItemID:     it.Id,
			Name:       it.Name,
			Category:   it.Category,
			Attributes: it.Attributes(),
			ImageURL:   it.ImageURL,
			Score:      h.Score,
		})
	}
	st.Hits = hits
	return st, nil
}

// buildResultNode 节点 5：组装最终响应结构
func (p *SearchPipeline) buildResultNode(ctx context.Context, st *searchState, _ ...any) (*SearchResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	req := st.Req
	res := &SearchResult{
		QueryID:      fmt.Sprintf("q_%s_%d", util.GenerateShortUUID(), time.Now().UnixNano()),
		Hits:         st.Hits,
		TotalInIndex: st.TotalInIndex,
		EmbeddingMs:  st.EmbeddingMs,
		SearchMs:     st.SearchMs,
		DurationMs:   time.Since(st.Start).Milliseconds(),
	}
	if res.Hits == nil {
		res.Hits = []respond.ItemHit{}
	}
	// 兜底策略：未命中时给出提示
	if st.Err == nil && len(res.Hits) == 0 {
		res.IsEmpty = true
		res.Message = "未找到相似条目，试试换个描述或放宽类别限制"
	}
	ownerID, query, topK, category, imageLen := "", "", 0, "", 0
	if req != nil {
		ownerID = req.OwnerID
		query = req.Query
		topK = req.TopK
		category = req.Category
		imageLen = len(req.Image)
	}
	zlog.Info("semantic search done",
		zap.String("query_id", res.QueryID),
		zap.String("owner_id", ownerID),
		zap.String("query", query),
		zap.Int("image_bytes", imageLen),
		zap.Int("top_k", topK),
		zap.String("category", category),
		zap.Int("total_in_index", res.TotalInIndex),
		zap.Int("returned_count", len(res.Hits)),
		zap.Int64("embedding_ms", res.EmbeddingMs),
		zap.Int64("search_ms", res.SearchMs),
		zap.Int64("duration_ms", res.DurationMs),
		zap.Bool("is_empty", res.IsEmpty))
	return res, st.Err
}
