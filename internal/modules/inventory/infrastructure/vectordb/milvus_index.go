package vectordb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/pkg/xerr"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusIndex 外置向量索引适配器，实现与 MemoryIndex 相同的契约。
// 适用于条目规模超出进程内存的部署；由 engineConfig.indexBackend 切换。
//
// 召回说明：带 category 谓词的 Query 通过放大 limit 后在客户端过滤实现，
// 候选放大倍数固定为 4，极端过滤比例下召回可能低于暴力实现；
// ExportEdges 为保证确定性，从 Item Store 全量读取向量后在本地计算。
type MilvusIndex struct {
	cli         mclient.Client
	collection  string
	vectorField string
	metricType  entity.MetricType
	dim         int
	searchParam entity.SearchParam

	itemRepo repository.ItemRepository
}

var _ repository.VectorIndex = (*MilvusIndex)(nil)

func NewMilvusIndex(cli mclient.Client, collection string, dim int, metricType entity.MetricType, itemRepo repository.ItemRepository) (*MilvusIndex, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dim: %d", dim)
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	return &MilvusIndex{
		cli:         cli,
		collection:  collection,
		vectorField: "vector",
		metricType:  metricType,
		dim:         dim,
		searchParam: sp,
		itemRepo:    itemRepo,
	}, nil
}

func (s *MilvusIndex) Dimension() int { return s.dim }

func (s *MilvusIndex) Insert(ctx context.Context, id string, vec []float32) error {
	if id == "" {
		return xerr.Wrap(xerr.ErrInvalidInput, "vector id is empty")
	}
	if len(vec) != s.dim {
		return xerr.Wrap(xerr.ErrDimensionMismatch, fmt.Sprintf("got=%d want=%d", len(vec), s.dim))
	}
	_, err := s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar("id", []string{id}),
		entity.NewColumnFloatVector(s.vectorField, s.dim, [][]float32{vec}),
	)
	return err
}

func (s *MilvusIndex) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	expr := fmt.Sprintf(`id in ["%s"]`, id)
	return s.cli.Delete(ctx, s.collection, "", expr)
}

func (s *MilvusIndex) Len(ctx context.Context) (int, error) {
	stats, err := s.cli.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(stats["row_count"])
	return n, nil
}

func (s *MilvusIndex) Query(ctx context.Context, vec []float32, k int, filter func(id string) bool) ([]repository.VectorHit, error) {
	if len(vec) != s.dim {
		return nil, xerr.Wrap(xerr.ErrDimensionMismatch, fmt.Sprintf("got=%d want=%d", len(vec), s.dim))
	}
	if k <= 0 {
		return []repository.VectorHit{}, nil
	}

	limit := k
	if filter != nil {
		limit = k * 4
	}

	res, err := s.cli.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{},
		[]entity.Vector{entity.FloatVector(vec)},
		s.vectorField,
		s.metricType,
		limit,
		s.searchParam,
	)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return []repository.VectorHit{}, nil
	}

	sr := res[0]
	if sr.Err != nil {
		return nil, sr.Err
	}
	hits := make([]repository.VectorHit, 0, sr.ResultCount)
	for i := 0; i < sr.ResultCount; i++ {
		id, _ := sr.IDs.GetAsString(i)
		if filter != nil && !filter(id) {
			continue
		}
		score := float32(0)
		if i < len(sr.Scores) {
			score = clampScore(sr.Scores[i])
		}
		hits = append(hits, repository.VectorHit{ID: id, Score: score})
	}

	// Milvus 对同分命中不保证顺序，本地重排保证确定性
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ExportEdges 边导出不走 Milvus：全量向量从 Item Store 读出后本地两两
// 计算，与 MemoryIndex 完全一致的排序与去重语义
func (s *MilvusIndex) ExportEdges(ctx context.Context, threshold float32, maxEdges int) ([]repository.GraphEdge, error) {
	if s.itemRepo == nil {
		return nil, errors.New("item repo is nil")
	}
	items, err := s.itemRepo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	local, err := NewMemoryIndex(s.dim, nil)
	if err != nil {
		return nil, err
	}
	for i := range items {
		vec := items[i].Embedding()
		if len(vec) != s.dim {
			continue
		}
		if err := local.Insert(ctx, items[i].Id, vec); err != nil {
			return nil, err
		}
	}
	return local.ExportEdges(ctx, threshold, maxEdges)
}

// Load Milvus 侧数据本就持久化，这里仅确认 collection 可用
func (s *MilvusIndex) Load(ctx context.Context) error {
	return s.cli.LoadCollection(ctx, s.collection, false)
}

func clampScore(sc float32) float32 {
	if sc < 0 {
		return 0
	}
	if sc > 1 {
		return 1
	}
	return sc
}
