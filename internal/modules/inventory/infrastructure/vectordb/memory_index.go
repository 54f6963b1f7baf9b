package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"go.uber.org/zap"
)

// MemoryIndex 进程内精确向量索引（暴力余弦检索）。
//
// 设计取舍：个人物品集合的规模下（几十到几千条），O(n) 查询和 O(n²)
// 边导出的正确性与确定性比亚线性扩展更重要；需要更大规模时换用
// MilvusIndex，契约不变。
//
// 并发模型：RWMutex + 写入/读取时拷贝向量。并发 Query 可能看到变更前
// 或变更后的状态，但绝不会看到写了一半的向量。
type MemoryIndex struct {
	mu    sync.RWMutex
	dim   int
	vecs  map[string][]float32
	norms map[string]float32

	itemRepo repository.ItemRepository
}

var _ repository.VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex(dim int, itemRepo repository.ItemRepository) (*MemoryIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dim)
	}
	return &MemoryIndex{
		dim:      dim,
		vecs:     make(map[string][]float32),
		norms:    make(map[string]float32),
		itemRepo: itemRepo,
	}, nil
}

func (m *MemoryIndex) Dimension() int { return m.dim }

// Insert 同 id 为覆盖语义；维度不符返回 DimensionMismatch
func (m *MemoryIndex) Insert(ctx context.Context, id string, vec []float32) error {
	if id == "" {
		return xerr.Wrap(xerr.ErrInvalidInput, "vector id is empty")
	}
	if len(vec) != m.dim {
		return xerr.Wrap(xerr.ErrDimensionMismatch, fmt.Sprintf("got=%d want=%d", len(vec), m.dim))
	}

	cp := make([]float32, len(vec))
	copy(cp, vec)
	n := norm(cp)

	m.mu.Lock()
	m.vecs[id] = cp
	m.norms[id] = n
	m.mu.Unlock()
	return nil
}

// Delete 不存在的 id 是 no-op，不报错
func (m *MemoryIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.vecs, id)
	delete(m.norms, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs), nil
}

// Query 返回至多 k 个近邻：Score 降序，同分按 id 升序。
// filter 在截断前生效，保证结果是候选集内真实的前 K 个。
func (m *MemoryIndex) Query(ctx context.Context, vec []float32, k int, filter func(id string) bool) ([]repository.VectorHit, error) {
	if len(vec) != m.dim {
		return nil, xerr.Wrap(xerr.ErrDimensionMismatch, fmt.Sprintf("got=%d want=%d", len(vec), m.dim))
	}
	if k <= 0 {
		return []repository.VectorHit{}, nil
	}

	q := make([]float32, len(vec))
	copy(q, vec)
	qn := norm(q)

	m.mu.RLock()
	hits := make([]repository.VectorHit, 0, len(m.vecs))
	for id, v := range m.vecs {
		if filter != nil && !filter(id) {
			continue
		}
		hits = append(hits, repository.VectorHit{ID: id, Score: cosine(q, qn, v, m.norms[id])})
	}
	m.mu.RUnlock()

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

// ExportEdges 全量两两相似度：保留 Weight ≥ threshold 的无序对，
// Weight 降序、同分按 (Source, Target) 字典序，至多 maxEdges 条。
// maxEdges <= 0 表示不设上限。
func (m *MemoryIndex) ExportEdges(ctx context.Context, threshold float32, maxEdges int) ([]repository.GraphEdge, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.vecs))
	for id := range m.vecs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	edges := make([]repository.GraphEdge, 0)
	for i := 0; i < len(ids); i++ {
		vi, ni := m.vecs[ids[i]], m.norms[ids[i]]
		for j := i + 1; j < len(ids); j++ {
			w := cosine(vi, ni, m.vecs[ids[j]], m.norms[ids[j]])
			if w >= threshold {
				edges = append(edges, repository.GraphEdge{Source: ids[i], Target: ids[j], Weight: w})
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Weight != edges[j].Weight {
			return edges[i].Weight > edges[j].Weight
		}
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	if maxEdges > 0 && len(edges) > maxEdges {
		edges = edges[:maxEdges]
	}
	return edges, nil
}

// Load 从 Item Store 重建索引，进程启动时调用一次。
// 维度不符的历史行说明模型被换过而没有重建索引，按配置告警上抛。
func (m *MemoryIndex) Load(ctx context.Context) error {
	if m.itemRepo == nil {
		return nil
	}
	items, err := m.itemRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		vec := items[i].Embedding()
		if len(vec) == 0 {
			zlog.Warn("index load skipping item without embedding", zap.String("item_id", items[i].Id))
			continue
		}
		if err := m.Insert(ctx, items[i].Id, vec); err != nil {
			zlog.Error("index load dimension mismatch, reindex required",
				zap.String("item_id", items[i].Id), zap.Error(err))
			return err
		}
	}
	zlog.Info("memory index loaded", zap.Int("vectors", len(items)))
	return nil
}

// cosine 余弦相似度，截断到 [0,1]：相同向量恰为 1.0，负相关按 0 计
func cosine(a []float32, an float32, b []float32, bn float32) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	c := float32(dot / (float64(an) * float64(bn)))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func norm(v []float32) float32 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return float32(math.Sqrt(s))
}
