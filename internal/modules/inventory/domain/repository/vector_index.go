package repository

import "context"

// VectorHit 近邻命中，Score 为余弦相似度（截断到 [0,1]，越大越近）
type VectorHit struct {
	ID    string
	Score float32
}

// GraphEdge 相似图导出边。Source < Target（字典序），不含自环与重复无序对。
type GraphEdge struct {
	Source string  `json:"source_id"`
	Target string  `json:"target_id"`
	Weight float32 `json:"weight"`
}

// VectorIndex 是 domain 层定义的"向量索引能力抽象"。
//
// 设计约束：
// 1) application 层只依赖本接口，不直接依赖内存实现或 Milvus SDK。
// 2) infrastructure 通过适配器实现本接口（MemoryIndex / MilvusIndex），可替换。
//
// 排序约定（保证可复现）：Query 按 Score 降序，同分按 id 升序；
// ExportEdges 按 Weight 降序，同分按 (Source, Target) 字典序。
// filter 在截断 top-K 之前生效，结果始终是候选集内真实的前 K 个。
type VectorIndex interface {
	Insert(ctx context.Context, id string, vec []float32) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, vec []float32, k int, filter func(id string) bool) ([]VectorHit, error)
	ExportEdges(ctx context.Context, threshold float32, maxEdges int) ([]GraphEdge, error)
	Len(ctx context.Context) (int, error)
	// Load 启动钩子：从 Item Store 重建索引内容
	Load(ctx context.Context) error
	Dimension() int
}
