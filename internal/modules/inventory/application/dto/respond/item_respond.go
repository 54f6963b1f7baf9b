package respond

import "Nexus/internal/modules/inventory/domain/repository"

// ItemHit 语义检索的单条命中
type ItemHit struct {
	ItemID     string            `json:"item_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Attributes map[string]string `json:"attributes"`
	ImageURL   string            `json:"image_url,omitempty"`
	Score      float32           `json:"score"` // 余弦相似度，[0,1]
}

// SearchRespond 语义检索响应
type SearchRespond struct {
	QueryID      string    `json:"query_id"` // 本次查询的唯一 id（日志回放用）
	Hits         []ItemHit `json:"hits"`
	TotalInIndex int       `json:"total_in_index"` // 检索时索引内条目总数
	EmbeddingMs  int64     `json:"embedding_ms"`
	SearchMs     int64     `json:"search_ms"`
	DurationMs   int64     `json:"duration_ms"`
	IsEmpty      bool      `json:"is_empty,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// IngestRespond 摄取响应。同步路径返回终态，异步路径 state=received
type IngestRespond struct {
	TaskID     string `json:"task_id"`
	ItemID     string `json:"item_id,omitempty"`
	State      string `json:"state"`
	ErrCode    int    `json:"err_code,omitempty"`
	ErrMsg     string `json:"err_msg,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ItemDetail 条目详情
type ItemDetail struct {
	ItemID     string            `json:"item_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Attributes map[string]string `json:"attributes"`
	ImageURL   string            `json:"image_url,omitempty"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

// ItemListRespond 条目列表响应
type ItemListRespond struct {
	Items []ItemDetail `json:"items"`
	Total int64        `json:"total"`
}

// GraphNode 相似图节点
type GraphNode struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// GraphSnapshotRespond 相似图快照。
// 边为无序对，source_id < target_id（字典序），按权重降序。
type GraphSnapshotRespond struct {
	Nodes       []GraphNode            `json:"nodes"`
	Edges       []repository.GraphEdge `json:"edges"`
	Threshold   float32                `json:"threshold"`
	MaxEdges    int                    `json:"max_edges"`
	GeneratedAt string                 `json:"generated_at"`
	Cached      bool                   `json:"cached,omitempty"` // 命中 redis 快照缓存
}

// TaskStatusRespond 摄取任务状态
type TaskStatusRespond struct {
	TaskID     string `json:"task_id"`
	State      string `json:"state"`
	ItemID     string `json:"item_id,omitempty"`
	ErrCode    int    `json:"err_code,omitempty"`
	ErrMsg     string `json:"err_msg,omitempty"`
	RetryCount int    `json:"retry_count"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}
