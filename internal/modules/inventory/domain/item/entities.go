package item

import (
	"encoding/json"
	"time"
)

// Item 一条已入库的实物条目。
// attributes 与 embedding 以 JSON 列存储：attributes 是视觉模型抽取出的
// 开放键值对（材质、保温性、医用场景等），embedding 是定长向量，
// 重启后内存索引从本列重建，保证两边按 id 对齐。
type Item struct {
	Id             string    `gorm:"column:id;primaryKey;type:char(36)"`
	Name           string    `gorm:"column:name;type:varchar(100);not null"`
	Category       string    `gorm:"column:category;type:varchar(40);index:idx_nexus_item_category"`
	AttributesJson string    `gorm:"column:attributes_json;type:json"`
	EmbeddingJson  string    `gorm:"column:embedding_json;type:json"`
	ImageURL       string    `gorm:"column:image_url;type:varchar(255)"`
	CreatedAt      time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (Item) TableName() string { return "nexus_item" }

// Attributes 反序列化属性键值对，损坏的 JSON 返回空 map 而不是报错
func (it *Item) Attributes() map[string]string {
	attrs := map[string]string{}
	if it.AttributesJson != "" {
		_ = json.Unmarshal([]byte(it.AttributesJson), &attrs)
	}
	return attrs
}

func (it *Item) SetAttributes(attrs map[string]string) {
	b, err := json.Marshal(attrs)
	if err != nil {
		return
	}
	it.AttributesJson = string(b)
}

func (it *Item) Embedding() []float32 {
	if it.EmbeddingJson == "" {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(it.EmbeddingJson), &vec); err != nil {
		return nil
	}
	return vec
}

func (it *Item) SetEmbedding(vec []float32) {
	b, err := json.Marshal(vec)
	if err != nil {
		return
	}
	it.EmbeddingJson = string(b)
}

// 摄取任务状态机：received → embedding → extracting → persisting → indexed，
// 任一非终态可转入 failed
const (
	TaskStateReceived   = "received"
	TaskStateEmbedding  = "embedding"
	TaskStateExtracting = "extracting"
	TaskStatePersisting = "persisting"
	TaskStateIndexed    = "indexed"
	TaskStateFailed     = "failed"
)

// IsTerminalState indexed / failed 之后不再转移
func IsTerminalState(state string) bool {
	return state == TaskStateIndexed || state == TaskStateFailed
}

// IngestTask 摄取任务：客户端可轮询或订阅其状态演进
type IngestTask struct {
	Id         string    `gorm:"column:id;primaryKey;type:char(36)"`
	OwnerId    string    `gorm:"column:owner_id;type:char(36);index:idx_nexus_task_owner"`
	State      string    `gorm:"column:state;type:varchar(20);not null;index:idx_nexus_task_state"`
	ItemId     string    `gorm:"column:item_id;type:char(36)"`
	ErrorCode  int       `gorm:"column:error_code;type:int;not null;default:0"`
	ErrorMsg   string    `gorm:"column:error_msg;type:varchar(255)"`
	RetryCount int       `gorm:"column:retry_count;type:int;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (IngestTask) TableName() string { return "nexus_ingest_task" }
