package queue

import (
	"context"
	"encoding/json"
	"time"

	"Nexus/pkg/redis"
)

// IngestPayload 异步摄取的暂存载荷。Kafka 消息只带任务 id，
// 图片本体走 redis 暂存，消费端取回后即删。
type IngestPayload struct {
	OwnerID  string `json:"owner_id"`
	ItemID   string `json:"item_id,omitempty"`
	TextHint string `json:"text_hint,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	ImageB64 string `json:"image_b64"`
}

type PayloadStore interface {
	Save(ctx context.Context, taskID string, p *IngestPayload, ttl time.Duration) error
	// Load 未命中（已过期或已消费）返回 (nil, nil)
	Load(ctx context.Context, taskID string) (*IngestPayload, error)
	Delete(ctx context.Context, taskID string) error
}

const payloadKeyPrefix = "nexus:ingest:payload:"

// RedisPayloadStore 基于 redis 的载荷暂存实现
type RedisPayloadStore struct{}

func NewRedisPayloadStore() *RedisPayloadStore { return &RedisPayloadStore{} }

func (s *RedisPayloadStore) Save(ctx context.Context, taskID string, p *IngestPayload, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return redis.Set(ctx, payloadKeyPrefix+taskID, string(b), ttl)
}

func (s *RedisPayloadStore) Load(ctx context.Context, taskID string) (*IngestPayload, error) {
	raw, err := redis.Get(ctx, payloadKeyPrefix+taskID)
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var p IngestPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisPayloadStore) Delete(ctx context.Context, taskID string) error {
	_, err := redis.Del(ctx, payloadKeyPrefix+taskID)
	return err
}
