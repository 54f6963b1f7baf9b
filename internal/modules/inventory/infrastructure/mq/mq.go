package mq

import "context"

// Message 一条跨进程消息。异步摄取链路里 Value 只携带任务 id，
// 任务内容从数据库回查，避免图片载荷进 Kafka。
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type PublishResult struct {
	Partition int32
	Offset    int64
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) (PublishResult, error)
	Close() error
}

// Handler 返回 nil 表示消息可提交位点，返回错误则不提交、等待重投
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	Close() error
}
