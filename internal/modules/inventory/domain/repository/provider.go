package repository

import "context"

// EmbeddingProvider 多模态嵌入的领域接口。
// 外部模型调用可能慢、可能失败、可能被限流；实现负责把失败映射为
// xerr 错误类别（InvalidInput / ProviderUnavailable）。
type EmbeddingProvider interface {
	// EmbedImage image 非空且不超过配置上限，textHint 可选
	EmbedImage(ctx context.Context, image []byte, textHint string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ExtractedContext 视觉模型从图片中抽取的描述性上下文
type ExtractedContext struct {
	Name       string            `json:"name"`
	Category   string            `json:"category"` // 开放集合，未知类别原样保留
	Attributes map[string]string `json:"attributes"`
}

// AttributeExtractor 属性抽取（视觉语言模型）的领域接口
type AttributeExtractor interface {
	Extract(ctx context.Context, image []byte, textHint string) (*ExtractedContext, error)
}
