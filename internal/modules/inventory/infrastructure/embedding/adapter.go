package embedding

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
)

// ProviderAdapter 把 eino Embedder 适配成领域层的 EmbeddingProvider。
//
// 图片路径：载荷先做校验（非空、上限、content-type 必须是 image/*），
// 然后与可选文本提示拼成统一 payload 再送入嵌入模型；查询与摄取共用
// 同一条路径，保证同一物品的查询向量与索引向量一致。
// 错误映射：校验失败 → InvalidInput（不重试）；外部调用失败 →
// ProviderUnavailable（上层有限重试）；返回维度异常 → DimensionMismatch。
type ProviderAdapter struct {
	embedder      embedding.Embedder
	dim           int
	maxImageBytes int
}

var _ repository.EmbeddingProvider = (*ProviderAdapter)(nil)

func NewProviderAdapter(embedder embedding.Embedder, dim int, maxImageBytes int) (*ProviderAdapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dim: %d", dim)
	}
	if maxImageBytes <= 0 {
		maxImageBytes = 8 << 20
	}
	return &ProviderAdapter{embedder: embedder, dim: dim, maxImageBytes: maxImageBytes}, nil
}

func (a *ProviderAdapter) Dimension() int { return a.dim }

func (a *ProviderAdapter) EmbedImage(ctx context.Context, image []byte, textHint string) ([]float32, error) {
	if len(image) == 0 {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "图片载荷为空")
	}
	if len(image) > a.maxImageBytes {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, fmt.Sprintf("图片超过上限 %d 字节", a.maxImageBytes))
	}
	contentType := http.DetectContentType(image)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "载荷不是可识别的图片格式: "+contentType)
	}

	payload := composePayload(image, contentType, textHint)
	return a.embed(ctx, payload)
}

func (a *ProviderAdapter) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "查询文本为空")
	}
	return a.embed(ctx, text)
}

func (a *ProviderAdapter) embed(ctx context.Context, payload string) ([]float32, error) {
	vecs, err := a.embedder.EmbedStrings(ctx, []string{payload})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerr.Wrap(xerr.ErrProviderUnavailable, "embedding call failed")
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, xerr.Wrap(xerr.ErrProviderUnavailable, "embedding result is empty")
	}
	vec64 := vecs[0]
	if len(vec64) != a.dim {
		return nil, xerr.Wrap(xerr.ErrDimensionMismatch, fmt.Sprintf("got=%d want=%d", len(vec64), a.dim))
	}
	vec32 := make([]float32, len(vec64))
	for i := range vec64 {
		vec32[i] = float32(vec64[i])
	}
	return vec32, nil
}

// composePayload 图文合并：data URL 形式携带图片，文本提示在前
func composePayload(image []byte, contentType, textHint string) string {
	var sb strings.Builder
	hint := strings.TrimSpace(textHint)
	if hint != "" {
		sb.WriteString(hint)
		sb.WriteString("\n")
	}
	sb.WriteString("data:")
	sb.WriteString(contentType)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(image))
	return sb.String()
}
