package embedding

import (
	"context"
	"errors"
	"testing"

	"Nexus/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 最小 PNG 文件头，足够让 DetectContentType 识别为 image/png
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 0x49, 0x48, 0x44, 0x52}

type failingEmbedder struct{}

func (failingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	return nil, errors.New("connection refused")
}

func TestAdapterEmbedTextDeterministic(t *testing.T) {
	a, err := NewProviderAdapter(NewMockEmbedder(8), 8, 0)
	require.NoError(t, err)

	v1, err := a.EmbedText(context.Background(), "rain gear")
	require.NoError(t, err)
	v2, err := a.EmbedText(context.Background(), "rain gear")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 8)

	v3, err := a.EmbedText(context.Background(), "first aid kit")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestAdapterEmbedImageValidation(t *testing.T) {
	a, err := NewProviderAdapter(NewMockEmbedder(4), 4, 32)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.EmbedImage(ctx, nil, "")
	assert.True(t, xerr.Is(err, xerr.CodeInvalidInput))

	_, err = a.EmbedImage(ctx, make([]byte, 64), "")
	assert.True(t, xerr.Is(err, xerr.CodeInvalidInput), "oversized payload")

	_, err = a.EmbedImage(ctx, []byte(`{"not":"an image"}`), "")
	assert.True(t, xerr.Is(err, xerr.CodeInvalidInput), "non-image payload")

	vec, err := a.EmbedImage(ctx, pngHeader, "thermal blanket")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestAdapterEmbedTextEmpty(t *testing.T) {
	a, err := NewProviderAdapter(NewMockEmbedder(4), 4, 0)
	require.NoError(t, err)
	_, err = a.EmbedText(context.Background(), "   ")
	assert.True(t, xerr.Is(err, xerr.CodeInvalidInput))
}

func TestAdapterProviderFailureMapsToUnavailable(t *testing.T) {
	a, err := NewProviderAdapter(failingEmbedder{}, 4, 0)
	require.NoError(t, err)
	_, err = a.EmbedText(context.Background(), "query")
	assert.True(t, xerr.Is(err, xerr.CodeProviderUnavailable))
}

func TestAdapterDimensionMismatch(t *testing.T) {
	// embedder 配成 8 维而引擎要 4 维，属于配置错误
	a, err := NewProviderAdapter(NewMockEmbedder(8), 4, 0)
	require.NoError(t, err)
	_, err = a.EmbedText(context.Background(), "query")
	assert.True(t, xerr.Is(err, xerr.CodeDimensionMismatch))
}
