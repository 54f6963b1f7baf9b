package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/cloudwego/eino/components/embedding"
)

// MockEmbedder 确定性本地嵌入：以文本哈希为种子生成单位向量。
// 相同输入得到相同向量，不同输入大概率不同，满足检索排序类测试的需要。
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, text := range texts {
		result[i] = seededUnitVector(text, m.Dim)
	}
	return result, nil
}

// seededUnitVector FNV 哈希做种子，xorshift 生成伪随机分量后归一化
func seededUnitVector(text string, dim int) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 1
	}

	vec := make([]float64, dim)
	var sum float64
	for i := 0; i < dim; i++ {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state%2000)-1000) / 1000.0
		vec[i] = v
		sum += v * v
	}
	n := math.Sqrt(sum)
	if n == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// 确保实现接口
var _ embedding.Embedder = (*MockEmbedder)(nil)
