package extraction

import (
	"context"
	"fmt"
	"hash/fnv"

	"Nexus/internal/modules/inventory/domain/repository"
)

var mockCategories = []string{"Clothing", "Medical", "Survival", "Tools"}

// MockExtractor 确定性本地抽取：同一张图片总是得到同样的结果
type MockExtractor struct{}

var _ repository.AttributeExtractor = (*MockExtractor)(nil)

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

func (MockExtractor) Extract(ctx context.Context, image []byte, textHint string) (*repository.ExtractedContext, error) {
	h := fnv.New32a()
	_, _ = h.Write(image)
	_, _ = h.Write([]byte(textHint))
	sum := h.Sum32()

	name := textHint
	if name == "" {
		name = fmt.Sprintf("item-%08x", sum)
	}
	return &repository.ExtractedContext{
		Name:     name,
		Category: mockCategories[sum%uint32(len(mockCategories))],
		Attributes: map[string]string{
			"utility_summary":  "mock extracted item",
			"primary_material": "unknown",
		},
	}, nil
}
