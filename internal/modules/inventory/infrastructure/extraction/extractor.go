package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"Nexus/internal/config"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/pkg/xerr"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 视觉模型的抽取提示词：要求只输出 JSON，category 为开放集合
const extractPrompt = `You are an inventory analyst for physical survival and daily-use items.
Look at the photo and respond with ONLY a JSON object, no prose:
{
  "name": "short item name",
  "category": "one word, e.g. Clothing / Medical / Survival / Tools, invent one if none fits",
  "attributes": {
    "primary_material": "...",
    "weight_estimate": "...",
    "thermal_rating": "...",
    "water_resistance": "...",
    "medical_application": "...",
    "utility_summary": "...",
    "durability": "...",
    "compressibility": "..."
  }
}
Omit attribute keys you cannot infer. Keep values short.`

// VLMExtractor 基于视觉语言模型的属性抽取器
type VLMExtractor struct {
	cm model.BaseChatModel
}

var _ repository.AttributeExtractor = (*VLMExtractor)(nil)

func NewVLMExtractor(cm model.BaseChatModel) (*VLMExtractor, error) {
	if cm == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	return &VLMExtractor{cm: cm}, nil
}

func (e *VLMExtractor) Extract(ctx context.Context, image []byte, textHint string) (*repository.ExtractedContext, error) {
	if len(image) == 0 {
		return nil, xerr.Wrap(xerr.ErrInvalidInput, "图片载荷为空")
	}
	contentType := http.DetectContentType(image)
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)

	prompt := extractPrompt
	if hint := strings.TrimSpace(textHint); hint != "" {
		prompt += "\nUser hint: " + hint
	}

	msgs := []*schema.Message{
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: prompt},
				{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: dataURL},
				},
			},
		},
	}

	out, err := e.cm.Generate(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, xerr.Wrap(xerr.ErrProviderUnavailable, "attribute extraction call failed")
	}
	return ParseContext(out.Content)
}

// ParseContext 解析模型输出的 JSON，容忍 markdown 代码块包裹。
// 解析失败按 ProviderUnavailable 处理（模型输出质量问题，可重试）。
func ParseContext(content string) (*repository.ExtractedContext, error) {
	raw := strings.TrimSpace(content)
	if i := strings.Index(raw, "{"); i >= 0 {
		if j := strings.LastIndex(raw, "}"); j > i {
			raw = raw[i : j+1]
		}
	}

	var ec repository.ExtractedContext
	if err := json.Unmarshal([]byte(raw), &ec); err != nil {
		return nil, xerr.Wrap(xerr.ErrProviderUnavailable, "extraction output is not valid JSON")
	}
	ec.Name = strings.TrimSpace(ec.Name)
	ec.Category = strings.TrimSpace(ec.Category)
	if ec.Name == "" {
		ec.Name = "unknown item"
	}
	if ec.Category == "" {
		ec.Category = "Misc"
	}
	if ec.Attributes == nil {
		ec.Attributes = map[string]string{}
	}
	return &ec, nil
}

// NewExtractorFromConfig 按配置创建抽取器，provider 留空或 mock 走本地实现
func NewExtractorFromConfig(ctx context.Context, conf *config.Config) (repository.AttributeExtractor, error) {
	if conf == nil {
		return nil, fmt.Errorf("nil config")
	}
	provider := strings.ToLower(strings.TrimSpace(conf.AIConfig.ChatModel.Provider))
	modelName := strings.TrimSpace(conf.AIConfig.ChatModel.Model)

	timeout := 2 * time.Minute
	if conf.AIConfig.ChatModel.TimeoutSeconds > 0 {
		timeout = time.Duration(conf.AIConfig.ChatModel.TimeoutSeconds) * time.Second
	}

	switch provider {
	case "", "mock":
		return NewMockExtractor(), nil
	case "openai":
		apiKey := strings.TrimSpace(conf.AIConfig.ChatModel.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if modelName == "" {
			modelName = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
		}
		if apiKey == "" || modelName == "" {
			return nil, fmt.Errorf("openai chat model missing apiKey/model")
		}
		cm, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:  apiKey,
			Model:   modelName,
			BaseURL: strings.TrimSpace(conf.AIConfig.ChatModel.BaseURL),
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewVLMExtractor(cm)
	case "ark":
		apiKey := strings.TrimSpace(conf.AIConfig.ChatModel.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		}
		if modelName == "" {
			modelName = strings.TrimSpace(os.Getenv("ARK_MODEL_ID"))
		}
		if apiKey == "" || modelName == "" {
			return nil, fmt.Errorf("ark chat model missing apiKey/model")
		}
		cm, err := arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
			APIKey:  apiKey,
			Model:   modelName,
			BaseURL: strings.TrimSpace(conf.AIConfig.ChatModel.BaseURL),
			Timeout: &timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewVLMExtractor(cm)
	default:
		return nil, fmt.Errorf("unknown chat model provider: %s", provider)
	}
}
