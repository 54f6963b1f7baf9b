package request

// IngestItemRequest 条目摄取请求
type IngestItemRequest struct {
	ImageB64 string `json:"image_b64" binding:"required"` // 图片内容（base64，必填）
	TextHint string `json:"text_hint"`                    // 可选文本提示（辅助嵌入与抽取）
	ItemID   string `json:"item_id"`                      // 指定则覆盖更新已有条目
	ImageURL string `json:"image_url"`                    // 图片外链（客户端先传 OSS 再回填，可选）
	Async    bool   `json:"async"`                        // true 则入队异步处理，立即返回 task_id
}

// SemanticSearchRequest 语义检索请求（query 与 image_b64 至少其一）
type SemanticSearchRequest struct {
	Query    string `json:"query"`     // 自然语言查询
	ImageB64 string `json:"image_b64"` // 以图搜图
	TopK     int    `json:"top_k"`     // 默认取配置 engine.default_top_k
	Category string `json:"category"`  // 限定类别（可选）
}

// ItemListRequest 条目列表请求
type ItemListRequest struct {
	Category string `json:"category"` // 类别精确匹配（可选）
	Keyword  string `json:"keyword"`  // 名称/属性子串匹配（可选）
	Limit    int    `json:"limit"`    // 每页数量（默认20）
	Offset   int    `json:"offset"`   // 偏移量（默认0）
}
