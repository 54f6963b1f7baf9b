package http

import (
	"strings"

	"Nexus/internal/modules/inventory/application/dto/request"
	"Nexus/internal/modules/inventory/application/service"
	"Nexus/pkg/back"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/gin-gonic/gin"
)

// SearchHandler 语义检索 HTTP Handler
type SearchHandler struct {
	querySvc service.QueryService
}

func NewSearchHandler(querySvc service.QueryService) *SearchHandler {
	return &SearchHandler{querySvc: querySvc}
}

// Semantic 处理语义检索请求
//
// 路由: POST /search/semantic
// 鉴权: 需要 JWT（从 authed 分组继承）
// 请求体: SemanticSearchRequest（query 与 image_b64 至少其一）
// 响应体: SearchRespond
func (h *SearchHandler) Semantic(c *gin.Context) {
	var req request.SemanticSearchRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid := strings.TrimSpace(c.GetString("uuid"))
	if uuid == "" {
		back.Error(c, xerr.Unauthorized, "未登录")
		return
	}
	data, err := h.querySvc.SemanticSearch(c.Request.Context(), req, uuid)
	back.Result(c, data, err)
}
