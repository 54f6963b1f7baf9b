package http

import (
	"strings"

	"Nexus/internal/modules/inventory/application/dto/request"
	"Nexus/internal/modules/inventory/application/service"
	"Nexus/pkg/back"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ItemHandler 条目摄取与读写 HTTP Handler
type ItemHandler struct {
	ingestSvc service.IngestService
	querySvc  service.QueryService
}

func NewItemHandler(ingestSvc service.IngestService, querySvc service.QueryService) *ItemHandler {
	return &ItemHandler{ingestSvc: ingestSvc, querySvc: querySvc}
}

// Ingest 处理条目摄取请求
//
// 路由: POST /item/ingest
// 鉴权: 需要 JWT（从 authed 分组继承）
// 请求体: IngestItemRequest
// 响应体: IngestRespond
func (h *ItemHandler) Ingest(c *gin.Context) {
	var req request.IngestItemRequest
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
	data, err := h.ingestSvc.Ingest(c.Request.Context(), req, uuid)
	if err != nil {
		zlog.Warn("item ingest request failed", zap.String("owner_id", uuid), zap.Error(err))
	}
	back.Result(c, data, err)
}

// Get 条目详情
//
// 路由: GET /item/:id
func (h *ItemHandler) Get(c *gin.Context) {
	data, err := h.querySvc.GetItem(c.Request.Context(), c.Param("id"))
	back.Result(c, data, err)
}

// Delete 删除条目（索引与存储一并删除）
//
// 路由: DELETE /item/:id
func (h *ItemHandler) Delete(c *gin.Context) {
	err := h.querySvc.DeleteItem(c.Request.Context(), c.Param("id"))
	back.Result(c, nil, err)
}

// List 条目列表
//
// 路由: POST /item/list
// 请求体: ItemListRequest
func (h *ItemHandler) List(c *gin.Context) {
	var req request.ItemListRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.querySvc.ListItems(c.Request.Context(), req)
	back.Result(c, data, err)
}

// Count 库内条目总数
//
// 路由: GET /item/count
func (h *ItemHandler) Count(c *gin.Context) {
	total, err := h.querySvc.CountItems(c.Request.Context())
	back.Result(c, gin.H{"count": total}, err)
}
