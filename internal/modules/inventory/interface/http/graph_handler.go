package http

import (
	"strconv"
	"strings"

	"Nexus/internal/modules/inventory/application/service"
	"Nexus/pkg/back"

	"github.com/gin-gonic/gin"
)

// GraphHandler 相似图快照 HTTP Handler
type GraphHandler struct {
	querySvc service.QueryService
}

func NewGraphHandler(querySvc service.QueryService) *GraphHandler {
	return &GraphHandler{querySvc: querySvc}
}

// Snapshot 导出相似图快照
//
// 路由: GET /graph/snapshot?threshold=&max_edges=
// 参数缺省时取配置里的 engine.edge_threshold / engine.max_edges
func (h *GraphHandler) Snapshot(c *gin.Context) {
	var threshold float64
	if raw := strings.TrimSpace(c.Query("threshold")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 32); err == nil {
			threshold = v
		}
	}
	var maxEdges int
	if raw := strings.TrimSpace(c.Query("max_edges")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			maxEdges = v
		}
	}
	data, err := h.querySvc.GraphSnapshot(c.Request.Context(), float32(threshold), maxEdges)
	back.Result(c, data, err)
}
