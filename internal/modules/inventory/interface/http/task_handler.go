package http

import (
	netHttp "net/http"
	"strings"

	"Nexus/internal/modules/inventory/application/service"
	"Nexus/pkg/back"
	"Nexus/pkg/ws"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *netHttp.Request) bool { return true },
}

// TaskHandler 摄取任务状态 HTTP Handler
type TaskHandler struct {
	taskSvc service.TaskService
	hub     *ws.Hub
}

func NewTaskHandler(taskSvc service.TaskService, hub *ws.Hub) *TaskHandler {
	return &TaskHandler{taskSvc: taskSvc, hub: hub}
}

// Get 轮询任务状态
//
// 路由: GET /task/:id
func (h *TaskHandler) Get(c *gin.Context) {
	data, err := h.taskSvc.GetTask(c.Request.Context(), c.Param("id"))
	back.Result(c, data, err)
}

// Subscribe 订阅任务进度（websocket）
//
// 路由: GET /task/ws?task_id=
// 每次状态转移推送一条 {task_id, state, err_msg}，终态后服务端主动断开
func (h *TaskHandler) Subscribe(c *gin.Context) {
	taskID := strings.TrimSpace(c.Query("task_id"))
	if taskID == "" {
		back.Error(c, xerr.BadRequest, "缺少 task_id")
		return
	}
	if _, err := h.taskSvc.GetTask(c.Request.Context(), taskID); err != nil {
		back.Result(c, nil, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zlog.Error("task ws upgrade failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	client := ws.NewClient(taskID, conn)
	h.hub.Register(client)
	go client.WritePump()

	// 读循环只为感知客户端断开
	go func() {
		defer h.hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
