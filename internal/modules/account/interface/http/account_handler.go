package http

import (
	"Nexus/internal/modules/account/application/dto/request"
	"Nexus/internal/modules/account/application/service"
	"Nexus/pkg/back"
	"Nexus/pkg/xerr"
	"Nexus/pkg/zlog"

	"github.com/gin-gonic/gin"
)

// AccountHandler 注册 / 登录 HTTP Handler
type AccountHandler struct {
	svc service.AccountService
}

func NewAccountHandler(svc service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// Register 路由: POST /register
func (h *AccountHandler) Register(c *gin.Context) {
	var req request.RegisterRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Register(c.Request.Context(), req)
	back.Result(c, data, err)
}

// Login 路由: POST /login
func (h *AccountHandler) Login(c *gin.Context) {
	var req request.LoginRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Login(c.Request.Context(), req)
	back.Result(c, data, err)
}
