package handler

import (
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/gin-gonic/gin"
)

// RequestHandler 需求单处理器
type RequestHandler struct {
	svc *service.RequestService
}

func NewRequestHandler(svc *service.RequestService) *RequestHandler {
	return &RequestHandler{svc: svc}
}

// Create 创建需求单
// POST /requests
func (h *RequestHandler) Create(c *gin.Context) {
	var req service.CreateRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}

	r, err := h.svc.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, r)
}

// List 需求单列表
// GET /requests?department_id=&status=&activity_id=&site_id=
func (h *RequestHandler) List(c *gin.Context) {
	f, err := listFilter(c, "department_id", "status", "activity_id", "site_id", "user_id")
	if err != nil {
		RespondError(c, err, "")
		return
	}
	page, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, page)
}

// Get 需求单详情
// GET /requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	r, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, r)
}

// UpdateStatus 更新需求单状态
// PUT /requests/:id/status
func (h *RequestHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}

	r, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, r)
}
