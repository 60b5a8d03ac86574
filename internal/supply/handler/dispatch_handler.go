package handler

import (
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// DispatchHandler 发运处理器
type DispatchHandler struct {
	svc    *service.DispatchService
	export *service.ExportService
}

func NewDispatchHandler(svc *service.DispatchService, export *service.ExportService) *DispatchHandler {
	return &DispatchHandler{svc: svc, export: export}
}

// Create 创建发运单
// POST /dispatches
func (h *DispatchHandler) Create(c *gin.Context) {
	var req service.CreateDispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}

	d, err := h.svc.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, d)
}

// Update 修改发运单
// PUT /dispatches/:id
func (h *DispatchHandler) Update(c *gin.Context) {
	var req service.UpdateDispatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}

	d, err := h.svc.Update(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, d)
}

// Get 发运单详情
// GET /dispatches/:id
func (h *DispatchHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, d)
}

// List 发运单列表
// GET /dispatches?approval_id=&status=&date_from=&date_to=
func (h *DispatchHandler) List(c *gin.Context) {
	f, err := listFilter(c, "approval_id", "status", "dispatched_by")
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

// Export 导出发运单
// GET /dispatches/export
func (h *DispatchHandler) Export(c *gin.Context) {
	f, err := listFilter(c, "approval_id", "status", "dispatched_by")
	if err != nil {
		RespondError(c, err, "")
		return
	}
	x, filename, err := h.export.ExportDispatches(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	writeWorkbook(c, x, filename)
}

func writeWorkbook(c *gin.Context, x *excelize.File, filename string) {
	defer x.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := x.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
	}
}
