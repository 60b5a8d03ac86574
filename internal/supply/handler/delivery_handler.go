package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/gin-gonic/gin"
)

// 签收附件大小上限
const maxAttachmentSize = 20 << 20

const createDeliveryFailed = "Failed to create request delivery: "

// DeliveryHandler 到货签收处理器
type DeliveryHandler struct {
	svc    *service.DeliveryService
	export *service.ExportService
}

func NewDeliveryHandler(svc *service.DeliveryService, export *service.ExportService) *DeliveryHandler {
	return &DeliveryHandler{svc: svc, export: export}
}

// Create 创建签收记录
// POST /request-deliveries
func (h *DeliveryHandler) Create(c *gin.Context) {
	var req service.CreateDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, createDeliveryFailed)
		return
	}

	d, err := h.svc.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		RespondError(c, err, createDeliveryFailed)
		return
	}
	Created(c, d)
}

// Update 修改签收记录
// PUT /request-deliveries/:id
func (h *DeliveryHandler) Update(c *gin.Context) {
	var req service.UpdateDeliveryReq
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

// Get 签收详情
// GET /request-deliveries/:id
func (h *DeliveryHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, d)
}

// List 签收列表
// GET /request-deliveries?approval_id=&site_id=&status=&date_from=&date_to=
func (h *DeliveryHandler) List(c *gin.Context) {
	f, err := listFilter(c, "approval_id", "site_id", "status")
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

// Export 导出签收记录
// GET /request-deliveries/export
func (h *DeliveryHandler) Export(c *gin.Context) {
	f, err := listFilter(c, "approval_id", "site_id", "status")
	if err != nil {
		RespondError(c, err, "")
		return
	}
	x, filename, err := h.export.ExportDeliveries(c.Request.Context(), f)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	writeWorkbook(c, x, filename)
}

// Upload 上传签收凭证
// POST /request-deliveries/:id/attachments
func (h *DeliveryHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传文件")
		return
	}
	if header.Size > maxAttachmentSize {
		BadRequest(c, "文件过大")
		return
	}
	file, err := header.Open()
	if err != nil {
		BadRequest(c, "读取文件失败: "+err.Error())
		return
	}
	defer file.Close()

	a, err := h.svc.Upload(c.Request.Context(), c.Param("id"), header.Filename,
		header.Header.Get("Content-Type"), header.Size, file, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, a)
}

// Attachments 签收附件列表
// GET /request-deliveries/:id/attachments
func (h *DeliveryHandler) Attachments(c *gin.Context) {
	items, err := h.svc.Attachments(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// Download 下载签收附件
// GET /request-deliveries/:id/attachments/:attachmentId/download
func (h *DeliveryHandler) Download(c *gin.Context) {
	a, rc, err := h.svc.Download(c.Request.Context(), c.Param("id"), c.Param("attachmentId"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", "attachment; filename=\""+a.FileName+"\"")
	c.Header("Content-Length", strconv.FormatInt(a.Size, 10))
	c.Header("Content-Type", a.ContentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}
