package handler

import (
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/gin-gonic/gin"
)

// ApprovalHandler 部门审批处理器
type ApprovalHandler struct {
	svc *service.ApprovalService
}

func NewApprovalHandler(svc *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

// History 审批历史
// GET /requests/:id/approvals
func (h *ApprovalHandler) History(c *gin.Context) {
	items, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// Draft 审批表单预填
// GET /requests/:id/approvals/draft?department_id=
func (h *ApprovalHandler) Draft(c *gin.Context) {
	draft, err := h.svc.Draft(c.Request.Context(), c.Param("id"), c.Query("department_id"), GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, draft)
}

// Create 新增审批节点
// POST /approvals
func (h *ApprovalHandler) Create(c *gin.Context) {
	var req service.CreateApprovalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}

	a, err := h.svc.Create(c.Request.Context(), req, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, a)
}

// Update 修改最新审批节点
// PUT /approvals/:id
func (h *ApprovalHandler) Update(c *gin.Context) {
	var req service.UpdateApprovalReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}

	a, err := h.svc.Update(c.Request.Context(), c.Param("id"), req, GetActor(c))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, a)
}

// List 审批节点列表
// GET /approvals?request_id=&department_id=&status=
func (h *ApprovalHandler) List(c *gin.Context) {
	f, err := listFilter(c, "request_id", "department_id", "status")
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

// ListDeliverable 可发运/签收的审批
// GET /approvals/deliverable
func (h *ApprovalHandler) ListDeliverable(c *gin.Context) {
	items, err := h.svc.ListDeliverable(c.Request.Context())
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// AllocationHandler 资源分配处理器
type AllocationHandler struct {
	svc *service.AllocationService
}

func NewAllocationHandler(svc *service.AllocationService) *AllocationHandler {
	return &AllocationHandler{svc: svc}
}

// List 资源分配页，默认当前用户部门
// GET /allocations?department_id=
func (h *AllocationHandler) List(c *gin.Context) {
	deptID, err := GetActor(c).ActingDepartment(c.Query("department_id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	rows, err := h.svc.List(c.Request.Context(), deptID)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"department_id": deptID, "items": rows})
}
