package handler

import (
	"github.com/conbuild/backoffice/internal/middleware"
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/gin-gonic/gin"
)

const (
	PermReferenceWrite  = "reference:write"
	PermReportExport    = "report:export"
	PermApprovalAnyDept = "approval:any-dept" // 以其他部门身份审批、查看分配页
)

// RegisterRoutes mounts the supply workflow API on an authenticated group.
func RegisterRoutes(authorized *gin.RouterGroup, h *Handlers) {
	writeRef := middleware.RequirePermission(PermReferenceWrite)
	export := middleware.RequirePermission(PermReportExport)
	inDept := middleware.RequireDepartment()

	// 基础资料
	authorized.GET("/departments", h.Reference.ListDepartments)
	authorized.POST("/departments", writeRef, h.Reference.CreateDepartment)
	authorized.GET("/sites", h.Reference.ListSites)
	authorized.POST("/sites", writeRef, h.Reference.CreateSite)
	authorized.GET("/users", h.Reference.ListUsers)
	authorized.POST("/users", writeRef, h.Reference.CreateUser)
	authorized.GET("/projects", h.Reference.ListProjects)
	authorized.POST("/projects", writeRef, h.Reference.CreateProject)
	authorized.GET("/activities", h.Reference.ListActivities)
	authorized.POST("/activities", writeRef, h.Reference.CreateActivity)
	authorized.GET("/resources", h.Reference.ResolveResources)

	for path, kind := range map[string]string{
		"/materials": service.KindMaterial,
		"/equipment": service.KindEquipment,
		"/labor":     service.KindLabor,
	} {
		g := authorized.Group(path)
		g.GET("", h.Reference.ListResources(kind))
		g.POST("", writeRef, h.Reference.CreateResource(kind))
		g.POST("/import", writeRef, h.Reference.ImportResources(kind))
	}

	// 需求单
	requests := authorized.Group("/requests")
	{
		requests.POST("", h.Request.Create)
		requests.GET("", h.Request.List)
		requests.GET("/:id", h.Request.Get)
		requests.PUT("/:id/status", h.Request.UpdateStatus)
		requests.GET("/:id/approvals", h.Approval.History)
		requests.GET("/:id/approvals/draft", h.Approval.Draft)
	}

	// 部门审批
	approvals := authorized.Group("/approvals")
	{
		approvals.POST("", inDept, h.Approval.Create)
		approvals.GET("", h.Approval.List)
		approvals.GET("/deliverable", h.Approval.ListDeliverable)
		approvals.PUT("/:id", inDept, h.Approval.Update)
	}

	// 资源分配
	authorized.GET("/allocations", inDept, h.Allocation.List)

	// 发运
	dispatches := authorized.Group("/dispatches")
	{
		dispatches.POST("", h.Dispatch.Create)
		dispatches.GET("", h.Dispatch.List)
		dispatches.GET("/export", export, h.Dispatch.Export)
		dispatches.GET("/:id", h.Dispatch.Get)
		dispatches.PUT("/:id", h.Dispatch.Update)
	}

	// 到货签收
	deliveries := authorized.Group("/request-deliveries")
	{
		deliveries.POST("", h.Delivery.Create)
		deliveries.GET("", h.Delivery.List)
		deliveries.GET("/export", export, h.Delivery.Export)
		deliveries.GET("/:id", h.Delivery.Get)
		deliveries.PUT("/:id", h.Delivery.Update)
		deliveries.POST("/:id/attachments", h.Delivery.Upload)
		deliveries.GET("/:id/attachments", h.Delivery.Attachments)
		deliveries.GET("/:id/attachments/:attachmentId/download", h.Delivery.Download)
	}

	// 操作日志
	authorized.GET("/activity-logs", h.ActivityLog.List)

	// SSE 实时推送（JWTAuth 支持 query param token）
	authorized.GET("/sse/events", h.SSE.Stream)
}
