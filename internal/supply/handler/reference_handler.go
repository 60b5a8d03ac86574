package handler

import (
	"strings"

	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/gin-gonic/gin"
)

// ReferenceHandler 基础资料处理器
type ReferenceHandler struct {
	svc *service.ReferenceService
}

func NewReferenceHandler(svc *service.ReferenceService) *ReferenceHandler {
	return &ReferenceHandler{svc: svc}
}

// ListDepartments GET /departments
func (h *ReferenceHandler) ListDepartments(c *gin.Context) {
	items, err := h.svc.ListDepartments(c.Request.Context())
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// CreateDepartment POST /departments
func (h *ReferenceHandler) CreateDepartment(c *gin.Context) {
	var req service.CreateDepartmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}
	d, err := h.svc.CreateDepartment(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, d)
}

// ListSites GET /sites
func (h *ReferenceHandler) ListSites(c *gin.Context) {
	items, err := h.svc.ListSites(c.Request.Context())
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// CreateSite POST /sites
func (h *ReferenceHandler) CreateSite(c *gin.Context) {
	var req service.CreateSiteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}
	site, err := h.svc.CreateSite(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, site)
}

// ListUsers GET /users?department_id=
func (h *ReferenceHandler) ListUsers(c *gin.Context) {
	items, err := h.svc.ListUsers(c.Request.Context(), c.Query("department_id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// CreateUser POST /users
func (h *ReferenceHandler) CreateUser(c *gin.Context) {
	var req service.CreateUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}
	u, err := h.svc.CreateUser(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, u)
}

// ListProjects GET /projects
func (h *ReferenceHandler) ListProjects(c *gin.Context) {
	items, err := h.svc.ListProjects(c.Request.Context())
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// CreateProject POST /projects
func (h *ReferenceHandler) CreateProject(c *gin.Context) {
	var req service.CreateProjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}
	p, err := h.svc.CreateProject(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, p)
}

// ListActivities GET /activities?project_id=
func (h *ReferenceHandler) ListActivities(c *gin.Context) {
	items, err := h.svc.ListActivities(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, gin.H{"items": items})
}

// CreateActivity POST /activities
func (h *ReferenceHandler) CreateActivity(c *gin.Context) {
	var req service.CreateActivityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		BindError(c, err, "")
		return
	}
	a, err := h.svc.CreateActivity(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Created(c, a)
}

// ListResources GET /materials, /equipment, /labor
func (h *ReferenceHandler) ListResources(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var (
			items interface{}
			err   error
		)
		switch kind {
		case service.KindMaterial:
			items, err = h.svc.ListMaterials(ctx)
		case service.KindEquipment:
			items, err = h.svc.ListEquipment(ctx)
		default:
			items, err = h.svc.ListLabor(ctx)
		}
		if err != nil {
			RespondError(c, err, "")
			return
		}
		Success(c, gin.H{"items": items})
	}
}

// CreateResource POST /materials, /equipment, /labor
func (h *ReferenceHandler) CreateResource(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.CreateResourceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			BindError(c, err, "")
			return
		}
		item, err := h.svc.CreateResource(c.Request.Context(), kind, req)
		if err != nil {
			RespondError(c, err, "")
			return
		}
		Created(c, item)
	}
}

// ImportResources POST /materials/import, /equipment/import, /labor/import
func (h *ReferenceHandler) ImportResources(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			BadRequest(c, "请上传Excel文件")
			return
		}
		defer file.Close()

		result, err := h.svc.ImportResources(c.Request.Context(), kind, file)
		if err != nil {
			RespondError(c, err, "")
			return
		}
		Success(c, result)
	}
}

// ResolveResources GET /resources?material_ids=a,b&equipment_ids=&labor_ids=
func (h *ReferenceHandler) ResolveResources(c *gin.Context) {
	names, err := h.svc.ResolveNames(c.Request.Context(),
		splitIDs(c.QueryArray("material_ids")),
		splitIDs(c.QueryArray("equipment_ids")),
		splitIDs(c.QueryArray("labor_ids")))
	if err != nil {
		RespondError(c, err, "")
		return
	}
	Success(c, names)
}

// splitIDs accepts both repeated params and comma separated values.
func splitIDs(values []string) []string {
	var out []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
