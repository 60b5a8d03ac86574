package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

// 基础资料缓存实体名
const (
	cacheDepartments = "departments"
	cacheSites       = "sites"
	cacheUsers       = "users"
	cacheProjects    = "projects"
	cacheActivities  = "activities"
	cacheMaterials   = "materials"
	cacheEquipment   = "equipment"
	cacheLabor       = "labor"
)

// 资源类别
const (
	KindMaterial  = "material"
	KindEquipment = "equipment"
	KindLabor     = "labor"
)

// ReferenceService 基础资料服务
type ReferenceService struct {
	repos *repository.Repositories
	deps  Deps
}

func NewReferenceService(repos *repository.Repositories, deps Deps) *ReferenceService {
	return &ReferenceService{repos: repos, deps: deps.withDefaults()}
}

// listReference reads a whole reference table through the list cache.
func listReference[T any](ctx context.Context, deps Deps, name, key string, repo *repository.ReferenceRepository[T], where map[string]interface{}) ([]T, error) {
	return readThrough(ctx, deps, name, key, func() ([]T, error) {
		items, err := repo.FindAll(ctx, where)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		if items == nil {
			items = []T{}
		}
		return items, nil
	})
}

func (s *ReferenceService) ListDepartments(ctx context.Context) ([]entity.Department, error) {
	return listReference(ctx, s.deps, cacheDepartments, "all", s.repos.Departments, nil)
}

func (s *ReferenceService) ListSites(ctx context.Context) ([]entity.Site, error) {
	return listReference(ctx, s.deps, cacheSites, "all", s.repos.Sites, nil)
}

// ListUsers 可按部门过滤
func (s *ReferenceService) ListUsers(ctx context.Context, departmentID string) ([]entity.User, error) {
	if departmentID == "" {
		return listReference(ctx, s.deps, cacheUsers, "all", s.repos.Users, nil)
	}
	return listReference(ctx, s.deps, cacheUsers, "department_id="+departmentID, s.repos.Users,
		map[string]interface{}{"department_id": departmentID})
}

func (s *ReferenceService) ListProjects(ctx context.Context) ([]entity.Project, error) {
	return listReference(ctx, s.deps, cacheProjects, "all", s.repos.Projects, nil)
}

// ListActivities 可按项目过滤
func (s *ReferenceService) ListActivities(ctx context.Context, projectID string) ([]entity.Activity, error) {
	if projectID == "" {
		return listReference(ctx, s.deps, cacheActivities, "all", s.repos.Activities, nil)
	}
	return listReference(ctx, s.deps, cacheActivities, "project_id="+projectID, s.repos.Activities,
		map[string]interface{}{"project_id": projectID})
}

func (s *ReferenceService) ListMaterials(ctx context.Context) ([]entity.Material, error) {
	return listReference(ctx, s.deps, cacheMaterials, "all", s.repos.Materials, nil)
}

func (s *ReferenceService) ListEquipment(ctx context.Context) ([]entity.Equipment, error) {
	return listReference(ctx, s.deps, cacheEquipment, "all", s.repos.Equipment, nil)
}

func (s *ReferenceService) ListLabor(ctx context.Context) ([]entity.Labor, error) {
	return listReference(ctx, s.deps, cacheLabor, "all", s.repos.Labor, nil)
}

// CreateDepartmentReq 创建部门
type CreateDepartmentReq struct {
	Name        string `json:"name" binding:"required,max=128"`
	LeaderEmail string `json:"leader_email" binding:"omitempty,email"`
}

func (s *ReferenceService) CreateDepartment(ctx context.Context, req CreateDepartmentReq) (*entity.Department, error) {
	d := &entity.Department{ID: uuid.New().String(), Name: strings.TrimSpace(req.Name), LeaderEmail: req.LeaderEmail}
	if err := s.repos.Departments.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create department: %w", err)
	}
	invalidate(ctx, s.deps, cacheDepartments)
	return d, nil
}

// CreateSiteReq 创建工地
type CreateSiteReq struct {
	Name     string `json:"name" binding:"required,max=128"`
	Location string `json:"location" binding:"max=256"`
}

func (s *ReferenceService) CreateSite(ctx context.Context, req CreateSiteReq) (*entity.Site, error) {
	site := &entity.Site{ID: uuid.New().String(), Name: strings.TrimSpace(req.Name), Location: req.Location}
	if err := s.repos.Sites.Create(ctx, site); err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}
	invalidate(ctx, s.deps, cacheSites)
	return site, nil
}

// CreateUserReq 创建用户
type CreateUserReq struct {
	Name         string `json:"name" binding:"required,max=64"`
	Email        string `json:"email" binding:"omitempty,email"`
	DepartmentID string `json:"department_id" binding:"required"`
}

func (s *ReferenceService) CreateUser(ctx context.Context, req CreateUserReq) (*entity.User, error) {
	if _, err := s.repos.Departments.FindByID(ctx, req.DepartmentID); err != nil {
		return nil, fmt.Errorf("department %s: %w", req.DepartmentID, err)
	}
	u := &entity.User{ID: uuid.New().String(), Name: strings.TrimSpace(req.Name), Email: req.Email, DepartmentID: req.DepartmentID}
	if err := s.repos.Users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	invalidate(ctx, s.deps, cacheUsers)
	return u, nil
}

// CreateProjectReq 创建项目
type CreateProjectReq struct {
	Code string `json:"code" binding:"max=32"`
	Name string `json:"name" binding:"required,max=200"`
}

func (s *ReferenceService) CreateProject(ctx context.Context, req CreateProjectReq) (*entity.Project, error) {
	p := &entity.Project{ID: uuid.New().String(), Code: req.Code, Name: strings.TrimSpace(req.Name)}
	if err := s.repos.Projects.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	invalidate(ctx, s.deps, cacheProjects)
	return p, nil
}

// CreateActivityReq 创建活动
type CreateActivityReq struct {
	ProjectID string `json:"project_id" binding:"required"`
	Name      string `json:"name" binding:"required,max=200"`
}

func (s *ReferenceService) CreateActivity(ctx context.Context, req CreateActivityReq) (*entity.Activity, error) {
	if _, err := s.repos.Projects.FindByID(ctx, req.ProjectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, err)
	}
	a := &entity.Activity{ID: uuid.New().String(), ProjectID: req.ProjectID, Name: strings.TrimSpace(req.Name)}
	if err := s.repos.Activities.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}
	invalidate(ctx, s.deps, cacheActivities)
	return a, nil
}

// CreateResourceReq 创建物料/设备/工种
type CreateResourceReq struct {
	Code string `json:"code" binding:"max=32"`
	Name string `json:"name" binding:"required,max=200"`
	Unit string `json:"unit" binding:"max=20"`
}

// CreateResource creates a material, equipment or labor entry.
func (s *ReferenceService) CreateResource(ctx context.Context, kind string, req CreateResourceReq) (interface{}, error) {
	id := uuid.New().String()
	name := strings.TrimSpace(req.Name)
	switch kind {
	case KindMaterial:
		m := &entity.Material{ID: id, Code: req.Code, Name: name, Unit: req.Unit}
		if err := s.repos.Materials.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("create material: %w", err)
		}
		invalidate(ctx, s.deps, cacheMaterials)
		return m, nil
	case KindEquipment:
		e := &entity.Equipment{ID: id, Code: req.Code, Name: name, Unit: req.Unit}
		if err := s.repos.Equipment.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("create equipment: %w", err)
		}
		invalidate(ctx, s.deps, cacheEquipment)
		return e, nil
	case KindLabor:
		l := &entity.Labor{ID: id, Code: req.Code, Name: name, Unit: req.Unit}
		if err := s.repos.Labor.Create(ctx, l); err != nil {
			return nil, fmt.Errorf("create labor: %w", err)
		}
		invalidate(ctx, s.deps, cacheLabor)
		return l, nil
	}
	return nil, invalidf("unknown resource kind %q", kind)
}

// ImportResult 导入结果
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ImportResources reads the first sheet of an xlsx workbook with columns
// code, name, unit (header on row 1) and creates one resource per row.
func (s *ReferenceService) ImportResources(ctx context.Context, kind string, r io.Reader) (*ImportResult, error) {
	if kind != KindMaterial && kind != KindEquipment && kind != KindLabor {
		return nil, invalidf("unknown resource kind %q", kind)
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, invalidf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, invalidf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	result := &ImportResult{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		cell := func(n int) string {
			if n < len(row) {
				return strings.TrimSpace(row[n])
			}
			return ""
		}
		req := CreateResourceReq{Code: cell(0), Name: cell(1), Unit: cell(2)}
		if req.Name == "" {
			result.Skipped++
			continue
		}
		if _, err := s.CreateResource(ctx, kind, req); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
			continue
		}
		result.Created++
	}
	return result, nil
}

// ResourceNames 批量解析的资源名称
type ResourceNames struct {
	Materials []entity.ResourceRef `json:"materials"`
	Equipment []entity.ResourceRef `json:"equipment"`
	Labor     []entity.ResourceRef `json:"labor"`
}

// ResolveNames resolves names for the three id sets with one query per kind,
// run concurrently.
func (s *ReferenceService) ResolveNames(ctx context.Context, materialIDs, equipmentIDs, laborIDs []string) (*ResourceNames, error) {
	return resolveNames(ctx, s.repos, materialIDs, equipmentIDs, laborIDs)
}

func resolveNames(ctx context.Context, repos *repository.Repositories, materialIDs, equipmentIDs, laborIDs []string) (*ResourceNames, error) {
	out := &ResourceNames{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		refs, err := repos.Materials.NamesByIDs(gctx, dedupe(materialIDs))
		out.Materials = refs
		return err
	})
	g.Go(func() error {
		refs, err := repos.Equipment.NamesByIDs(gctx, dedupe(equipmentIDs))
		out.Equipment = refs
		return err
	})
	g.Go(func() error {
		refs, err := repos.Labor.NamesByIDs(gctx, dedupe(laborIDs))
		out.Labor = refs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve resource names: %w", err)
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
