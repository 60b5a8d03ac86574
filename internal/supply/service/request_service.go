package service

import (
	"context"
	"fmt"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/google/uuid"
)

// RequestService 需求单服务
type RequestService struct {
	repos *repository.Repositories
	deps  Deps
}

func NewRequestService(repos *repository.Repositories, deps Deps) *RequestService {
	return &RequestService{repos: repos, deps: deps.withDefaults()}
}

// CreateRequestReq 创建需求单
type CreateRequestReq struct {
	DepartmentID string   `json:"department_id"`
	ActivityID   string   `json:"activity_id" binding:"required"`
	SiteID       string   `json:"site_id" binding:"required"`
	MaterialIDs  []string `json:"material_ids"`
	EquipmentIDs []string `json:"equipment_ids"`
	LaborIDs     []string `json:"labor_ids"`
	Quantity     int      `json:"quantity" binding:"min=0"`
	Remarks      string   `json:"remarks" binding:"max=500"`
}

// Create 创建需求单，部门默认取操作人所在部门
func (s *RequestService) Create(ctx context.Context, req CreateRequestReq, actor Actor) (*entity.Request, error) {
	deptID := req.DepartmentID
	if deptID == "" {
		deptID = actor.DepartmentID
	}
	if deptID == "" {
		return nil, invalidf("department_id is required")
	}
	materials, equipment, labor := dedupe(req.MaterialIDs), dedupe(req.EquipmentIDs), dedupe(req.LaborIDs)
	if len(materials)+len(equipment)+len(labor) == 0 {
		return nil, invalidf("at least one material, equipment or labor id is required")
	}

	if _, err := s.repos.Departments.FindByID(ctx, deptID); err != nil {
		return nil, fmt.Errorf("department %s: %w", deptID, err)
	}
	if _, err := s.repos.Activities.FindByID(ctx, req.ActivityID); err != nil {
		return nil, fmt.Errorf("activity %s: %w", req.ActivityID, err)
	}
	if _, err := s.repos.Sites.FindByID(ctx, req.SiteID); err != nil {
		return nil, fmt.Errorf("site %s: %w", req.SiteID, err)
	}

	r := &entity.Request{
		ID:           uuid.New().String(),
		DepartmentID: deptID,
		UserID:       actor.UserID,
		ActivityID:   req.ActivityID,
		SiteID:       req.SiteID,
		MaterialIDs:  entity.IDList(materials),
		EquipmentIDs: entity.IDList(equipment),
		LaborIDs:     entity.IDList(labor),
		Quantity:     req.Quantity,
		Remarks:      req.Remarks,
		Status:       workflow.RequestPending,
	}

	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Request.Create(ctx, r); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		return tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityRequest,
			EntityID:     r.ID,
			Action:       "create",
			ToStatus:     r.Status,
			Content:      fmt.Sprintf("需求单创建，物料%d项 设备%d项 工种%d项", len(materials), len(equipment), len(labor)),
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	invalidate(ctx, s.deps, cacheRequests, cacheAllocations)
	s.deps.Hub.PublishWorkflowUpdate(sse.WorkflowUpdate{
		Entity: "request", ID: r.ID, RequestID: r.ID, DepartmentID: r.DepartmentID, Action: "created",
	})
	return r, nil
}

// List 需求单列表
func (s *RequestService) List(ctx context.Context, f repository.Filter) (*Page[entity.Request], error) {
	return cachedList(ctx, s.deps, cacheRequests, f, s.repos.Request.FindAll)
}

// Get 需求单详情，附带按 step_order 排序的审批历史
func (s *RequestService) Get(ctx context.Context, id string) (*entity.Request, error) {
	r, err := s.repos.Request.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", id, err)
	}
	approvals, err := s.repos.Approval.FindByRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	r.Approvals = approvals
	return r, nil
}

// UpdateStatusReq 更新需求单状态
type UpdateStatusReq struct {
	Status  string `json:"status" binding:"required"`
	Remarks string `json:"remarks" binding:"max=500"`
}

// UpdateStatus moves a request forward. Requests never move back to an earlier
// status and a closed request stays closed.
func (s *RequestService) UpdateStatus(ctx context.Context, id string, req UpdateStatusReq, actor Actor) (*entity.Request, error) {
	var r *entity.Request
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		r, err = advanceRequest(ctx, tx, id, req.Status, actor, req.Remarks)
		return err
	})
	if err != nil {
		return nil, err
	}

	invalidate(ctx, s.deps, cacheRequests, cacheAllocations)
	s.deps.Hub.PublishWorkflowUpdate(sse.WorkflowUpdate{
		Entity: "request", ID: r.ID, RequestID: r.ID, DepartmentID: r.DepartmentID, Action: "status_changed",
	})
	return r, nil
}

// advanceRequest applies workflow.AdvanceRequest inside tx and logs the change.
// A no-op move returns the request unchanged.
func advanceRequest(ctx context.Context, tx *repository.Repositories, requestID, to string, actor Actor, note string) (*entity.Request, error) {
	r, err := tx.Request.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	next, err := workflow.AdvanceRequest(r.Status, to)
	if err != nil {
		return nil, fmt.Errorf("request %s -> %s: %w", r.Status, to, err)
	}
	if next == r.Status {
		return r, nil
	}
	from := r.Status
	if err := tx.Request.UpdateStatus(ctx, r.ID, next); err != nil {
		return nil, fmt.Errorf("update request status: %w", err)
	}
	r.Status = next
	if err := tx.ActivityLog.Log(ctx, repository.Entry{
		EntityType:   entity.LogEntityRequest,
		EntityID:     r.ID,
		Action:       "status_change",
		FromStatus:   from,
		ToStatus:     next,
		Content:      note,
		OperatorID:   actor.UserID,
		OperatorName: actor.Name,
	}); err != nil {
		return nil, err
	}
	return r, nil
}
