package service

import (
	"context"
	"fmt"
	"time"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/google/uuid"
)

// DispatchService 发运服务
type DispatchService struct {
	repos *repository.Repositories
	deps  Deps
}

func NewDispatchService(repos *repository.Repositories, deps Deps) *DispatchService {
	return &DispatchService{repos: repos, deps: deps.withDefaults()}
}

// CreateDispatchReq 创建发运单。duration_days 以 dispatched_date 为锚点推算 est_arrival_time
type CreateDispatchReq struct {
	ApprovalID         string     `json:"approval_id" binding:"required"`
	Status             string     `json:"status"`
	DispatchedBy       string     `json:"dispatched_by" binding:"required"`
	DispatchedDate     *time.Time `json:"dispatched_date"`
	EstArrivalTime     *time.Time `json:"est_arrival_time"`
	DurationDays       *int       `json:"duration_days" binding:"omitempty,min=0"`
	DepartureSiteID    string     `json:"depature_site_id" binding:"required"`
	ArrivalSiteID      string     `json:"arrival_site_id" binding:"required"`
	DriverName         string     `json:"driver_name" binding:"max=64"`
	VehicleNumber      string     `json:"vehicle_number" binding:"max=32"`
	VehicleType        string     `json:"vehicle_type" binding:"max=32"`
	TotalTransportCost float64    `json:"total_transport_cost" binding:"min=0"`
	Remarks            string     `json:"remarks" binding:"max=500"`
}

// Create records a dispatch for an approval whose chain ended on an approved
// final department.
func (s *DispatchService) Create(ctx context.Context, req CreateDispatchReq, actor Actor) (*entity.Dispatch, error) {
	status := req.Status
	if status == "" {
		status = workflow.DispatchPending
	}
	if !workflow.ValidDispatchStatus(status) {
		return nil, fmt.Errorf("dispatch status %q: %w", status, workflow.ErrInvalidStatus)
	}
	if !workflow.ValidCarrier(req.DispatchedBy) {
		return nil, workflow.ErrInvalidCarrier
	}

	d := &entity.Dispatch{
		ID:                 uuid.New().String(),
		ApprovalID:         req.ApprovalID,
		Status:             status,
		DispatchedBy:       req.DispatchedBy,
		DispatchedDate:     req.DispatchedDate,
		EstArrivalTime:     req.EstArrivalTime,
		DepartureSiteID:    req.DepartureSiteID,
		ArrivalSiteID:      req.ArrivalSiteID,
		DriverName:         req.DriverName,
		VehicleNumber:      req.VehicleNumber,
		VehicleType:        req.VehicleType,
		TotalTransportCost: req.TotalTransportCost,
		Remarks:            req.Remarks,
		CreatedBy:          actor.UserID,
	}
	if req.DurationDays != nil {
		if eta, ok := workflow.ArrivalFromDuration(d.DispatchedDate, *req.DurationDays); ok {
			d.EstArrivalTime = eta
		}
	}
	if err := checkSchedule(d); err != nil {
		return nil, err
	}

	var approval *entity.Approval
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		approval, err = deliverableApproval(ctx, tx, req.ApprovalID)
		if err != nil {
			return err
		}
		for _, id := range []string{req.DepartureSiteID, req.ArrivalSiteID} {
			if _, err := tx.Sites.FindByID(ctx, id); err != nil {
				return fmt.Errorf("site %s: %w", id, err)
			}
		}

		code, err := tx.Dispatch.GenerateCode(ctx)
		if err != nil {
			return fmt.Errorf("generate dispatch ref: %w", err)
		}
		d.RefNumber = code
		if err := tx.Dispatch.Create(ctx, d); err != nil {
			return fmt.Errorf("create dispatch: %w", err)
		}
		return tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityDispatch,
			EntityID:     d.ID,
			EntityCode:   d.RefNumber,
			Action:       "create",
			ToStatus:     d.Status,
			Content:      fmt.Sprintf("%s %s -> %s", d.DispatchedBy, d.DepartureSiteID, d.ArrivalSiteID),
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	d.DurationDays = workflow.DurationDays(d.DispatchedDate, d.EstArrivalTime)
	s.afterWrite(ctx, d, approval.RequestID, "created")
	return d, nil
}

// UpdateDispatchReq 修改发运单；字段为空表示不修改
type UpdateDispatchReq struct {
	Status             *string    `json:"status"`
	DispatchedBy       *string    `json:"dispatched_by"`
	DispatchedDate     *time.Time `json:"dispatched_date"`
	EstArrivalTime     *time.Time `json:"est_arrival_time"`
	DurationDays       *int       `json:"duration_days" binding:"omitempty,min=0"`
	DepartureSiteID    *string    `json:"depature_site_id"`
	ArrivalSiteID      *string    `json:"arrival_site_id"`
	DriverName         *string    `json:"driver_name" binding:"omitempty,max=64"`
	VehicleNumber      *string    `json:"vehicle_number" binding:"omitempty,max=32"`
	VehicleType        *string    `json:"vehicle_type" binding:"omitempty,max=32"`
	TotalTransportCost *float64   `json:"total_transport_cost" binding:"omitempty,min=0"`
	Remarks            *string    `json:"remarks" binding:"omitempty,max=500"`
}

// Update edits a dispatch in place. duration_days recomputes est_arrival_time
// from dispatched_date and is ignored when no dispatched_date is set.
func (s *DispatchService) Update(ctx context.Context, id string, req UpdateDispatchReq, actor Actor) (*entity.Dispatch, error) {
	var (
		d        *entity.Dispatch
		approval *entity.Approval
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		d, err = tx.Dispatch.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", id, err)
		}
		approval, err = tx.Approval.FindByID(ctx, d.ApprovalID)
		if err != nil {
			return fmt.Errorf("approval %s: %w", d.ApprovalID, err)
		}
		fromStatus := d.Status

		if req.Status != nil {
			if !workflow.ValidDispatchStatus(*req.Status) {
				return fmt.Errorf("dispatch status %q: %w", *req.Status, workflow.ErrInvalidStatus)
			}
			if !workflow.CanTransition(workflow.ValidDispatchTransitions, d.Status, *req.Status) {
				return fmt.Errorf("dispatch %s -> %s: %w", d.Status, *req.Status, workflow.ErrInvalidTransition)
			}
			d.Status = *req.Status
		}
		if req.DispatchedBy != nil {
			if !workflow.ValidCarrier(*req.DispatchedBy) {
				return workflow.ErrInvalidCarrier
			}
			d.DispatchedBy = *req.DispatchedBy
		}
		if req.DispatchedDate != nil {
			d.DispatchedDate = req.DispatchedDate
		}
		if req.EstArrivalTime != nil {
			d.EstArrivalTime = req.EstArrivalTime
		}
		if req.DurationDays != nil {
			if eta, ok := workflow.ArrivalFromDuration(d.DispatchedDate, *req.DurationDays); ok {
				d.EstArrivalTime = eta
			}
		}
		if err := checkSchedule(d); err != nil {
			return err
		}
		for _, site := range []*string{req.DepartureSiteID, req.ArrivalSiteID} {
			if site == nil {
				continue
			}
			if _, err := tx.Sites.FindByID(ctx, *site); err != nil {
				return fmt.Errorf("site %s: %w", *site, err)
			}
		}
		if req.DepartureSiteID != nil {
			d.DepartureSiteID = *req.DepartureSiteID
		}
		if req.ArrivalSiteID != nil {
			d.ArrivalSiteID = *req.ArrivalSiteID
		}
		if req.DriverName != nil {
			d.DriverName = *req.DriverName
		}
		if req.VehicleNumber != nil {
			d.VehicleNumber = *req.VehicleNumber
		}
		if req.VehicleType != nil {
			d.VehicleType = *req.VehicleType
		}
		if req.TotalTransportCost != nil {
			d.TotalTransportCost = *req.TotalTransportCost
		}
		if req.Remarks != nil {
			d.Remarks = *req.Remarks
		}

		if err := tx.Dispatch.Update(ctx, d); err != nil {
			return fmt.Errorf("update dispatch: %w", err)
		}
		action := "update"
		if fromStatus != d.Status {
			action = "status_change"
		}
		return tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityDispatch,
			EntityID:     d.ID,
			EntityCode:   d.RefNumber,
			Action:       action,
			FromStatus:   fromStatus,
			ToStatus:     d.Status,
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		})
	})
	if err != nil {
		return nil, err
	}

	d.DurationDays = workflow.DurationDays(d.DispatchedDate, d.EstArrivalTime)
	s.afterWrite(ctx, d, approval.RequestID, "updated")
	return d, nil
}

// Get 发运单详情
func (s *DispatchService) Get(ctx context.Context, id string) (*entity.Dispatch, error) {
	d, err := s.repos.Dispatch.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", id, err)
	}
	d.DurationDays = workflow.DurationDays(d.DispatchedDate, d.EstArrivalTime)
	return d, nil
}

// List 发运单列表
func (s *DispatchService) List(ctx context.Context, f repository.Filter) (*Page[entity.Dispatch], error) {
	return cachedList(ctx, s.deps, cacheDispatches, f, s.findAll)
}

func (s *DispatchService) findAll(ctx context.Context, f repository.Filter) ([]entity.Dispatch, int64, error) {
	items, total, err := s.repos.Dispatch.FindAll(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].DurationDays = workflow.DurationDays(items[i].DispatchedDate, items[i].EstArrivalTime)
	}
	return items, total, nil
}

func (s *DispatchService) afterWrite(ctx context.Context, d *entity.Dispatch, requestID, action string) {
	invalidate(ctx, s.deps, cacheDispatches)
	s.deps.Hub.PublishWorkflowUpdate(sse.WorkflowUpdate{
		Entity:    "dispatch",
		ID:        d.ID,
		RequestID: requestID,
		Action:    action,
	})
}

func checkSchedule(d *entity.Dispatch) error {
	if d.DispatchedDate != nil && d.EstArrivalTime != nil && d.EstArrivalTime.Before(*d.DispatchedDate) {
		return invalidf("est_arrival_time must not be before dispatched_date")
	}
	return nil
}

// deliverableApproval loads an approval and checks that it is the approved
// final step of its chain.
func deliverableApproval(ctx context.Context, tx *repository.Repositories, approvalID string) (*entity.Approval, error) {
	a, err := tx.Approval.FindByID(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("approval %s: %w", approvalID, err)
	}
	history, err := tx.Approval.FindByRequest(ctx, a.RequestID)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	chain := entity.BuildChain(a.RequestID, history)
	last, _ := chain.Last()
	if !chain.Deliverable() || last.StepOrder != a.StepOrder {
		return nil, fmt.Errorf("approval %s: %w", approvalID, workflow.ErrNotDeliverable)
	}
	return a, nil
}
