package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotNewestStep 只能修改审批链中最新的节点
var ErrNotNewestStep = errors.New("only the newest approval step can be edited")

// ApprovalService 部门审批服务
type ApprovalService struct {
	repos *repository.Repositories
	deps  Deps
	now   func() time.Time
}

func NewApprovalService(repos *repository.Repositories, deps Deps) *ApprovalService {
	return &ApprovalService{repos: repos, deps: deps.withDefaults(), now: time.Now}
}

// History 审批历史，按 step_order 升序
func (s *ApprovalService) History(ctx context.Context, requestID string) ([]entity.Approval, error) {
	if _, err := s.repos.Request.FindByID(ctx, requestID); err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	items, err := s.repos.Approval.FindByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	if items == nil {
		items = []entity.Approval{}
	}
	return items, nil
}

// ApprovalDraft 审批表单的预填值
type ApprovalDraft struct {
	RequestID        string    `json:"request_id"`
	DepartmentID     string    `json:"department_id"`
	StepOrder        int       `json:"step_order"`
	PrevDepartmentID string    `json:"prev_department_id,omitempty"`
	Status           string    `json:"status"`
	ApprovedBy       string    `json:"approved_by"`
	ApprovedAt       time.Time `json:"approved_at"`
	// 上一节点指定的下一部门，为空表示不限
	DesignatedDepartmentID string `json:"designated_department_id,omitempty"`
	ChainClosed            bool   `json:"chain_closed"`
	AlreadyAllocated       bool   `json:"already_allocated"`
}

// Draft prefills the approval form of a department for a request.
func (s *ApprovalService) Draft(ctx context.Context, requestID, department string, actor Actor) (*ApprovalDraft, error) {
	departmentID, err := actor.ActingDepartment(department)
	if err != nil {
		return nil, err
	}
	if _, err := s.repos.Request.FindByID(ctx, requestID); err != nil {
		return nil, fmt.Errorf("request %s: %w", requestID, err)
	}
	approvals, err := s.repos.Approval.FindByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	chain := entity.BuildChain(requestID, approvals)
	step := workflow.Draft(chain, departmentID, actor.UserID, s.now())

	draft := &ApprovalDraft{
		RequestID:        requestID,
		DepartmentID:     step.DepartmentID,
		StepOrder:        step.StepOrder,
		PrevDepartmentID: step.PrevDepartmentID,
		Status:           step.Status,
		ApprovedBy:       step.ApprovedBy,
		ApprovedAt:       step.ApprovedAt,
		ChainClosed:      chain.Terminal,
		AlreadyAllocated: chain.Has(departmentID),
	}
	if last, ok := chain.Last(); ok {
		draft.DesignatedDepartmentID = last.NextDepartmentID
	}
	return draft, nil
}

// CreateApprovalReq 新增审批节点。step_order 与 prev_department_id 由服务端推导，
// approved_by/approved_at 固定为当前用户与当前时间
type CreateApprovalReq struct {
	RequestID        string `json:"request_id" binding:"required"`
	DepartmentID     string `json:"department_id"`
	Status           string `json:"status" binding:"required"`
	NextDepartmentID string `json:"next_department_id"`
	FinalDepartment  bool   `json:"final_department"`
	CheckedBy        string `json:"checked_by"`
	Remarks          string `json:"remarks" binding:"max=500"`
}

// Create appends a step to the request's approval chain.
func (s *ApprovalService) Create(ctx context.Context, req CreateApprovalReq, actor Actor) (*entity.Approval, error) {
	deptID, err := actor.ActingDepartment(req.DepartmentID)
	if err != nil {
		return nil, err
	}
	decision := workflow.Decision{
		DepartmentID:     deptID,
		Status:           req.Status,
		NextDepartmentID: req.NextDepartmentID,
		FinalDepartment:  req.FinalDepartment,
		CheckedBy:        req.CheckedBy,
		Remarks:          req.Remarks,
		Actor:            actor.UserID,
		At:               s.now(),
	}

	var (
		approval *entity.Approval
		request  *entity.Request
	)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		request, err = tx.Request.FindByIDForUpdate(ctx, req.RequestID)
		if err != nil {
			return fmt.Errorf("request %s: %w", req.RequestID, err)
		}
		if err := ensureDepartments(ctx, tx, deptID); err != nil {
			return err
		}

		history, err := tx.Approval.FindByRequest(ctx, request.ID)
		if err != nil {
			return fmt.Errorf("load approvals: %w", err)
		}
		_, step, err := workflow.NextStep(entity.BuildChain(request.ID, history), decision)
		if err != nil {
			return fmt.Errorf("append approval step: %w", err)
		}
		// 最终部门的 next_department_id 已被清空，不再校验
		if err := ensureDepartments(ctx, tx, step.NextDepartmentID); err != nil {
			return err
		}

		approval = &entity.Approval{ID: uuid.New().String(), RequestID: request.ID}
		approval.ApplyStep(step)
		if err := tx.Approval.Create(ctx, approval); err != nil {
			return fmt.Errorf("create approval: %w", err)
		}

		if err := tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityApproval,
			EntityID:     approval.ID,
			EntityCode:   fmt.Sprintf("STEP-%d", approval.StepOrder),
			Action:       "create",
			ToStatus:     approval.Status,
			Content:      approvalSummary(approval),
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		}); err != nil {
			return err
		}

		request, err = advanceRequest(ctx, tx, request.ID, requestStatusFor(approval.Status), actor, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, approval, request, "created")
	if approval.NextDepartmentID != "" {
		s.notifyNextDepartment(ctx, approval)
	}
	return approval, nil
}

// UpdateApprovalReq 修改最新节点；字段为空表示不修改
type UpdateApprovalReq struct {
	Status           *string `json:"status"`
	NextDepartmentID *string `json:"next_department_id"`
	FinalDepartment  *bool   `json:"final_department"`
	CheckedBy        *string `json:"checked_by"`
	Remarks          *string `json:"remarks" binding:"omitempty,max=500"`
}

// Update edits the newest step of a chain. Decided steps only accept remarks
// and checked_by.
func (s *ApprovalService) Update(ctx context.Context, id string, req UpdateApprovalReq, actor Actor) (*entity.Approval, error) {
	var (
		approval *entity.Approval
		request  *entity.Request
		prevNext string
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		approval, err = tx.Approval.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("approval %s: %w", id, err)
		}
		if _, err := tx.Request.FindByIDForUpdate(ctx, approval.RequestID); err != nil {
			return fmt.Errorf("request %s: %w", approval.RequestID, err)
		}
		history, err := tx.Approval.FindByRequest(ctx, approval.RequestID)
		if err != nil {
			return fmt.Errorf("load approvals: %w", err)
		}
		chain := entity.BuildChain(approval.RequestID, history)
		if last, _ := chain.Last(); last.StepOrder != approval.StepOrder {
			return ErrNotNewestStep
		}

		fromStatus := approval.Status
		prevNext = approval.NextDepartmentID
		_, step, err := workflow.Decide(chain, workflow.StepUpdate{
			Status:           req.Status,
			NextDepartmentID: req.NextDepartmentID,
			FinalDepartment:  req.FinalDepartment,
			CheckedBy:        req.CheckedBy,
			Remarks:          req.Remarks,
			Actor:            actor.UserID,
			At:               s.now(),
		})
		if err != nil {
			return fmt.Errorf("update approval step: %w", err)
		}
		if step.NextDepartmentID != prevNext {
			if err := ensureDepartments(ctx, tx, step.NextDepartmentID); err != nil {
				return err
			}
		}
		approval.ApplyStep(step)
		if err := tx.Approval.Update(ctx, approval); err != nil {
			return fmt.Errorf("update approval: %w", err)
		}

		action := "update"
		if fromStatus != approval.Status {
			action = "status_change"
		}
		if err := tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityApproval,
			EntityID:     approval.ID,
			EntityCode:   fmt.Sprintf("STEP-%d", approval.StepOrder),
			Action:       action,
			FromStatus:   fromStatus,
			ToStatus:     approval.Status,
			Content:      approvalSummary(approval),
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		}); err != nil {
			return err
		}

		request, err = advanceRequest(ctx, tx, approval.RequestID, requestStatusFor(approval.Status), actor, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, approval, request, "updated")
	if approval.NextDepartmentID != "" && approval.NextDepartmentID != prevNext {
		s.notifyNextDepartment(ctx, approval)
	}
	return approval, nil
}

// List 审批节点列表
func (s *ApprovalService) List(ctx context.Context, f repository.Filter) (*Page[entity.Approval], error) {
	return cachedList(ctx, s.deps, cacheApprovals, f, s.repos.Approval.FindAll)
}

// DeliverableApproval 可发运/签收的审批，按需求单的活动名称展示
type DeliverableApproval struct {
	entity.Approval
	ActivityID   string `json:"activity_id"`
	ActivityName string `json:"activity_name"`
	SiteID       string `json:"site_id"`
}

// ListDeliverable returns final approved steps labelled by their request's
// activity name.
func (s *ApprovalService) ListDeliverable(ctx context.Context) ([]DeliverableApproval, error) {
	approvals, err := s.repos.Approval.FindDeliverable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deliverable approvals: %w", err)
	}
	out := make([]DeliverableApproval, 0, len(approvals))
	if len(approvals) == 0 {
		return out, nil
	}

	requestIDs := make([]string, 0, len(approvals))
	for _, a := range approvals {
		requestIDs = append(requestIDs, a.RequestID)
	}
	requests, err := s.repos.Request.FindByIDs(ctx, dedupe(requestIDs))
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	byRequest := make(map[string]entity.Request, len(requests))
	activityIDs := make([]string, 0, len(requests))
	for _, r := range requests {
		byRequest[r.ID] = r
		activityIDs = append(activityIDs, r.ActivityID)
	}
	activities, err := s.repos.Activities.NamesByIDs(ctx, dedupe(activityIDs))
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	names := make(map[string]string, len(activities))
	for _, a := range activities {
		names[a.ID] = a.Name
	}

	for _, a := range approvals {
		r := byRequest[a.RequestID]
		out = append(out, DeliverableApproval{
			Approval:     a,
			ActivityID:   r.ActivityID,
			ActivityName: names[r.ActivityID],
			SiteID:       r.SiteID,
		})
	}
	return out, nil
}

func (s *ApprovalService) afterWrite(ctx context.Context, a *entity.Approval, r *entity.Request, action string) {
	invalidate(ctx, s.deps, cacheApprovals, cacheRequests, cacheAllocations)
	s.deps.Hub.PublishWorkflowUpdate(sse.WorkflowUpdate{
		Entity:       "approval",
		ID:           a.ID,
		RequestID:    a.RequestID,
		DepartmentID: a.DepartmentID,
		Action:       action,
	})
	s.deps.Logger.Info("approval step written",
		zap.String("approval_id", a.ID),
		zap.String("request_id", a.RequestID),
		zap.Int("step_order", a.StepOrder),
		zap.String("status", a.Status),
		zap.String("request_status", r.Status),
		zap.String("action", action))
}

// notifyNextDepartment mails the leader of the designated next department.
// Delivery happens in the background and failures are only logged.
func (s *ApprovalService) notifyNextDepartment(ctx context.Context, a *entity.Approval) {
	if s.deps.Notifier == nil {
		return
	}
	next, err := s.repos.Departments.FindByID(ctx, a.NextDepartmentID)
	if err != nil || next.LeaderEmail == "" {
		return
	}
	from, _ := s.repos.Departments.FindByID(ctx, a.DepartmentID)
	fromName := a.DepartmentID
	if from != nil {
		fromName = from.Name
	}

	subject := fmt.Sprintf("Approval required: request %s", a.RequestID)
	body := fmt.Sprintf(
		"<p>%s marked step %d of request <b>%s</b> as %s and forwarded it to %s.</p><p>%s</p>",
		html.EscapeString(fromName), a.StepOrder, html.EscapeString(a.RequestID),
		html.EscapeString(a.Status), html.EscapeString(next.Name), html.EscapeString(a.Remarks))
	to := []string{next.LeaderEmail}
	logger := s.deps.Logger

	go func() {
		if err := s.deps.Notifier.Send(to, subject, body); err != nil {
			logger.Warn("approval notification failed",
				zap.String("approval_id", a.ID),
				zap.Strings("to", to),
				zap.Error(err))
		}
	}()
}

// ensureDepartments checks that every non-empty id is a known department.
func ensureDepartments(ctx context.Context, tx *repository.Repositories, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := tx.Departments.FindByID(ctx, id); err != nil {
			return fmt.Errorf("department %s: %w", id, err)
		}
	}
	return nil
}

// requestStatusFor maps a step decision onto the request status it implies.
func requestStatusFor(stepStatus string) string {
	if stepStatus == workflow.StatusRejected {
		return workflow.RequestRejected
	}
	return workflow.RequestInProgress
}

func approvalSummary(a *entity.Approval) string {
	switch {
	case a.FinalDepartment:
		return fmt.Sprintf("第%d步 %s（最终部门）", a.StepOrder, a.Status)
	case a.NextDepartmentID != "":
		return fmt.Sprintf("第%d步 %s，转下一部门 %s", a.StepOrder, a.Status, a.NextDepartmentID)
	default:
		return fmt.Sprintf("第%d步 %s", a.StepOrder, a.Status)
	}
}
