package service

import (
	"context"
	"fmt"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
)

// AllocationService 资源分配页
type AllocationService struct {
	repos *repository.Repositories
	deps  Deps
}

func NewAllocationService(repos *repository.Repositories, deps Deps) *AllocationService {
	return &AllocationService{repos: repos, deps: deps.withDefaults()}
}

// AllocationRow 分配页的一行
type AllocationRow struct {
	Request     entity.Request       `json:"request"`
	Materials   []entity.ResourceRef `json:"materials"`
	Equipment   []entity.ResourceRef `json:"equipment"`
	Labor       []entity.ResourceRef `json:"labor"`
	StepCount   int                  `json:"step_count"`
	ChainClosed bool                 `json:"chain_closed"`
	Deliverable bool                 `json:"deliverable"`
	Allocated   bool                 `json:"allocated"`
	Designated  string               `json:"designated_department_id,omitempty"`
	CanAllocate bool                 `json:"can_allocate"`
}

// List builds the allocation page of a department. The whole page costs one
// request query, one approval query and one name query per resource kind.
func (s *AllocationService) List(ctx context.Context, departmentID string) ([]AllocationRow, error) {
	if departmentID == "" {
		return nil, invalidf("department_id is required")
	}

	return readThrough(ctx, s.deps, cacheAllocations, "department_id="+departmentID, func() ([]AllocationRow, error) {
		return s.load(ctx, departmentID)
	})
}

func (s *AllocationService) load(ctx context.Context, departmentID string) ([]AllocationRow, error) {
	requests, err := s.repos.Request.FindForDepartment(ctx, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list department requests: %w", err)
	}

	requestIDs := make([]string, 0, len(requests))
	var materialIDs, equipmentIDs, laborIDs []string
	for _, r := range requests {
		requestIDs = append(requestIDs, r.ID)
		materialIDs = append(materialIDs, r.MaterialIDs...)
		equipmentIDs = append(equipmentIDs, r.EquipmentIDs...)
		laborIDs = append(laborIDs, r.LaborIDs...)
	}

	approvals, err := s.repos.Approval.FindByRequestIDs(ctx, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	names, err := resolveNames(ctx, s.repos, materialIDs, equipmentIDs, laborIDs)
	if err != nil {
		return nil, err
	}
	return buildAllocationRows(requests, approvals, names, departmentID), nil
}

// buildAllocationRows is pure: it joins already-fetched data without further
// lookups.
func buildAllocationRows(requests []entity.Request, approvals []entity.Approval, names *ResourceNames, departmentID string) []AllocationRow {
	byRequest := make(map[string][]entity.Approval, len(requests))
	refs := make([]workflow.AllocationRef, 0, len(approvals))
	for _, a := range approvals {
		byRequest[a.RequestID] = append(byRequest[a.RequestID], a)
		refs = append(refs, workflow.AllocationRef{RequestID: a.RequestID, DepartmentID: a.DepartmentID})
	}

	materials := indexRefs(names.Materials)
	equipment := indexRefs(names.Equipment)
	labor := indexRefs(names.Labor)

	rows := make([]AllocationRow, 0, len(requests))
	for _, r := range requests {
		chain := entity.BuildChain(r.ID, byRequest[r.ID])
		allocated := workflow.Allocated(refs, r.ID, departmentID)
		designated := ""
		if last, ok := chain.Last(); ok {
			designated = last.NextDepartmentID
		}
		rows = append(rows, AllocationRow{
			Request:     r,
			Materials:   pickRefs(materials, r.MaterialIDs),
			Equipment:   pickRefs(equipment, r.EquipmentIDs),
			Labor:       pickRefs(labor, r.LaborIDs),
			StepCount:   len(chain.Steps),
			ChainClosed: chain.Terminal,
			Deliverable: chain.Deliverable(),
			Allocated:   allocated,
			Designated:  designated,
			CanAllocate: !allocated && !chain.Terminal && (designated == "" || designated == departmentID),
		})
	}
	return rows
}

func indexRefs(refs []entity.ResourceRef) map[string]string {
	m := make(map[string]string, len(refs))
	for _, r := range refs {
		m[r.ID] = r.Name
	}
	return m
}

// pickRefs keeps the request's id order; unknown ids are returned with an
// empty name.
func pickRefs(names map[string]string, ids []string) []entity.ResourceRef {
	out := make([]entity.ResourceRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, entity.ResourceRef{ID: id, Name: names[id]})
	}
	return out
}
