// Package workflow holds the approval chain state machine and the dispatch/delivery
// transition rules. It has no storage or transport dependencies.
package workflow

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Approval step status
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

var (
	ErrChainClosed          = errors.New("approval chain is already closed")
	ErrDepartmentRequired   = errors.New("department is required")
	ErrDepartmentRevisit    = errors.New("department already has a step in this chain")
	ErrUnexpectedDepartment = errors.New("department does not match the designated next department")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrStepDecided          = errors.New("step is already decided")
	ErrEmptyChain           = errors.New("approval chain has no steps")
)

// Step 审批链中的一个部门节点
type Step struct {
	StepOrder        int
	DepartmentID     string
	Status           string
	PrevDepartmentID string
	NextDepartmentID string
	FinalDepartment  bool
	ApprovedBy       string
	ApprovedAt       time.Time
	CheckedBy        string
	Remarks          string
}

func (s Step) decided() bool {
	return s.Status == StatusApproved || s.Status == StatusRejected
}

// Chain 某个需求单的审批链
type Chain struct {
	RequestID string
	Steps     []Step
	Terminal  bool
}

// NewChain orders steps by StepOrder and derives the terminal flag.
func NewChain(requestID string, steps []Step) Chain {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StepOrder < sorted[j].StepOrder
	})
	c := Chain{RequestID: requestID, Steps: sorted}
	c.Terminal = terminal(sorted)
	return c
}

func terminal(steps []Step) bool {
	for _, s := range steps {
		if s.Status == StatusRejected {
			return true
		}
		if s.FinalDepartment && s.Status == StatusApproved {
			return true
		}
	}
	return false
}

// Last returns the newest step.
func (c Chain) Last() (Step, bool) {
	if len(c.Steps) == 0 {
		return Step{}, false
	}
	return c.Steps[len(c.Steps)-1], true
}

// Has reports whether the department already owns a step.
func (c Chain) Has(departmentID string) bool {
	for _, s := range c.Steps {
		if s.DepartmentID == departmentID {
			return true
		}
	}
	return false
}

// Deliverable reports whether the chain ended on an approved final department,
// which is what unlocks dispatch and delivery.
func (c Chain) Deliverable() bool {
	last, ok := c.Last()
	return ok && c.Terminal && last.FinalDepartment && last.Status == StatusApproved
}

// Rejected reports whether any step rejected the request.
func (c Chain) Rejected() bool {
	for _, s := range c.Steps {
		if s.Status == StatusRejected {
			return true
		}
	}
	return false
}

// Draft returns the prefilled values of the next step for a department.
func Draft(c Chain, departmentID, actor string, now time.Time) Step {
	step := Step{
		StepOrder:    1,
		DepartmentID: departmentID,
		Status:       StatusPending,
		ApprovedBy:   actor,
		ApprovedAt:   now,
	}
	if last, ok := c.Last(); ok {
		step.StepOrder = last.StepOrder + 1
		step.PrevDepartmentID = last.DepartmentID
	}
	return step
}

// Decision 部门对需求单的审批动作
type Decision struct {
	DepartmentID     string
	Status           string
	NextDepartmentID string
	FinalDepartment  bool
	CheckedBy        string
	Remarks          string
	Actor            string
	At               time.Time
}

// NextStep appends a decision to the chain and returns the new chain and the step
// that was appended. The input chain is not modified.
func NextStep(c Chain, d Decision) (Chain, Step, error) {
	if c.Terminal {
		return c, Step{}, ErrChainClosed
	}
	dept := strings.TrimSpace(d.DepartmentID)
	if dept == "" {
		return c, Step{}, ErrDepartmentRequired
	}
	if !ValidStepStatus(d.Status) {
		return c, Step{}, ErrInvalidStatus
	}
	if c.Has(dept) {
		return c, Step{}, ErrDepartmentRevisit
	}
	if last, ok := c.Last(); ok && last.NextDepartmentID != "" && last.NextDepartmentID != dept {
		return c, Step{}, ErrUnexpectedDepartment
	}

	step := Draft(c, dept, d.Actor, d.At)
	step.Status = d.Status
	step.FinalDepartment = d.FinalDepartment
	step.CheckedBy = d.CheckedBy
	step.Remarks = d.Remarks
	if !d.FinalDepartment {
		step.NextDepartmentID = strings.TrimSpace(d.NextDepartmentID)
	}
	if step.NextDepartmentID == dept {
		return c, Step{}, ErrDepartmentRevisit
	}

	steps := make([]Step, 0, len(c.Steps)+1)
	steps = append(steps, c.Steps...)
	steps = append(steps, step)
	return Chain{RequestID: c.RequestID, Steps: steps, Terminal: terminal(steps)}, step, nil
}

// StepUpdate 对最新节点的修改；nil 表示不修改
type StepUpdate struct {
	Status           *string
	NextDepartmentID *string
	FinalDepartment  *bool
	CheckedBy        *string
	Remarks          *string
	Actor            string
	At               time.Time
}

// Decide edits the newest step. A Pending step may still take a decision; once
// decided only remarks and checkedBy can change.
func Decide(c Chain, u StepUpdate) (Chain, Step, error) {
	last, ok := c.Last()
	if !ok {
		return c, Step{}, ErrEmptyChain
	}
	step := last

	changesDecision := u.Status != nil || u.NextDepartmentID != nil || u.FinalDepartment != nil
	if changesDecision {
		if last.decided() {
			return c, Step{}, ErrStepDecided
		}
		if u.Status != nil {
			if !ValidStepStatus(*u.Status) {
				return c, Step{}, ErrInvalidStatus
			}
			step.Status = *u.Status
		}
		if u.FinalDepartment != nil {
			step.FinalDepartment = *u.FinalDepartment
		}
		if u.NextDepartmentID != nil {
			step.NextDepartmentID = strings.TrimSpace(*u.NextDepartmentID)
		}
		if step.FinalDepartment {
			step.NextDepartmentID = ""
		}
		if step.NextDepartmentID != "" && c.Has(step.NextDepartmentID) {
			return c, Step{}, ErrDepartmentRevisit
		}
		if step.decided() {
			step.ApprovedBy = u.Actor
			step.ApprovedAt = u.At
		}
	}
	if u.CheckedBy != nil {
		step.CheckedBy = *u.CheckedBy
	}
	if u.Remarks != nil {
		step.Remarks = *u.Remarks
	}

	steps := make([]Step, len(c.Steps))
	copy(steps, c.Steps)
	steps[len(steps)-1] = step
	return Chain{RequestID: c.RequestID, Steps: steps, Terminal: terminal(steps)}, step, nil
}

// ValidStepStatus reports whether s is an approval step status.
func ValidStepStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// AllocationRef is the minimal shape needed to decide the allocation lock.
type AllocationRef struct {
	RequestID    string
	DepartmentID string
}

// Allocated reports whether the department already has a step for the request.
func Allocated(approvals []AllocationRef, requestID, departmentID string) bool {
	for _, a := range approvals {
		if a.RequestID == requestID && a.DepartmentID == departmentID {
			return true
		}
	}
	return false
}
