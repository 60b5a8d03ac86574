package entity

import (
	"time"

	"github.com/conbuild/backoffice/internal/shared/workflow"
)

// Request 物资需求单
type Request struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	DepartmentID string    `json:"department_id" gorm:"size:36;not null;index"`
	UserID       string    `json:"user_id" gorm:"size:36;not null"`
	ActivityID   string    `json:"activity_id" gorm:"size:36;index"`
	SiteID       string    `json:"site_id" gorm:"size:36;index"`
	MaterialIDs  IDList    `json:"material_ids"`
	EquipmentIDs IDList    `json:"equipment_ids"`
	LaborIDs     IDList    `json:"labor_ids"`
	Quantity     int       `json:"quantity"`
	Remarks      string    `json:"remarks" gorm:"size:500"`
	Status       string    `json:"status" gorm:"size:20;not null;index"` // Pending/In Progress/Completed/Rejected
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// 非数据库字段
	Approvals []Approval `json:"approvals,omitempty" gorm:"-"`
}

func (Request) TableName() string {
	return "supply_requests"
}

// Approval 部门审批节点
type Approval struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID        string    `json:"request_id" gorm:"size:36;not null;uniqueIndex:idx_supply_approval_step,priority:1;uniqueIndex:idx_supply_approval_dept,priority:1"`
	DepartmentID     string    `json:"department_id" gorm:"size:36;not null;uniqueIndex:idx_supply_approval_dept,priority:2"`
	StepOrder        int       `json:"step_order" gorm:"not null;uniqueIndex:idx_supply_approval_step,priority:2"`
	Status           string    `json:"status" gorm:"size:20;not null;index"` // Pending/Approved/Rejected
	ApprovedBy       string    `json:"approved_by" gorm:"size:36"`
	ApprovedAt       time.Time `json:"approved_at"`
	CheckedBy        string    `json:"checked_by" gorm:"size:36"`
	PrevDepartmentID string    `json:"prev_department_id,omitempty" gorm:"size:36"`
	NextDepartmentID string    `json:"next_department_id,omitempty" gorm:"size:36"`
	FinalDepartment  bool      `json:"final_department" gorm:"not null;default:false"`
	Remarks          string    `json:"remarks" gorm:"size:500"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Approval) TableName() string {
	return "supply_approvals"
}

// Step converts the record into a workflow step.
func (a Approval) Step() workflow.Step {
	return workflow.Step{
		StepOrder:        a.StepOrder,
		DepartmentID:     a.DepartmentID,
		Status:           a.Status,
		PrevDepartmentID: a.PrevDepartmentID,
		NextDepartmentID: a.NextDepartmentID,
		FinalDepartment:  a.FinalDepartment,
		ApprovedBy:       a.ApprovedBy,
		ApprovedAt:       a.ApprovedAt,
		CheckedBy:        a.CheckedBy,
		Remarks:          a.Remarks,
	}
}

// ApplyStep copies the workflow step fields onto the record.
func (a *Approval) ApplyStep(s workflow.Step) {
	a.StepOrder = s.StepOrder
	a.DepartmentID = s.DepartmentID
	a.Status = s.Status
	a.PrevDepartmentID = s.PrevDepartmentID
	a.NextDepartmentID = s.NextDepartmentID
	a.FinalDepartment = s.FinalDepartment
	a.ApprovedBy = s.ApprovedBy
	a.ApprovedAt = s.ApprovedAt
	a.CheckedBy = s.CheckedBy
	a.Remarks = s.Remarks
}

// BuildChain assembles the workflow chain of a request from its approvals.
func BuildChain(requestID string, approvals []Approval) workflow.Chain {
	steps := make([]workflow.Step, 0, len(approvals))
	for _, a := range approvals {
		steps = append(steps, a.Step())
	}
	return workflow.NewChain(requestID, steps)
}
