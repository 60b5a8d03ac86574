package entity

import "time"

// ActivityLog 操作日志
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_supply_activity_entity"` // request/approval/dispatch/delivery
	EntityID   string `json:"entity_id" gorm:"size:36;not null;index:idx_supply_activity_entity"`
	EntityCode string `json:"entity_code" gorm:"size:50"`

	Action     string `json:"action" gorm:"size:50;not null"` // create/update/status_change/attach
	FromStatus string `json:"from_status" gorm:"size:20"`
	ToStatus   string `json:"to_status" gorm:"size:20"`

	Content string `json:"content" gorm:"type:text"`

	OperatorID   string    `json:"operator_id" gorm:"size:36"`
	OperatorName string    `json:"operator_name" gorm:"size:100"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "supply_activity_logs"
}

// 日志实体类型
const (
	LogEntityRequest  = "request"
	LogEntityApproval = "approval"
	LogEntityDispatch = "dispatch"
	LogEntityDelivery = "delivery"
)

// All lists every table for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Department{},
		&Site{},
		&User{},
		&Project{},
		&Activity{},
		&Material{},
		&Equipment{},
		&Labor{},
		&Request{},
		&Approval{},
		&Dispatch{},
		&RequestDelivery{},
		&DeliveryAttachment{},
		&ActivityLog{},
	}
}
