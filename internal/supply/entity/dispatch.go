package entity

import "time"

// Dispatch 发运单
type Dispatch struct {
	ID                 string     `json:"id" gorm:"primaryKey;size:36"`
	ApprovalID         string     `json:"approval_id" gorm:"size:36;not null;index"`
	RefNumber          string     `json:"ref_number" gorm:"size:32;uniqueIndex;not null"` // DSP-{year}-{4位}
	Status             string     `json:"status" gorm:"size:20;not null;index"`           // Pending/In Transit/Delivered/Cancelled
	DispatchedBy       string     `json:"dispatched_by" gorm:"size:20"`                   // Plane/Truck
	DispatchedDate     *time.Time `json:"dispatched_date"`
	EstArrivalTime     *time.Time `json:"est_arrival_time"`
	DepartureSiteID    string     `json:"depature_site_id" gorm:"column:departure_site_id;size:36"`
	ArrivalSiteID      string     `json:"arrival_site_id" gorm:"size:36"`
	DriverName         string     `json:"driver_name" gorm:"size:64"`
	VehicleNumber      string     `json:"vehicle_number" gorm:"size:32"`
	VehicleType        string     `json:"vehicle_type" gorm:"size:32"`
	TotalTransportCost float64    `json:"total_transport_cost"`
	Remarks            string     `json:"remarks" gorm:"size:500"`
	CreatedBy          string     `json:"created_by" gorm:"size:36"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// 非数据库字段，由 dispatched_date 与 est_arrival_time 推导
	DurationDays int `json:"duration_days" gorm:"-"`
}

func (Dispatch) TableName() string {
	return "supply_dispatches"
}
