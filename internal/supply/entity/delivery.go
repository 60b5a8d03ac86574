package entity

import "time"

// RequestDelivery 到货签收记录
type RequestDelivery struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	ApprovalID       string    `json:"approval_id" gorm:"size:36;not null;index"`
	RefNumber        string    `json:"ref_number" gorm:"size:32;uniqueIndex;not null"` // DLV-{year}-{4位}
	ReceivedQuantity int       `json:"recieved_quantity" gorm:"column:received_quantity;not null"`
	DeliveredBy      string    `json:"delivered_by" gorm:"size:64;not null"`
	ReceivedBy       string    `json:"recieved_by" gorm:"column:received_by;size:64;not null"`
	DeliveryDate     time.Time `json:"delivery_date"`
	SiteID           string    `json:"site_id" gorm:"size:36;not null;index"`
	Remarks          string    `json:"remarks" gorm:"size:500"`
	Status           string    `json:"status" gorm:"size:20;not null;index"` // Pending/Delivered/Cancelled
	CreatedBy        string    `json:"created_by" gorm:"size:36"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (RequestDelivery) TableName() string {
	return "supply_request_deliveries"
}

// DeliveryAttachment 签收凭证附件
type DeliveryAttachment struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	DeliveryID  string    `json:"delivery_id" gorm:"size:36;not null;index"`
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	ObjectName  string    `json:"-" gorm:"size:512;not null"`
	ContentType string    `json:"content_type" gorm:"size:128"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by" gorm:"size:36"`
	CreatedAt   time.Time `json:"created_at"`
}

func (DeliveryAttachment) TableName() string {
	return "supply_delivery_attachments"
}
