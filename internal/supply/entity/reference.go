package entity

import "time"

// Department 部门
type Department struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Name        string    `json:"name" gorm:"size:128;not null"`
	LeaderEmail string    `json:"leader_email" gorm:"size:128"` // 审批流转通知
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Department) TableName() string {
	return "supply_departments"
}

// Site 工地
type Site struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Location  string    `json:"location" gorm:"size:256"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Site) TableName() string {
	return "supply_sites"
}

// User 用户
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"size:64;not null"`
	Email        string    `json:"email" gorm:"size:128"`
	DepartmentID string    `json:"department_id" gorm:"size:36;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "supply_users"
}

// Project 项目
type Project struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:32"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "supply_projects"
}

// Activity 项目活动，需求单挂在活动下
type Activity struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	ProjectID string    `json:"project_id" gorm:"size:36;index"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Activity) TableName() string {
	return "supply_activities"
}

// Material 物料
type Material struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:32"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	Unit      string    `json:"unit" gorm:"size:20"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Material) TableName() string {
	return "supply_materials"
}

// Equipment 设备
type Equipment struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:32"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	Unit      string    `json:"unit" gorm:"size:20"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Equipment) TableName() string {
	return "supply_equipment"
}

// Labor 劳务工种
type Labor struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:32"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	Unit      string    `json:"unit" gorm:"size:20"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Labor) TableName() string {
	return "supply_labor"
}

// ResourceRef 资源的 id/名称
type ResourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
