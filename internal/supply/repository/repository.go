package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// Repositories 供应流程仓库集合
type Repositories struct {
	db *gorm.DB

	Departments *ReferenceRepository[entity.Department]
	Sites       *ReferenceRepository[entity.Site]
	Users       *ReferenceRepository[entity.User]
	Projects    *ReferenceRepository[entity.Project]
	Activities  *ReferenceRepository[entity.Activity]
	Materials   *ReferenceRepository[entity.Material]
	Equipment   *ReferenceRepository[entity.Equipment]
	Labor       *ReferenceRepository[entity.Labor]

	Request     *RequestRepository
	Approval    *ApprovalRepository
	Dispatch    *DispatchRepository
	Delivery    *DeliveryRepository
	Attachment  *AttachmentRepository
	ActivityLog *ActivityLogRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:          db,
		Departments: NewReferenceRepository[entity.Department](db),
		Sites:       NewReferenceRepository[entity.Site](db),
		Users:       NewReferenceRepository[entity.User](db),
		Projects:    NewReferenceRepository[entity.Project](db),
		Activities:  NewReferenceRepository[entity.Activity](db),
		Materials:   NewReferenceRepository[entity.Material](db),
		Equipment:   NewReferenceRepository[entity.Equipment](db),
		Labor:       NewReferenceRepository[entity.Labor](db),
		Request:     NewRequestRepository(db),
		Approval:    NewApprovalRepository(db),
		Dispatch:    NewDispatchRepository(db),
		Delivery:    NewDeliveryRepository(db),
		Attachment:  NewAttachmentRepository(db),
		ActivityLog: NewActivityLogRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single transaction.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// Ping checks the database connection.
func (r *Repositories) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// duplicate maps unique constraint violations from postgres and sqlite.
func duplicate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return ErrDuplicate
	}
	return err
}

// generateCode 生成编码 {prefix}-{year}-{4位}
func generateCode(ctx context.Context, db *gorm.DB, model interface{}, column, prefix string) (string, error) {
	year := time.Now().Format("2006")
	head := fmt.Sprintf("%s-%s-", prefix, year)

	var maxCode string
	err := db.WithContext(ctx).
		Model(model).
		Select(fmt.Sprintf("COALESCE(MAX(%s), '')", column)).
		Where(column+" LIKE ?", head+"%").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	var seq int
	if maxCode != "" {
		fmt.Sscanf(maxCode, head+"%04d", &seq)
	}
	seq++
	return fmt.Sprintf("%s%04d", head, seq), nil
}

// Filter 列表查询条件
type Filter struct {
	Page     int
	PageSize int
	Fields   map[string]string
	From     *time.Time
	To       *time.Time
}

func (f Filter) offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

func (f Filter) limit() int {
	if f.PageSize <= 0 {
		return 20
	}
	return f.PageSize
}

// applyEquals adds `column = ?` for every allowed non-empty field.
func (f Filter) applyEquals(query *gorm.DB, allowed ...string) *gorm.DB {
	for _, col := range allowed {
		if v := f.Fields[col]; v != "" {
			query = query.Where(col+" = ?", v)
		}
	}
	return query
}

// applyRange limits a time column to [From, To).
func (f Filter) applyRange(query *gorm.DB, column string) *gorm.DB {
	if f.From != nil {
		query = query.Where(column+" >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where(column+" < ?", *f.To)
	}
	return query
}
