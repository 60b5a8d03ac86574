package repository

import (
	"context"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestRepository 需求单仓库
type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// FindAll 查询需求单列表
func (r *RequestRepository) FindAll(ctx context.Context, f Filter) ([]entity.Request, int64, error) {
	var items []entity.Request
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Request{})
	query = f.applyEquals(query, "department_id", "status", "activity_id", "site_id", "user_id")
	query = f.applyRange(query, "created_at")

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset(f.offset()).
		Limit(f.limit()).
		Find(&items).Error

	return items, total, err
}

// FindForDepartment 查询与部门相关的需求单：本部门提交的，或审批链中经过/指定到该部门的
func (r *RequestRepository) FindForDepartment(ctx context.Context, departmentID string) ([]entity.Request, error) {
	var items []entity.Request

	involved := r.db.Model(&entity.Approval{}).
		Select("request_id").
		Where("department_id = ? OR next_department_id = ?", departmentID, departmentID)

	err := r.db.WithContext(ctx).
		Where("department_id = ?", departmentID).
		Or("id IN (?)", involved).
		Order("created_at DESC").
		Find(&items).Error
	return items, err
}

// FindByID 根据ID查找需求单
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*entity.Request, error) {
	var req entity.Request
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// FindByIDForUpdate 在事务内锁定需求单行，串行化同一需求单的审批节点追加。
// sqlite 无行锁，依赖单写连接。
func (r *RequestRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.Request, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	var req entity.Request
	if err := query.Where("id = ?", id).First(&req).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

// FindByIDs 批量查找需求单
func (r *RequestRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.Request, error) {
	var items []entity.Request
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error
	return items, err
}

// Create 创建需求单
func (r *RequestRepository) Create(ctx context.Context, req *entity.Request) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// UpdateStatus 更新需求单状态
func (r *RequestRepository) UpdateStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).
		Model(&entity.Request{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
