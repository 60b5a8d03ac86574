package repository

import (
	"context"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"gorm.io/gorm"
)

// ApprovalRepository 审批节点仓库
type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// FindByRequest 审批历史，按 step_order 升序
func (r *ApprovalRepository) FindByRequest(ctx context.Context, requestID string) ([]entity.Approval, error) {
	var items []entity.Approval
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("step_order ASC").
		Find(&items).Error
	return items, err
}

// FindByRequestIDs 批量查询多个需求单的审批节点
func (r *ApprovalRepository) FindByRequestIDs(ctx context.Context, requestIDs []string) ([]entity.Approval, error) {
	var items []entity.Approval
	if len(requestIDs) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Where("request_id IN ?", requestIDs).
		Order("request_id ASC, step_order ASC").
		Find(&items).Error
	return items, err
}

// FindAll 查询审批节点列表
func (r *ApprovalRepository) FindAll(ctx context.Context, f Filter) ([]entity.Approval, int64, error) {
	var items []entity.Approval
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Approval{})
	query = f.applyEquals(query, "request_id", "department_id", "status")

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

// FindDeliverable 已由最终部门批准的审批节点
func (r *ApprovalRepository) FindDeliverable(ctx context.Context) ([]entity.Approval, error) {
	var items []entity.Approval
	err := r.db.WithContext(ctx).
		Where("final_department = ? AND status = ?", true, workflow.StatusApproved).
		Order("approved_at DESC").
		Find(&items).Error
	return items, err
}

// FindByID 根据ID查找审批节点
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*entity.Approval, error) {
	var a entity.Approval
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// Create 创建审批节点；(request_id, step_order) 或 (request_id, department_id) 重复时返回 ErrDuplicate
func (r *ApprovalRepository) Create(ctx context.Context, a *entity.Approval) error {
	return duplicate(r.db.WithContext(ctx).Create(a).Error)
}

// Update 更新审批节点
func (r *ApprovalRepository) Update(ctx context.Context, a *entity.Approval) error {
	return r.db.WithContext(ctx).Save(a).Error
}
