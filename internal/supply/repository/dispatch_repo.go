package repository

import (
	"context"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"gorm.io/gorm"
)

// DispatchRepository 发运单仓库
type DispatchRepository struct {
	db *gorm.DB
}

func NewDispatchRepository(db *gorm.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

// FindAll 查询发运单列表，日期范围作用于 dispatched_date
func (r *DispatchRepository) FindAll(ctx context.Context, f Filter) ([]entity.Dispatch, int64, error) {
	var items []entity.Dispatch
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Dispatch{})
	query = f.applyEquals(query, "approval_id", "status", "dispatched_by")
	query = f.applyRange(query, "dispatched_date")

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

// FindByID 根据ID查找发运单
func (r *DispatchRepository) FindByID(ctx context.Context, id string) (*entity.Dispatch, error) {
	var d entity.Dispatch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// Create 创建发运单
func (r *DispatchRepository) Create(ctx context.Context, d *entity.Dispatch) error {
	return duplicate(r.db.WithContext(ctx).Create(d).Error)
}

// Update 更新发运单
func (r *DispatchRepository) Update(ctx context.Context, d *entity.Dispatch) error {
	return r.db.WithContext(ctx).Save(d).Error
}

// GenerateCode 生成发运单号 DSP-{year}-{4位}
func (r *DispatchRepository) GenerateCode(ctx context.Context) (string, error) {
	return generateCode(ctx, r.db, &entity.Dispatch{}, "ref_number", "DSP")
}
