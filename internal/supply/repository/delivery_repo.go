package repository

import (
	"context"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"gorm.io/gorm"
)

// DeliveryRepository 到货签收仓库
type DeliveryRepository struct {
	db *gorm.DB
}

func NewDeliveryRepository(db *gorm.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// FindAll 查询签收列表，日期范围作用于 delivery_date
func (r *DeliveryRepository) FindAll(ctx context.Context, f Filter) ([]entity.RequestDelivery, int64, error) {
	var items []entity.RequestDelivery
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.RequestDelivery{})
	query = f.applyEquals(query, "approval_id", "site_id", "status")
	query = f.applyRange(query, "delivery_date")

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

// FindByID 根据ID查找签收记录
func (r *DeliveryRepository) FindByID(ctx context.Context, id string) (*entity.RequestDelivery, error) {
	var d entity.RequestDelivery
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// Create 创建签收记录
func (r *DeliveryRepository) Create(ctx context.Context, d *entity.RequestDelivery) error {
	return duplicate(r.db.WithContext(ctx).Create(d).Error)
}

// Update 更新签收记录
func (r *DeliveryRepository) Update(ctx context.Context, d *entity.RequestDelivery) error {
	return r.db.WithContext(ctx).Save(d).Error
}

// GenerateCode 生成签收单号 DLV-{year}-{4位}
func (r *DeliveryRepository) GenerateCode(ctx context.Context) (string, error) {
	return generateCode(ctx, r.db, &entity.RequestDelivery{}, "ref_number", "DLV")
}

// AttachmentRepository 签收附件仓库
type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// FindByDelivery 某签收记录的附件
func (r *AttachmentRepository) FindByDelivery(ctx context.Context, deliveryID string) ([]entity.DeliveryAttachment, error) {
	var items []entity.DeliveryAttachment
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// FindByID 根据ID查找附件
func (r *AttachmentRepository) FindByID(ctx context.Context, deliveryID, id string) (*entity.DeliveryAttachment, error) {
	var a entity.DeliveryAttachment
	err := r.db.WithContext(ctx).
		Where("id = ? AND delivery_id = ?", id, deliveryID).
		First(&a).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// Create 创建附件记录
func (r *AttachmentRepository) Create(ctx context.Context, a *entity.DeliveryAttachment) error {
	return r.db.WithContext(ctx).Create(a).Error
}
