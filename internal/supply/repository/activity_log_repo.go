package repository

import (
	"context"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityLogRepository 操作日志仓库
type ActivityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// FindByEntity 查询某实体的操作日志
func (r *ActivityLogRepository) FindByEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	var items []entity.ActivityLog
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ActivityLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// Entry 一条待写入的操作日志
type Entry struct {
	EntityType   string
	EntityID     string
	EntityCode   string
	Action       string
	FromStatus   string
	ToStatus     string
	Content      string
	OperatorID   string
	OperatorName string
}

// Log writes an activity entry. Inside a transaction the entry commits or rolls
// back with the change it describes.
func (r *ActivityLogRepository) Log(ctx context.Context, e Entry) error {
	log := &entity.ActivityLog{
		ID:           uuid.New().String(),
		EntityType:   e.EntityType,
		EntityID:     e.EntityID,
		EntityCode:   e.EntityCode,
		Action:       e.Action,
		FromStatus:   e.FromStatus,
		ToStatus:     e.ToStatus,
		Content:      e.Content,
		OperatorID:   e.OperatorID,
		OperatorName: e.OperatorName,
	}
	return r.db.WithContext(ctx).Create(log).Error
}
