package repository

import (
	"context"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"gorm.io/gorm"
)

// ReferenceRepository 基础资料仓库（部门、工地、用户、物料等）
type ReferenceRepository[T any] struct {
	db *gorm.DB
}

func NewReferenceRepository[T any](db *gorm.DB) *ReferenceRepository[T] {
	return &ReferenceRepository[T]{db: db}
}

// FindAll 按名称排序返回全部记录，where 为精确匹配条件
func (r *ReferenceRepository[T]) FindAll(ctx context.Context, where map[string]interface{}) ([]T, error) {
	var items []T
	query := r.db.WithContext(ctx).Model(new(T))
	if len(where) > 0 {
		query = query.Where(where)
	}
	err := query.Order("name ASC").Find(&items).Error
	return items, err
}

// FindByID 根据ID查找
func (r *ReferenceRepository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	var item T
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// FindByIDs 批量查找
func (r *ReferenceRepository[T]) FindByIDs(ctx context.Context, ids []string) ([]T, error) {
	var items []T
	if len(ids) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error
	return items, err
}

// Create 创建
func (r *ReferenceRepository[T]) Create(ctx context.Context, item *T) error {
	return duplicate(r.db.WithContext(ctx).Create(item).Error)
}

// NamesByIDs resolves id/name pairs for an id set in a single query.
func (r *ReferenceRepository[T]) NamesByIDs(ctx context.Context, ids []string) ([]entity.ResourceRef, error) {
	refs := []entity.ResourceRef{}
	if len(ids) == 0 {
		return refs, nil
	}
	err := r.db.WithContext(ctx).
		Model(new(T)).
		Select("id, name").
		Where("id IN ?", ids).
		Order("name ASC").
		Scan(&refs).Error
	return refs, err
}
