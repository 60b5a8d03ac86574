package service

import (
	"context"
	"fmt"

	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
)

// ActivityLogService 操作日志查询
type ActivityLogService struct {
	repo *repository.ActivityLogRepository
}

func NewActivityLogService(repos *repository.Repositories) *ActivityLogService {
	return &ActivityLogService{repo: repos.ActivityLog}
}

// List 某实体的操作日志，新的在前
func (s *ActivityLogService) List(ctx context.Context, entityType, entityID string, page, pageSize int) (*Page[entity.ActivityLog], error) {
	switch entityType {
	case entity.LogEntityRequest, entity.LogEntityApproval, entity.LogEntityDispatch, entity.LogEntityDelivery:
	default:
		return nil, invalidf("unknown entity_type %q", entityType)
	}
	if entityID == "" {
		return nil, invalidf("entity_id is required")
	}
	items, total, err := s.repo.FindByEntity(ctx, entityType, entityID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	if items == nil {
		items = []entity.ActivityLog{}
	}
	return &Page[entity.ActivityLog]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}
