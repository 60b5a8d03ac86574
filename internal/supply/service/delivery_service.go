package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/google/uuid"
)

// ErrStorageUnavailable 未配置对象存储
var ErrStorageUnavailable = errors.New("attachment storage is not configured")

// DeliveryService 到货签收服务
type DeliveryService struct {
	repos *repository.Repositories
	deps  Deps
}

func NewDeliveryService(repos *repository.Repositories, deps Deps) *DeliveryService {
	return &DeliveryService{repos: repos, deps: deps.withDefaults()}
}

// CreateDeliveryReq 创建签收记录
type CreateDeliveryReq struct {
	ApprovalID       string    `json:"approval_id" binding:"required"`
	ReceivedQuantity int       `json:"recieved_quantity" binding:"required,min=1"`
	DeliveredBy      string    `json:"delivered_by" binding:"required,max=64"`
	ReceivedBy       string    `json:"recieved_by" binding:"required,max=64"`
	DeliveryDate     time.Time `json:"delivery_date" binding:"required"`
	SiteID           string    `json:"site_id" binding:"required"`
	Remarks          string    `json:"remarks" binding:"max=500"`
	Status           string    `json:"status" binding:"required"`
}

// Create records receipt of goods for a deliverable approval. A Delivered
// receipt completes the request.
func (s *DeliveryService) Create(ctx context.Context, req CreateDeliveryReq, actor Actor) (*entity.RequestDelivery, error) {
	if !workflow.ValidDeliveryStatus(req.Status) {
		return nil, fmt.Errorf("delivery status %q: %w", req.Status, workflow.ErrInvalidStatus)
	}
	if req.ReceivedQuantity < 1 {
		return nil, invalidf("recieved_quantity must be at least 1")
	}

	d := &entity.RequestDelivery{
		ID:               uuid.New().String(),
		ApprovalID:       req.ApprovalID,
		ReceivedQuantity: req.ReceivedQuantity,
		DeliveredBy:      req.DeliveredBy,
		ReceivedBy:       req.ReceivedBy,
		DeliveryDate:     req.DeliveryDate,
		SiteID:           req.SiteID,
		Remarks:          req.Remarks,
		Status:           req.Status,
		CreatedBy:        actor.UserID,
	}

	var approval *entity.Approval
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		approval, err = deliverableApproval(ctx, tx, req.ApprovalID)
		if err != nil {
			return err
		}
		if _, err := tx.Sites.FindByID(ctx, req.SiteID); err != nil {
			return fmt.Errorf("site %s: %w", req.SiteID, err)
		}

		code, err := tx.Delivery.GenerateCode(ctx)
		if err != nil {
			return fmt.Errorf("generate delivery ref: %w", err)
		}
		d.RefNumber = code
		if err := tx.Delivery.Create(ctx, d); err != nil {
			return fmt.Errorf("create request delivery: %w", err)
		}
		if err := tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityDelivery,
			EntityID:     d.ID,
			EntityCode:   d.RefNumber,
			Action:       "create",
			ToStatus:     d.Status,
			Content:      fmt.Sprintf("签收 %d，%s 交付，%s 接收", d.ReceivedQuantity, d.DeliveredBy, d.ReceivedBy),
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		}); err != nil {
			return err
		}
		return completeOnDelivered(ctx, tx, d, approval, actor)
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, d, approval.RequestID, "created")
	return d, nil
}

// UpdateDeliveryReq 修改签收记录；字段为空表示不修改
type UpdateDeliveryReq struct {
	ReceivedQuantity *int       `json:"recieved_quantity" binding:"omitempty,min=1"`
	DeliveredBy      *string    `json:"delivered_by" binding:"omitempty,min=1,max=64"`
	ReceivedBy       *string    `json:"recieved_by" binding:"omitempty,min=1,max=64"`
	DeliveryDate     *time.Time `json:"delivery_date"`
	SiteID           *string    `json:"site_id"`
	Remarks          *string    `json:"remarks" binding:"omitempty,max=500"`
	Status           *string    `json:"status"`
}

// Update edits a delivery in place.
func (s *DeliveryService) Update(ctx context.Context, id string, req UpdateDeliveryReq, actor Actor) (*entity.RequestDelivery, error) {
	var (
		d        *entity.RequestDelivery
		approval *entity.Approval
	)
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		d, err = tx.Delivery.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("request delivery %s: %w", id, err)
		}
		approval, err = tx.Approval.FindByID(ctx, d.ApprovalID)
		if err != nil {
			return fmt.Errorf("approval %s: %w", d.ApprovalID, err)
		}
		fromStatus := d.Status

		if req.Status != nil {
			if !workflow.ValidDeliveryStatus(*req.Status) {
				return fmt.Errorf("delivery status %q: %w", *req.Status, workflow.ErrInvalidStatus)
			}
			if !workflow.CanTransition(workflow.ValidDeliveryTransitions, d.Status, *req.Status) {
				return fmt.Errorf("delivery %s -> %s: %w", d.Status, *req.Status, workflow.ErrInvalidTransition)
			}
			d.Status = *req.Status
		}
		if req.SiteID != nil {
			if _, err := tx.Sites.FindByID(ctx, *req.SiteID); err != nil {
				return fmt.Errorf("site %s: %w", *req.SiteID, err)
			}
			d.SiteID = *req.SiteID
		}
		if req.ReceivedQuantity != nil {
			d.ReceivedQuantity = *req.ReceivedQuantity
		}
		if req.DeliveredBy != nil {
			d.DeliveredBy = *req.DeliveredBy
		}
		if req.ReceivedBy != nil {
			d.ReceivedBy = *req.ReceivedBy
		}
		if req.DeliveryDate != nil {
			d.DeliveryDate = *req.DeliveryDate
		}
		if req.Remarks != nil {
			d.Remarks = *req.Remarks
		}

		if err := tx.Delivery.Update(ctx, d); err != nil {
			return fmt.Errorf("update request delivery: %w", err)
		}
		action := "update"
		if fromStatus != d.Status {
			action = "status_change"
		}
		if err := tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityDelivery,
			EntityID:     d.ID,
			EntityCode:   d.RefNumber,
			Action:       action,
			FromStatus:   fromStatus,
			ToStatus:     d.Status,
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		}); err != nil {
			return err
		}
		return completeOnDelivered(ctx, tx, d, approval, actor)
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, d, approval.RequestID, "updated")
	return d, nil
}

// Get 签收详情
func (s *DeliveryService) Get(ctx context.Context, id string) (*entity.RequestDelivery, error) {
	d, err := s.repos.Delivery.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("request delivery %s: %w", id, err)
	}
	return d, nil
}

// List 签收列表
func (s *DeliveryService) List(ctx context.Context, f repository.Filter) (*Page[entity.RequestDelivery], error) {
	return cachedList(ctx, s.deps, cacheDeliveries, f, s.repos.Delivery.FindAll)
}

// Upload stores a proof-of-delivery file and records it against the delivery.
func (s *DeliveryService) Upload(ctx context.Context, deliveryID, fileName, contentType string, size int64, r io.Reader, actor Actor) (*entity.DeliveryAttachment, error) {
	if s.deps.Store == nil {
		return nil, ErrStorageUnavailable
	}
	d, err := s.repos.Delivery.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("request delivery %s: %w", deliveryID, err)
	}

	id := uuid.New().String()
	objectName := path.Join("deliveries", d.ID, id+filepath.Ext(fileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.deps.Store.Put(ctx, objectName, r, size, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	a := &entity.DeliveryAttachment{
		ID:          id,
		DeliveryID:  d.ID,
		FileName:    filepath.Base(fileName),
		ObjectName:  objectName,
		ContentType: contentType,
		Size:        size,
		UploadedBy:  actor.UserID,
	}
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Attachment.Create(ctx, a); err != nil {
			return fmt.Errorf("create attachment: %w", err)
		}
		return tx.ActivityLog.Log(ctx, repository.Entry{
			EntityType:   entity.LogEntityDelivery,
			EntityID:     d.ID,
			EntityCode:   d.RefNumber,
			Action:       "attach",
			Content:      a.FileName,
			OperatorID:   actor.UserID,
			OperatorName: actor.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Attachments 签收附件列表
func (s *DeliveryService) Attachments(ctx context.Context, deliveryID string) ([]entity.DeliveryAttachment, error) {
	if _, err := s.repos.Delivery.FindByID(ctx, deliveryID); err != nil {
		return nil, fmt.Errorf("request delivery %s: %w", deliveryID, err)
	}
	items, err := s.repos.Attachment.FindByDelivery(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	if items == nil {
		items = []entity.DeliveryAttachment{}
	}
	return items, nil
}

// Download opens an attachment. The caller closes the reader.
func (s *DeliveryService) Download(ctx context.Context, deliveryID, attachmentID string) (*entity.DeliveryAttachment, io.ReadCloser, error) {
	if s.deps.Store == nil {
		return nil, nil, ErrStorageUnavailable
	}
	a, err := s.repos.Attachment.FindByID(ctx, deliveryID, attachmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("attachment %s: %w", attachmentID, err)
	}
	rc, err := s.deps.Store.Get(ctx, a.ObjectName)
	if err != nil {
		return nil, nil, fmt.Errorf("open attachment: %w", err)
	}
	return a, rc, nil
}

func (s *DeliveryService) afterWrite(ctx context.Context, d *entity.RequestDelivery, requestID, action string) {
	invalidate(ctx, s.deps, cacheDeliveries, cacheRequests, cacheAllocations)
	s.deps.Hub.PublishWorkflowUpdate(sse.WorkflowUpdate{
		Entity:    "delivery",
		ID:        d.ID,
		RequestID: requestID,
		Action:    action,
	})
}

// completeOnDelivered closes the request once goods are received.
func completeOnDelivered(ctx context.Context, tx *repository.Repositories, d *entity.RequestDelivery, a *entity.Approval, actor Actor) error {
	if d.Status != workflow.DeliveryDelivered {
		return nil
	}
	_, err := advanceRequest(ctx, tx, a.RequestID, workflow.RequestCompleted, actor, "签收完成 "+d.RefNumber)
	return err
}
