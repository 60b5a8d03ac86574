package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/conbuild/backoffice/internal/shared/cache"
	"github.com/conbuild/backoffice/internal/shared/storage"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"go.uber.org/zap"
)

// ErrInvalidInput 请求数据不合法
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// 列表缓存实体名
const (
	cacheRequests    = "requests"
	cacheApprovals   = "approvals"
	cacheAllocations = "allocations"
	cacheDispatches  = "dispatches"
	cacheDeliveries  = "deliveries"
)

// Notifier sends workflow notifications. *mailer.Mailer satisfies it.
type Notifier interface {
	Send(to []string, subject, htmlBody string) error
}

// ErrForeignDepartment 无权以其他部门身份操作
var ErrForeignDepartment = errors.New("acting for another department is not permitted")

// Actor 当前操作人
type Actor struct {
	UserID        string
	Name          string
	DepartmentID  string
	AnyDepartment bool // 可代其他部门审批、查看分配页
}

// ActingDepartment resolves the department the actor works as. An empty
// request means the actor's own department.
func (a Actor) ActingDepartment(requested string) (string, error) {
	if requested == "" || requested == a.DepartmentID {
		return a.DepartmentID, nil
	}
	if !a.AnyDepartment {
		return "", fmt.Errorf("%w: %s", ErrForeignDepartment, requested)
	}
	return requested, nil
}

// Deps 服务依赖的外部组件，均可为空
type Deps struct {
	Cache    cache.Cache
	Hub      *sse.Hub
	Notifier Notifier
	Store    storage.ObjectStore
	Logger   *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Services 服务集合
type Services struct {
	Reference   *ReferenceService
	Request     *RequestService
	Approval    *ApprovalService
	Allocation  *AllocationService
	Dispatch    *DispatchService
	Delivery    *DeliveryService
	ActivityLog *ActivityLogService
	Export      *ExportService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, deps Deps) *Services {
	deps = deps.withDefaults()
	return &Services{
		Reference:   NewReferenceService(repos, deps),
		Request:     NewRequestService(repos, deps),
		Approval:    NewApprovalService(repos, deps),
		Allocation:  NewAllocationService(repos, deps),
		Dispatch:    NewDispatchService(repos, deps),
		Delivery:    NewDeliveryService(repos, deps),
		ActivityLog: NewActivityLogService(repos),
		Export:      NewExportService(repos),
	}
}

// Page 分页结果
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// listKey builds a stable cache key from a filter.
func listKey(f repository.Filter) string {
	v := url.Values{}
	for k, val := range f.Fields {
		if val != "" {
			v.Set(k, val)
		}
	}
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("page_size", strconv.Itoa(f.PageSize))
	if f.From != nil {
		v.Set("from", f.From.UTC().Format("20060102T150405"))
	}
	if f.To != nil {
		v.Set("to", f.To.UTC().Format("20060102T150405"))
	}
	return v.Encode()
}

// cachedList serves a list from cache or loads and stores it. Cache failures
// are logged and fall through to the loader.
func cachedList[T any](ctx context.Context, deps Deps, entity string, f repository.Filter,
	load func(context.Context, repository.Filter) ([]T, int64, error)) (*Page[T], error) {

	page, err := readThrough(ctx, deps, entity, listKey(f), func() (Page[T], error) {
		items, total, err := load(ctx, f)
		if err != nil {
			return Page[T]{}, err
		}
		if items == nil {
			items = []T{}
		}
		return Page[T]{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// readThrough serves entity/key from cache or loads and stores it under the
// generation observed before loading. Cache failures fall through to load.
func readThrough[T any](ctx context.Context, deps Deps, entity, key string, load func() (T, error)) (T, error) {
	gen, err := deps.Cache.Generation(ctx, entity)
	if err != nil {
		deps.Logger.Warn("list cache generation failed", zap.String("entity", entity), zap.Error(err))
		return load()
	}

	var cached T
	found, err := deps.Cache.GetList(ctx, entity, gen, key, &cached)
	if err != nil {
		deps.Logger.Warn("list cache read failed", zap.String("entity", entity), zap.Error(err))
	}
	if found {
		return cached, nil
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if err := deps.Cache.SetList(ctx, entity, gen, key, v); err != nil {
		deps.Logger.Warn("list cache write failed", zap.String("entity", entity), zap.Error(err))
	}
	return v, nil
}

// invalidate drops cached lists after a committed write.
func invalidate(ctx context.Context, deps Deps, entities ...string) {
	if err := deps.Cache.InvalidateEntity(ctx, entities...); err != nil {
		deps.Logger.Warn("list cache invalidation failed", zap.Strings("entities", entities), zap.Error(err))
	}
}
