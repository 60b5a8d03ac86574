package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/conbuild/backoffice/internal/middleware"
	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Handlers 供应流程处理器集合
type Handlers struct {
	Reference   *ReferenceHandler
	Request     *RequestHandler
	Approval    *ApprovalHandler
	Allocation  *AllocationHandler
	Dispatch    *DispatchHandler
	Delivery    *DeliveryHandler
	ActivityLog *ActivityLogHandler
	SSE         *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svcs *service.Services, hub *sse.Hub) *Handlers {
	registerJSONFieldNames()
	return &Handlers{
		Reference:   NewReferenceHandler(svcs.Reference),
		Request:     NewRequestHandler(svcs.Request),
		Approval:    NewApprovalHandler(svcs.Approval),
		Allocation:  NewAllocationHandler(svcs.Allocation),
		Dispatch:    NewDispatchHandler(svcs.Dispatch, svcs.Export),
		Delivery:    NewDeliveryHandler(svcs.Delivery, svcs.Export),
		ActivityLog: NewActivityLogHandler(svcs.ActivityLog),
		SSE:         NewSSEHandler(hub),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	c.JSON(statusCode, Response{
		Success: false,
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// conflictErrors 业务冲突，对应 409
var conflictErrors = []error{
	repository.ErrDuplicate,
	workflow.ErrChainClosed,
	workflow.ErrDepartmentRevisit,
	workflow.ErrUnexpectedDepartment,
	workflow.ErrStepDecided,
	workflow.ErrEmptyChain,
	workflow.ErrInvalidTransition,
	workflow.ErrNotDeliverable,
	service.ErrNotNewestStep,
}

// badRequestErrors 输入错误，对应 400
var badRequestErrors = []error{
	service.ErrInvalidInput,
	workflow.ErrInvalidStatus,
	workflow.ErrDepartmentRequired,
	workflow.ErrInvalidCarrier,
}

// forbiddenErrors 越权操作，对应 403
var forbiddenErrors = []error{
	service.ErrForeignDepartment,
}

// RespondError maps a service error onto the response envelope. prefix is
// prepended to the message when non-empty.
func RespondError(c *gin.Context, err error, prefix string) {
	_ = c.Error(err)
	msg := err.Error()
	if prefix != "" {
		msg = prefix + msg
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, msg)
	case errors.Is(err, service.ErrStorageUnavailable):
		Error(c, 50300, msg)
	case matchAny(err, forbiddenErrors):
		Error(c, 40303, msg)
	case matchAny(err, conflictErrors):
		Conflict(c, msg)
	case matchAny(err, badRequestErrors):
		BadRequest(c, msg)
	default:
		InternalError(c, msg)
	}
}

func matchAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// BindError 参数绑定失败
func BindError(c *gin.Context, err error, prefix string) {
	BadRequest(c, prefix+"请求参数错误: "+describeBindError(err))
}

// describeBindError renders validator failures as "field: rule" pairs.
func describeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), rule))
	}
	return strings.Join(parts, "; ")
}

var registerOnce sync.Once

// registerJSONFieldNames makes validation errors report json field names.
func registerJSONFieldNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
}

func GetUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserID)
}

// GetActor 当前操作人
func GetActor(c *gin.Context) service.Actor {
	return service.Actor{
		UserID:        c.GetString(middleware.CtxUserID),
		Name:          c.GetString(middleware.CtxUserName),
		DepartmentID:  c.GetString(middleware.CtxDepartmentID),
		AnyDepartment: middleware.HasPermission(c, PermApprovalAnyDept),
	}
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// listFilter reads pagination, the given equality filters and the optional
// date_from/date_to/month range from the query string.
func listFilter(c *gin.Context, fields ...string) (repository.Filter, error) {
	page, pageSize := GetPagination(c)
	f := repository.Filter{Page: page, PageSize: pageSize, Fields: map[string]string{}}
	for _, name := range fields {
		if v := strings.TrimSpace(c.Query(name)); v != "" {
			f.Fields[name] = v
		}
	}
	from, to, err := service.DateRange(c.Query("date_from"), c.Query("date_to"), c.Query("month"))
	if err != nil {
		return f, err
	}
	f.From, f.To = from, to
	return f, nil
}
