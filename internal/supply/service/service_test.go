package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conbuild/backoffice/internal/shared/cache"
	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/conbuild/backoffice/internal/supply/testutil"
	"gorm.io/gorm"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent chan sentMail
	err  error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan sentMail, 8)}
}

func (n *fakeNotifier) Send(to []string, subject, htmlBody string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent <- sentMail{to: to, subject: subject, body: htmlBody}
	return n.err
}

type testEnv struct {
	db       *gorm.DB
	repos    *repository.Repositories
	svcs     *Services
	notifier *fakeNotifier
	hub      *sse.Hub
}

// 部门：store(仓储) -> procurement(采购) -> finance(财务)
func setupServices(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.SeedDepartment(t, db, "dept-store", "Store", "store@test.com")
	testutil.SeedDepartment(t, db, "dept-proc", "Procurement", "proc@test.com")
	testutil.SeedDepartment(t, db, "dept-fin", "Finance", "")
	testutil.SeedSite(t, db, "site-a", "Site A")
	testutil.SeedSite(t, db, "site-b", "Site B")
	testutil.SeedActivity(t, db, "prj-1", "act-1", "Foundation pour")
	testutil.SeedMaterial(t, db, "mat-1", "Cement")
	testutil.SeedMaterial(t, db, "mat-2", "Rebar")

	repos := repository.NewRepositories(db)
	notifier := newFakeNotifier()
	hub := sse.NewHub(nil)
	svcs := NewServices(repos, Deps{
		Cache:    cache.NewMemoryCache(time.Minute),
		Hub:      hub,
		Notifier: notifier,
	})
	return &testEnv{db: db, repos: repos, svcs: svcs, notifier: notifier, hub: hub}
}

func actorOf(dept string) Actor {
	return Actor{UserID: "user-" + dept, Name: "User " + dept, DepartmentID: dept}
}

func (e *testEnv) createRequest(t *testing.T) *entity.Request {
	t.Helper()
	r, err := e.svcs.Request.Create(context.Background(), CreateRequestReq{
		ActivityID:  "act-1",
		SiteID:      "site-a",
		MaterialIDs: []string{"mat-1", "mat-2"},
		Quantity:    20,
	}, actorOf("dept-store"))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

func (e *testEnv) approve(t *testing.T, requestID, dept, next string, final bool) *entity.Approval {
	t.Helper()
	a, err := e.svcs.Approval.Create(context.Background(), CreateApprovalReq{
		RequestID:        requestID,
		DepartmentID:     dept,
		Status:           workflow.StatusApproved,
		NextDepartmentID: next,
		FinalDepartment:  final,
	}, actorOf(dept))
	if err != nil {
		t.Fatalf("approve %s: %v", dept, err)
	}
	return a
}

// deliverableChain builds store -> proc(final) and returns the final step.
func (e *testEnv) deliverableChain(t *testing.T) (*entity.Request, *entity.Approval) {
	t.Helper()
	r := e.createRequest(t)
	e.approve(t, r.ID, "dept-store", "dept-proc", false)
	final := e.approve(t, r.ID, "dept-proc", "", true)
	return r, final
}

func TestRequestCreateValidation(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	_, err := env.svcs.Request.Create(ctx, CreateRequestReq{ActivityID: "act-1", SiteID: "site-a"}, actorOf("dept-store"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput without resources, got %v", err)
	}

	_, err = env.svcs.Request.Create(ctx, CreateRequestReq{
		ActivityID: "act-1", SiteID: "site-a", MaterialIDs: []string{"mat-1"},
	}, Actor{UserID: "u"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput without department, got %v", err)
	}

	_, err = env.svcs.Request.Create(ctx, CreateRequestReq{
		ActivityID: "act-missing", SiteID: "site-a", MaterialIDs: []string{"mat-1"},
	}, actorOf("dept-store"))
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown activity, got %v", err)
	}

	r := env.createRequest(t)
	if r.Status != workflow.RequestPending {
		t.Errorf("Expected Pending, got %s", r.Status)
	}
	if r.DepartmentID != "dept-store" {
		t.Errorf("Expected department from actor, got %s", r.DepartmentID)
	}
}

func TestRequestStatusIsMonotonic(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	r := env.createRequest(t)

	got, err := env.svcs.Request.UpdateStatus(ctx, r.ID, UpdateStatusReq{Status: workflow.RequestInProgress}, actorOf("dept-store"))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got.Status != workflow.RequestInProgress {
		t.Errorf("Expected In Progress, got %s", got.Status)
	}

	_, err = env.svcs.Request.UpdateStatus(ctx, r.ID, UpdateStatusReq{Status: workflow.RequestPending}, actorOf("dept-store"))
	if !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition moving back, got %v", err)
	}

	_, err = env.svcs.Request.UpdateStatus(ctx, r.ID, UpdateStatusReq{Status: "Archived"}, actorOf("dept-store"))
	if !errors.Is(err, workflow.ErrInvalidStatus) {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}
}

func TestRequestListIsCachedAndInvalidated(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	f := repository.Filter{Page: 1, PageSize: 20, Fields: map[string]string{"department_id": "dept-store"}}

	env.createRequest(t)
	page, err := env.svcs.Request.List(ctx, f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("Expected 1 request, got %d", page.Total)
	}

	env.createRequest(t)
	page, err = env.svcs.Request.List(ctx, f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Expected cache to be invalidated after create, got total %d", page.Total)
	}
}

func TestActivityLogRecordsWorkflow(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	r := env.createRequest(t)
	env.approve(t, r.ID, "dept-store", "", false)

	logs, err := env.svcs.ActivityLog.List(ctx, entity.LogEntityRequest, r.ID, 1, 20)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	// create + Pending -> In Progress
	if logs.Total != 2 {
		t.Errorf("Expected 2 request log entries, got %d", logs.Total)
	}

	if _, err := env.svcs.ActivityLog.List(ctx, "unknown", r.ID, 1, 20); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for unknown entity type, got %v", err)
	}
}

func TestDateRange(t *testing.T) {
	from, to, err := DateRange("2024-03-01", "2024-03-10", "")
	if err != nil {
		t.Fatalf("DateRange: %v", err)
	}
	if from.Format("2006-01-02") != "2024-03-01" {
		t.Errorf("Expected from 2024-03-01, got %v", from)
	}
	// date_to is inclusive, so the exclusive bound is the next day
	if to.Format("2006-01-02") != "2024-03-11" {
		t.Errorf("Expected to 2024-03-11, got %v", to)
	}

	from, to, err = DateRange("", "", "2024-02")
	if err != nil {
		t.Fatalf("DateRange month: %v", err)
	}
	if from.Format("2006-01-02") != "2024-02-01" || to.Format("2006-01-02") != "2024-03-01" {
		t.Errorf("Expected [2024-02-01, 2024-03-01), got [%v, %v)", from, to)
	}

	if _, _, err := DateRange("not-a-date", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for bad date, got %v", err)
	}

	from, to, err = DateRange("", "", "")
	if err != nil || from != nil || to != nil {
		t.Errorf("Expected empty range, got %v %v %v", from, to, err)
	}
}

func waitMail(t *testing.T, n *fakeNotifier) sentMail {
	t.Helper()
	select {
	case m := <-n.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a notification to be sent")
	}
	return sentMail{}
}

func TestReadThroughDropsLoadRacingAWrite(t *testing.T) {
	deps := Deps{Cache: cache.NewMemoryCache(time.Minute)}.withDefaults()
	ctx := context.Background()
	data := []string{"old"}
	load := func() ([]string, error) { return append([]string(nil), data...), nil }

	// a writer commits and invalidates while this load is in flight
	racing := func() ([]string, error) {
		snapshot := append([]string(nil), data...)
		data = append(data, "new")
		invalidate(ctx, deps, "items")
		return snapshot, nil
	}
	got, err := readThrough(ctx, deps, "items", "all", racing)
	if err != nil || len(got) != 1 {
		t.Fatalf("Expected the in-flight snapshot, got %v %v", got, err)
	}

	got, err = readThrough(ctx, deps, "items", "all", load)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected the stale load to be discarded, got %v", got)
	}

	data = append(data, "not-invalidated")
	got, _ = readThrough(ctx, deps, "items", "all", load)
	if len(got) != 2 {
		t.Errorf("Expected the fresh page to be served from cache, got %v", got)
	}
}
