package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/conbuild/backoffice/internal/shared/workflow"
	"github.com/conbuild/backoffice/internal/supply/repository"
)

func dispatchReq(approvalID string) CreateDispatchReq {
	return CreateDispatchReq{
		ApprovalID:      approvalID,
		DispatchedBy:    workflow.CarrierTruck,
		DepartureSiteID: "site-b",
		ArrivalSiteID:   "site-a",
		DriverName:      "Ali",
		VehicleNumber:   "TRK-42",
	}
}

func TestDispatchRequiresDeliverableApproval(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()

	r := env.createRequest(t)
	first := env.approve(t, r.ID, "dept-store", "dept-proc", false)
	if _, err := env.svcs.Dispatch.Create(ctx, dispatchReq(first.ID), actorOf("dept-proc")); !errors.Is(err, workflow.ErrNotDeliverable) {
		t.Errorf("Expected ErrNotDeliverable for an open chain, got %v", err)
	}

	final := env.approve(t, r.ID, "dept-proc", "", true)
	// an earlier step of a deliverable chain still does not qualify
	if _, err := env.svcs.Dispatch.Create(ctx, dispatchReq(first.ID), actorOf("dept-proc")); !errors.Is(err, workflow.ErrNotDeliverable) {
		t.Errorf("Expected ErrNotDeliverable for a non-final step, got %v", err)
	}

	d, err := env.svcs.Dispatch.Create(ctx, dispatchReq(final.ID), actorOf("dept-proc"))
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}
	if d.Status != workflow.DispatchPending {
		t.Errorf("Expected default Pending status, got %s", d.Status)
	}
	if !strings.HasPrefix(d.RefNumber, "DSP-") {
		t.Errorf("Expected DSP ref number, got %s", d.RefNumber)
	}

	if _, err := env.svcs.Dispatch.Create(ctx, dispatchReq("missing"), actorOf("dept-proc")); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDispatchValidation(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, final := env.deliverableChain(t)

	req := dispatchReq(final.ID)
	req.DispatchedBy = "Ship"
	if _, err := env.svcs.Dispatch.Create(ctx, req, actorOf("dept-proc")); !errors.Is(err, workflow.ErrInvalidCarrier) {
		t.Errorf("Expected ErrInvalidCarrier, got %v", err)
	}

	req = dispatchReq(final.ID)
	req.Status = "Lost"
	if _, err := env.svcs.Dispatch.Create(ctx, req, actorOf("dept-proc")); !errors.Is(err, workflow.ErrInvalidStatus) {
		t.Errorf("Expected ErrInvalidStatus, got %v", err)
	}

	req = dispatchReq(final.ID)
	sent := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	early := sent.Add(-time.Hour)
	req.DispatchedDate, req.EstArrivalTime = &sent, &early
	if _, err := env.svcs.Dispatch.Create(ctx, req, actorOf("dept-proc")); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for arrival before dispatch, got %v", err)
	}

	req = dispatchReq(final.ID)
	req.ArrivalSiteID = "site-missing"
	if _, err := env.svcs.Dispatch.Create(ctx, req, actorOf("dept-proc")); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown site, got %v", err)
	}
}

func TestDispatchDurationDays(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, final := env.deliverableChain(t)

	sent := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	five := 5
	req := dispatchReq(final.ID)
	req.DispatchedDate = &sent
	req.DurationDays = &five

	d, err := env.svcs.Dispatch.Create(ctx, req, actorOf("dept-proc"))
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}
	if d.DurationDays != 5 || !d.EstArrivalTime.Equal(sent.AddDate(0, 0, 5)) {
		t.Errorf("Expected D+5, got %v (%d days)", d.EstArrivalTime, d.DurationDays)
	}

	three := 3
	d, err = env.svcs.Dispatch.Update(ctx, d.ID, UpdateDispatchReq{DurationDays: &three}, actorOf("dept-proc"))
	if err != nil {
		t.Fatalf("update dispatch: %v", err)
	}
	if d.DurationDays != 3 || !d.EstArrivalTime.Equal(sent.AddDate(0, 0, 3)) {
		t.Errorf("Expected D+3, got %v (%d days)", d.EstArrivalTime, d.DurationDays)
	}

	got, err := env.svcs.Dispatch.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get dispatch: %v", err)
	}
	if got.DurationDays != 3 {
		t.Errorf("Expected stored duration 3, got %d", got.DurationDays)
	}

	// without a dispatch date the duration has no anchor
	req = dispatchReq(final.ID)
	req.DurationDays = &five
	d, err = env.svcs.Dispatch.Create(ctx, req, actorOf("dept-proc"))
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}
	if d.EstArrivalTime != nil || d.DurationDays != 0 {
		t.Errorf("Expected no arrival without dispatch date, got %v", d.EstArrivalTime)
	}
}

func TestDispatchStatusTransitions(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	_, final := env.deliverableChain(t)

	d, err := env.svcs.Dispatch.Create(ctx, dispatchReq(final.ID), actorOf("dept-proc"))
	if err != nil {
		t.Fatalf("create dispatch: %v", err)
	}

	delivered := workflow.DispatchDelivered
	if _, err := env.svcs.Dispatch.Update(ctx, d.ID, UpdateDispatchReq{Status: &delivered}, actorOf("dept-proc")); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("Expected Pending -> Delivered to be rejected, got %v", err)
	}

	inTransit := workflow.DispatchInTransit
	if _, err := env.svcs.Dispatch.Update(ctx, d.ID, UpdateDispatchReq{Status: &inTransit}, actorOf("dept-proc")); err != nil {
		t.Fatalf("Pending -> In Transit: %v", err)
	}
	got, err := env.svcs.Dispatch.Update(ctx, d.ID, UpdateDispatchReq{Status: &delivered}, actorOf("dept-proc"))
	if err != nil {
		t.Fatalf("In Transit -> Delivered: %v", err)
	}
	if got.Status != workflow.DispatchDelivered {
		t.Errorf("Expected Delivered, got %s", got.Status)
	}

	page, err := env.svcs.Dispatch.List(ctx, repository.Filter{Page: 1, PageSize: 20,
		Fields: map[string]string{"status": workflow.DispatchDelivered}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Expected 1 delivered dispatch, got %d", page.Total)
	}
}
