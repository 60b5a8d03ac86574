package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestDurationRoundTrip(t *testing.T) {
	d := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	eta := d.Add(5 * 24 * time.Hour)

	if got := DurationDays(&d, &eta); got != 5 {
		t.Fatalf("expected duration 5, got %d", got)
	}

	newEta, ok := ArrivalFromDuration(&d, 3)
	if !ok {
		t.Fatal("expected anchor to apply")
	}
	if !newEta.Equal(d.Add(3 * 24 * time.Hour)) {
		t.Errorf("expected D+3d, got %v", newEta)
	}
	if got := DurationDays(&d, newEta); got != 3 {
		t.Errorf("expected duration 3 after edit, got %d", got)
	}
}

func TestDurationCeilsPartialDays(t *testing.T) {
	d := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	eta := d.Add(49 * time.Hour)
	if got := DurationDays(&d, &eta); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := DurationDays(nil, &eta); got != 0 {
		t.Errorf("expected 0 without anchor, got %d", got)
	}
}

func TestArrivalWithoutAnchor(t *testing.T) {
	if eta, ok := ArrivalFromDuration(nil, 4); ok || eta != nil {
		t.Errorf("expected no effect, got %v %v", eta, ok)
	}
	var zero time.Time
	if _, ok := ArrivalFromDuration(&zero, 4); ok {
		t.Error("zero anchor should be treated as unset")
	}
}

func TestAdvanceRequest(t *testing.T) {
	if s, err := AdvanceRequest(RequestPending, RequestInProgress); err != nil || s != RequestInProgress {
		t.Errorf("pending -> in progress: %s %v", s, err)
	}
	if s, err := AdvanceRequest(RequestInProgress, RequestInProgress); err != nil || s != RequestInProgress {
		t.Errorf("same status should be a no-op: %s %v", s, err)
	}
	if _, err := AdvanceRequest(RequestCompleted, RequestInProgress); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := AdvanceRequest(RequestRejected, RequestCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("closed request must stay closed, got %v", err)
	}
	if _, err := AdvanceRequest(RequestPending, "Done"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestDispatchTransitions(t *testing.T) {
	ok := [][2]string{
		{DispatchPending, DispatchInTransit},
		{DispatchInTransit, DispatchDelivered},
		{DispatchPending, DispatchCancelled},
		{DispatchDelivered, DispatchDelivered},
	}
	for _, tr := range ok {
		if !CanTransition(ValidDispatchTransitions, tr[0], tr[1]) {
			t.Errorf("%s -> %s should be allowed", tr[0], tr[1])
		}
	}
	bad := [][2]string{
		{DispatchPending, DispatchDelivered},
		{DispatchDelivered, DispatchPending},
		{DispatchCancelled, DispatchInTransit},
	}
	for _, tr := range bad {
		if CanTransition(ValidDispatchTransitions, tr[0], tr[1]) {
			t.Errorf("%s -> %s should be rejected", tr[0], tr[1])
		}
	}
	if CanTransition(ValidDeliveryTransitions, DeliveryDelivered, DeliveryPending) {
		t.Error("delivered delivery must not reopen")
	}
}
