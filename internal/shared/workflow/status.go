package workflow

import (
	"errors"
	"math"
	"time"
)

// Request status
const (
	RequestPending    = "Pending"
	RequestInProgress = "In Progress"
	RequestCompleted  = "Completed"
	RequestRejected   = "Rejected"
)

// Dispatch status
const (
	DispatchPending   = "Pending"
	DispatchInTransit = "In Transit"
	DispatchDelivered = "Delivered"
	DispatchCancelled = "Cancelled"
)

// Delivery status
const (
	DeliveryPending   = "Pending"
	DeliveryDelivered = "Delivered"
	DeliveryCancelled = "Cancelled"
)

// Carriers
const (
	CarrierPlane = "Plane"
	CarrierTruck = "Truck"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotDeliverable    = errors.New("approval chain has not reached an approved final department")
	ErrInvalidCarrier    = errors.New("dispatched_by must be Plane or Truck")
)

var requestRank = map[string]int{
	RequestPending:    0,
	RequestInProgress: 1,
	RequestCompleted:  2,
	RequestRejected:   2,
}

// AdvanceRequest returns the status a request should hold after moving towards
// `to`. Requests never move backwards and a closed request stays closed.
func AdvanceRequest(from, to string) (string, error) {
	fr, ok := requestRank[from]
	if !ok {
		return from, ErrInvalidStatus
	}
	tr, ok := requestRank[to]
	if !ok {
		return from, ErrInvalidStatus
	}
	if from == to {
		return from, nil
	}
	if tr <= fr {
		return from, ErrInvalidTransition
	}
	return to, nil
}

// ValidDispatchTransitions 合法的发运状态流转
var ValidDispatchTransitions = map[string][]string{
	DispatchPending:   {DispatchInTransit, DispatchCancelled},
	DispatchInTransit: {DispatchDelivered, DispatchCancelled},
}

// ValidDeliveryTransitions 合法的收货状态流转
var ValidDeliveryTransitions = map[string][]string{
	DeliveryPending: {DeliveryDelivered, DeliveryCancelled},
}

// CanTransition checks a move in the given table. Staying on the same status is
// always allowed so that field edits do not trip the check.
func CanTransition(table map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidDispatchStatus reports whether s is a dispatch status.
func ValidDispatchStatus(s string) bool {
	switch s {
	case DispatchPending, DispatchInTransit, DispatchDelivered, DispatchCancelled:
		return true
	}
	return false
}

// ValidDeliveryStatus reports whether s is a delivery status.
func ValidDeliveryStatus(s string) bool {
	switch s {
	case DeliveryPending, DeliveryDelivered, DeliveryCancelled:
		return true
	}
	return false
}

// ValidCarrier reports whether s is a supported carrier.
func ValidCarrier(s string) bool {
	return s == CarrierPlane || s == CarrierTruck
}

const day = 24 * time.Hour

// DurationDays is ceil((eta - dispatched) / 1 day). Nil inputs yield 0.
func DurationDays(dispatched, eta *time.Time) int {
	if dispatched == nil || eta == nil {
		return 0
	}
	return int(math.Ceil(float64(eta.Sub(*dispatched)) / float64(day)))
}

// ArrivalFromDuration anchors a duration on the dispatch date. Without an
// anchor the duration has no effect and ok is false.
func ArrivalFromDuration(dispatched *time.Time, days int) (eta *time.Time, ok bool) {
	if dispatched == nil || dispatched.IsZero() {
		return nil, false
	}
	t := dispatched.Add(time.Duration(days) * day)
	return &t, true
}
