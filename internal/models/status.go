package models

import "fmt"

// OrderStatus is the lifecycle status of an order as written by the stall side.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusCompleted OrderStatus = "completed"
	// StatusCancelled is absorbing and has no position on the progress scale.
	StatusCancelled OrderStatus = "cancelled"
)

// Steps is the linear progress scale, in order.
var Steps = []OrderStatus{StatusPending, StatusPreparing, StatusReady, StatusCompleted}

// ParseStatus validates a raw status value.
func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Index returns the position on the progress scale, or -1 for cancelled/unknown.
func (s OrderStatus) Index() int {
	for i, st := range Steps {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
