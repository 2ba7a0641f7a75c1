package orders

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

// Status is the closed set of order lifecycle states.
type Status int

const (
	Pending Status = iota
	Assigned
	PickedUp
	Completed
	Cancelled
)

// Statuses lists every Status in declaration order.
var Statuses = []Status{Pending, Assigned, PickedUp, Completed, Cancelled}

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Assigned:
		return "assigned"
	case PickedUp:
		return "picked_up"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == Completed || s == Cancelled }

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == Assigned || to == Cancelled
	case Assigned:
		return to == PickedUp
	case PickedUp:
		return to == Completed
	default:
		return false
	}
}

// Order is one ride request. Timestamps are simulated seconds and stay nil
// until the corresponding transition happens.
type Order struct {
	ID         string
	Pickup     roadnet.NodeID
	Dropoff    roadnet.NodeID
	PickupPos  orb.Point
	DropoffPos orb.Point

	CreatedAt   float64
	AssignedAt  *float64
	PickedUpAt  *float64
	CompletedAt *float64
	CancelledAt *float64

	Status    Status
	VehicleID string

	// DistanceM is the estimated pickup-to-dropoff route length.
	DistanceM  float64
	Surge      float64
	BasePrice  float64
	FinalPrice float64
}

// WaitSeconds returns the time from creation to pickup, if picked up.
func (o Order) WaitSeconds() (float64, bool) {
	if o.PickedUpAt == nil {
		return 0, false
	}
	return *o.PickedUpAt - o.CreatedAt, true
}

func stamp(t float64) *float64 { return &t }
