package fleet

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

// Status is the closed set of vehicle activity states.
type Status int

const (
	Idle Status = iota
	ToPickup
	WithPassenger
	ToCharging
	Charging
)

// Statuses lists every Status in declaration order.
var Statuses = []Status{Idle, ToPickup, WithPassenger, ToCharging, Charging}

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case ToPickup:
		return "to_pickup"
	case WithPassenger:
		return "with_passenger"
	case ToCharging:
		return "to_charging"
	case Charging:
		return "charging"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TaskKind discriminates Task.
type TaskKind int

const (
	TaskNone TaskKind = iota
	TaskOrder
	TaskCharging
)

// Task is what a vehicle is currently working on: nothing, an order, or a
// charging station. The zero value is the empty task.
type Task struct {
	kind TaskKind
	ref  string
}

// NoTask returns the empty task.
func NoTask() Task { return Task{} }

// OrderTask references an order by id.
func OrderTask(orderID string) Task { return Task{kind: TaskOrder, ref: orderID} }

// ChargingTask references a charging station by id.
func ChargingTask(stationID string) Task { return Task{kind: TaskCharging, ref: stationID} }

func (t Task) Kind() TaskKind { return t.kind }
func (t Task) IsNone() bool   { return t.kind == TaskNone }

// OrderID returns the referenced order id when the task is an order.
func (t Task) OrderID() (string, bool) {
	if t.kind != TaskOrder {
		return "", false
	}
	return t.ref, true
}

// StationID returns the referenced station id when the task is a charging task.
func (t Task) StationID() (string, bool) {
	if t.kind != TaskCharging {
		return "", false
	}
	return t.ref, true
}

func (t Task) String() string {
	switch t.kind {
	case TaskOrder:
		return "order:" + t.ref
	case TaskCharging:
		return "charging:" + t.ref
	default:
		return "none"
	}
}

// Battery is the energy state of a vehicle.
type Battery struct {
	CapacityKWh         float64
	ChargeKWh           float64
	ConsumptionKWhPerKm float64
}

// Percent returns the state of charge in [0, 100].
func (b Battery) Percent() float64 {
	if b.CapacityKWh <= 0 {
		return 0
	}
	return b.ChargeKWh / b.CapacityKWh * 100
}

// Route is the path a vehicle is following. Index is the next point to reach;
// Index == len(Points) means the destination has been reached.
type Route struct {
	Nodes  []roadnet.NodeID
	Points orb.LineString
	Index  int
}

// Destination returns the last node of the route.
func (r *Route) Destination() (roadnet.NodeID, bool) {
	if r == nil || len(r.Nodes) == 0 {
		return 0, false
	}
	return r.Nodes[len(r.Nodes)-1], true
}

// Done reports whether every point of the route has been reached.
func (r *Route) Done() bool {
	return r != nil && r.Index >= len(r.Points)
}

// Stats are the lifetime counters of a vehicle.
type Stats struct {
	DistanceKm      float64
	OrdersCompleted int
	Revenue         float64
	ChargingCost    float64
	IdleSeconds     float64
}

// Vehicle is one fleet member. Values handed out by Fleet are copies; the
// Route pointer is shared and must be treated as read-only.
type Vehicle struct {
	ID string
	// Pos is the continuous position in projected metres.
	Pos orb.Point
	// Node is the last road node the vehicle stood at.
	Node    roadnet.NodeID
	Speed   float64 // m/s
	Battery Battery
	Status  Status
	Task    Task
	Route   *Route
	Stats   Stats
}

// HasPassenger reports whether the vehicle is carrying a rider.
func (v Vehicle) HasPassenger() bool { return v.Status == WithPassenger }

// HasReachedDestination reports whether the vehicle finished its route.
func (v Vehicle) HasReachedDestination() bool { return v.Route.Done() }
