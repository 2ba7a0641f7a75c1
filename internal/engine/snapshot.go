package engine

import (
	"github.com/paulmach/orb"

	"github.com/dudusoar/EvsSimulation-sub000/internal/fleet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/orders"
)

// VehicleView is the presentation view of one vehicle.
type VehicleView struct {
	ID           string    `json:"vehicle_id"`
	Pos          orb.Point `json:"position"`
	Geo          orb.Point `json:"lonlat"`
	BatteryPct   float64   `json:"battery_percentage"`
	Status       string    `json:"status"`
	HasPassenger bool      `json:"has_passenger"`

	// Route is the planned path in lon/lat while the vehicle is en route.
	Route orb.LineString `json:"route_lonlat,omitempty"`
}

// OrderView is the presentation view of a pending or active order.
type OrderView struct {
	ID         string    `json:"order_id"`
	PickupPos  orb.Point `json:"pickup_position"`
	DropoffPos orb.Point `json:"dropoff_position"`
	PickupGeo  orb.Point `json:"pickup_lonlat"`
	DropoffGeo orb.Point `json:"dropoff_lonlat"`
	Status     string    `json:"status"`
	VehicleID  string    `json:"assigned_vehicle_id,omitempty"`
}

// StationView is the presentation view of a charging station.
type StationView struct {
	ID         string    `json:"station_id"`
	Pos        orb.Point `json:"position"`
	Geo        orb.Point `json:"lonlat"`
	Occupied   int       `json:"occupied_slots"`
	TotalSlots int       `json:"total_slots"`
}

// Aggregates are the run-wide counters at a tick boundary.
type Aggregates struct {
	SimTime          float64        `json:"simulation_time"`
	Ticks            int            `json:"ticks"`
	VehiclesByStatus map[string]int `json:"vehicles_by_status"`
	OrdersCreated    int            `json:"orders_created"`
	OrdersCompleted  int            `json:"orders_completed"`
	OrdersCancelled  int            `json:"orders_cancelled"`
	OrdersPending    int            `json:"orders_pending"`
	OrdersActive     int            `json:"orders_active"`
	OrderRevenue     float64        `json:"order_revenue"`
	ChargingCost     float64        `json:"charging_cost"`
	AverageWaitSec   float64        `json:"average_wait_seconds"`
	ChargingOccupied int            `json:"charging_occupied_slots"`
	ChargingTotal    int            `json:"charging_total_slots"`
}

// Snapshot is an immutable view of the engine at a tick boundary.
type Snapshot struct {
	RunID    string        `json:"run_id"`
	SimTime  float64       `json:"simulation_time"`
	Vehicles []VehicleView `json:"vehicles"`
	Orders   []OrderView   `json:"orders"`
	Stations []StationView `json:"stations"`
	Stats    Aggregates    `json:"stats"`
}

// Snapshot captures the current state. Orders include pending and active
// ones only.
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{RunID: e.runID, SimTime: e.now}

	for _, v := range e.fleet.All() {
		view := VehicleView{
			ID:           v.ID,
			Pos:          v.Pos,
			Geo:          e.net.ToGeo(v.Pos),
			BatteryPct:   v.Battery.Percent(),
			Status:       v.Status.String(),
			HasPassenger: v.HasPassenger(),
		}
		if v.Route != nil && !v.Route.Done() {
			view.Route = e.net.RouteGeo(v.Route.Nodes)
		}
		s.Vehicles = append(s.Vehicles, view)
	}

	open := append(e.book.Pending(), e.book.Active()...)
	for _, o := range open {
		s.Orders = append(s.Orders, OrderView{
			ID:         o.ID,
			PickupPos:  o.PickupPos,
			DropoffPos: o.DropoffPos,
			PickupGeo:  e.net.ToGeo(o.PickupPos),
			DropoffGeo: e.net.ToGeo(o.DropoffPos),
			Status:     o.Status.String(),
			VehicleID:  o.VehicleID,
		})
	}

	for _, st := range e.stations.Stations() {
		s.Stations = append(s.Stations, StationView{
			ID:         st.ID,
			Pos:        st.Pos,
			Geo:        e.net.ToGeo(st.Pos),
			Occupied:   st.Occupied(),
			TotalSlots: st.TotalSlots,
		})
	}

	s.Stats = e.aggregates()
	return s
}

func (e *Engine) aggregates() Aggregates {
	byStatus := make(map[string]int, len(fleet.Statuses))
	for st, n := range e.fleet.CountByStatus() {
		byStatus[st.String()] = n
	}
	counts := e.book.CountByStatus()
	bs := e.book.Stats()
	cs := e.stations.Stats()

	var chargingCost float64
	for _, v := range e.fleet.All() {
		chargingCost += v.Stats.ChargingCost
	}

	return Aggregates{
		SimTime:          e.now,
		Ticks:            e.ticks,
		VehiclesByStatus: byStatus,
		OrdersCreated:    bs.Created,
		OrdersCompleted:  bs.Completed,
		OrdersCancelled:  bs.Cancelled,
		OrdersPending:    counts[orders.Pending],
		OrdersActive:     counts[orders.Assigned] + counts[orders.PickedUp],
		OrderRevenue:     bs.Revenue,
		ChargingCost:     chargingCost,
		AverageWaitSec:   bs.AverageWait(),
		ChargingOccupied: cs.OccupiedSlots,
		ChargingTotal:    cs.TotalSlots,
	}
}
