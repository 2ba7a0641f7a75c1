package engine

import (
	"context"

	"github.com/dudusoar/EvsSimulation-sub000/internal/fleet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/orders"
)

// assignOrders matches pending orders to available vehicles and sends each
// matched vehicle towards its pickup. It returns the ids of the vehicles it
// dispatched.
func (e *Engine) assignOrders(ctx context.Context, rep *TickReport) map[string]bool {
	avail := e.fleet.Available()
	if len(avail) == 0 {
		return nil
	}
	cands := make([]orders.Candidate, 0, len(avail))
	for _, v := range avail {
		cands = append(cands, orders.Candidate{VehicleID: v.ID, Node: v.Node, ChargePct: v.Battery.Percent()})
	}

	dispatched := make(map[string]bool)
	for _, m := range e.book.Match(cands) {
		o, _ := e.book.ByID(m.OrderID)
		v, _ := e.fleet.ByID(m.VehicleID)
		route, ok := e.net.PlanRoute(v.Node, o.Pickup)
		if !ok {
			continue
		}
		if err := e.book.Assign(o.ID, v.ID, e.now); err != nil {
			e.log.Warn(ctx, "order assignment rejected", logging.String("order_id", o.ID), logging.Err(err))
			continue
		}
		_ = e.fleet.SetRoute(v.ID, route)
		_ = e.fleet.AssignTask(v.ID, fleet.OrderTask(o.ID))
		_ = e.fleet.SetStatus(v.ID, fleet.ToPickup)
		dispatched[v.ID] = true
		rep.OrdersAssigned++
	}
	return dispatched
}

// handleArrivals interprets every finished route by the vehicle's status.
// Vehicles in dispatched were sent to a pickup this tick; their arrival is
// handled on the next tick so ToPickup is visible for at least one tick.
func (e *Engine) handleArrivals(ctx context.Context, rep *TickReport, dispatched map[string]bool) {
	for _, id := range e.fleet.Arrived() {
		v, ok := e.fleet.ByID(id)
		if !ok {
			continue
		}
		if v.Status == fleet.ToPickup && dispatched[id] {
			continue
		}
		switch v.Status {
		case fleet.ToPickup:
			e.arriveAtPickup(ctx, v, rep)
		case fleet.WithPassenger:
			e.arriveAtDropoff(ctx, v, rep)
		case fleet.ToCharging:
			e.arriveAtStation(ctx, v, rep)
		case fleet.Idle, fleet.Charging:
			_ = e.fleet.ClearRoute(id)
		}
	}
}

func (e *Engine) arriveAtPickup(ctx context.Context, v fleet.Vehicle, rep *TickReport) {
	oid, ok := v.Task.OrderID()
	if !ok {
		e.degrade(ctx, v.ID, "pickup arrival without order task", rep)
		return
	}
	if err := e.book.Pickup(oid, e.now); err != nil {
		e.degrade(ctx, v.ID, "pickup rejected: "+err.Error(), rep)
		return
	}
	rep.OrdersPickedUp++

	o, _ := e.book.ByID(oid)
	route, ok := e.net.PlanRoute(v.Node, o.Dropoff)
	if !ok {
		e.degrade(ctx, v.ID, "dropoff unreachable", rep)
		return
	}
	_ = e.fleet.SetRoute(v.ID, route)
	_ = e.fleet.SetStatus(v.ID, fleet.WithPassenger)
}

func (e *Engine) arriveAtDropoff(ctx context.Context, v fleet.Vehicle, rep *TickReport) {
	oid, ok := v.Task.OrderID()
	if !ok {
		e.degrade(ctx, v.ID, "dropoff arrival without order task", rep)
		return
	}
	done, err := e.book.Complete(oid, e.now)
	if err != nil {
		e.degrade(ctx, v.ID, "completion rejected: "+err.Error(), rep)
		return
	}
	_ = e.fleet.CreditOrder(v.ID, done.FinalPrice)
	_ = e.fleet.ClearRoute(v.ID)
	_ = e.fleet.ClearTask(v.ID)
	_ = e.fleet.SetStatus(v.ID, fleet.Idle)
	rep.OrdersCompleted++
	rep.Fares += done.FinalPrice
}

func (e *Engine) arriveAtStation(ctx context.Context, v fleet.Vehicle, rep *TickReport) {
	if _, ok := v.Task.StationID(); !ok {
		e.degrade(ctx, v.ID, "station arrival without charging task", rep)
		return
	}
	st, ok := e.stations.StationAt(v.Node)
	if !ok {
		e.degrade(ctx, v.ID, "no station at arrival node", rep)
		return
	}
	if !e.startCharging(ctx, v, st.ID, rep) {
		e.degrade(ctx, v.ID, "station full on arrival", rep)
	}
}

// startCharging admits v at stationID and marks it Charging.
func (e *Engine) startCharging(ctx context.Context, v fleet.Vehicle, stationID string, rep *TickReport) bool {
	admitted, err := e.stations.RequestCharging(ctx, v.ID, stationID, v.Battery.Percent())
	if err != nil {
		e.log.Warn(ctx, "charging request failed", logging.String("vehicle_id", v.ID), logging.Err(err))
		return false
	}
	if !admitted {
		return false
	}
	_ = e.fleet.ClearRoute(v.ID)
	_ = e.fleet.AssignTask(v.ID, fleet.ChargingTask(stationID))
	_ = e.fleet.SetStatus(v.ID, fleet.Charging)
	rep.ChargingStarted++
	return true
}

// degrade returns a vehicle to Idle with no task or route.
func (e *Engine) degrade(ctx context.Context, vehicleID, reason string, rep *TickReport) {
	e.log.Warn(ctx, "vehicle returned to idle",
		logging.String("vehicle_id", vehicleID),
		logging.String("reason", reason),
	)
	_ = e.fleet.ClearRoute(vehicleID)
	_ = e.fleet.ClearTask(vehicleID)
	_ = e.fleet.SetStatus(vehicleID, fleet.Idle)
	rep.Degraded++
}

// advanceCharging applies the charging network's per-occupant increments.
func (e *Engine) advanceCharging(ctx context.Context) {
	for _, inc := range e.stations.Advance(e.cfg.TimeStep) {
		if _, err := e.fleet.ApplyCharge(inc.VehicleID, inc.Pct); err != nil {
			e.log.Warn(ctx, "charge increment for unknown vehicle",
				logging.String("station_id", inc.StationID), logging.Err(err))
		}
	}
}

// NeedsCharging is the charging trigger: a vehicle without a passenger
// whose charge is at or below the low threshold, or an idle vehicle at or
// below the opportunistic threshold. The low threshold is checked first;
// both lead to the same dispatch.
func (e *Engine) NeedsCharging(v fleet.Vehicle) bool {
	switch v.Status {
	case fleet.WithPassenger, fleet.ToCharging, fleet.Charging:
		return false
	}
	pct := v.Battery.Percent()
	if pct <= e.cfg.ChargingThresholdPct {
		return true
	}
	return v.Status == fleet.Idle && pct <= e.cfg.OpportunisticThresholdPct
}

// evaluateChargingNeeds ends sessions that reached the stop level, then
// dispatches idle vehicles that need energy. Vehicles heading to a pickup
// are not diverted; their order can no longer return to pending.
func (e *Engine) evaluateChargingNeeds(ctx context.Context, rep *TickReport) {
	for _, v := range e.fleet.ByStatus(fleet.Charging) {
		if v.Battery.Percent() < e.cfg.ChargeStopPct {
			continue
		}
		r := e.stations.StopCharging(ctx, v.ID, v.Battery.Percent(), v.Battery.CapacityKWh)
		_ = e.fleet.AddChargingCost(v.ID, r.Cost)
		_ = e.fleet.ClearTask(v.ID)
		_ = e.fleet.SetStatus(v.ID, fleet.Idle)
		rep.ChargingFinished++
		rep.Costs += r.Cost
	}

	for _, v := range e.fleet.ByStatus(fleet.Idle) {
		if !v.Task.IsNone() || !e.NeedsCharging(v) {
			continue
		}
		st, ok := e.stations.FindStation(v.Node)
		if !ok {
			continue
		}
		if st.Node == v.Node {
			e.startCharging(ctx, v, st.ID, rep)
			continue
		}
		route, ok := e.net.PlanRoute(v.Node, st.Node)
		if !ok {
			continue
		}
		_ = e.fleet.SetRoute(v.ID, route)
		_ = e.fleet.AssignTask(v.ID, fleet.ChargingTask(st.ID))
		_ = e.fleet.SetStatus(v.ID, fleet.ToCharging)
	}
}
