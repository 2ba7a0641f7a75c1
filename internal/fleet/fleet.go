// Package fleet owns the vehicle records of a run and advances them along
// their routes. It performs no business interpretation of arrivals; the
// engine decides what reaching a destination means.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb/planar"

	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

var (
	// ErrVehicleNotFound indicates a command referenced an unknown vehicle.
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrEmptyRoute indicates SetRoute was given a route without points.
	ErrEmptyRoute = errors.New("route has no points")
)

// Fleet owns every vehicle of a run. It is not safe for concurrent use; the
// engine serialises access at the tick boundary.
type Fleet struct {
	net     *roadnet.Index
	cfg     config.Config
	log     logging.Logger
	order   []string
	byID    map[string]*Vehicle
	starts  []roadnet.NodeID
	initPct float64
}

// Option customises Fleet construction.
type Option func(*Fleet)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Fleet) {
		f.log = logging.OrNoop(l)
	}
}

// WithStartNodes pins the initial node of the first len(nodes) vehicles.
// Remaining vehicles are placed randomly.
func WithStartNodes(nodes ...roadnet.NodeID) Option {
	return func(f *Fleet) {
		f.starts = append([]roadnet.NodeID(nil), nodes...)
	}
}

// WithInitialCharge sets the starting state of charge of every vehicle.
func WithInitialCharge(pct float64) Option {
	return func(f *Fleet) {
		f.initPct = pct
	}
}

// New places cfg.VehicleCount vehicles at random distinct nodes of net with
// a full battery.
func New(cfg config.Config, net *roadnet.Index, rng *rand.Rand, opts ...Option) (*Fleet, error) {
	if net == nil {
		return nil, errors.New("fleet: nil road network")
	}
	f := &Fleet{
		net:     net,
		cfg:     cfg,
		log:     logging.Noop(),
		byID:    make(map[string]*Vehicle, cfg.VehicleCount),
		initPct: 100,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	placed := net.RandomDistinctNodes(cfg.VehicleCount, rng)
	for i := 0; i < cfg.VehicleCount; i++ {
		node := placed[i]
		if i < len(f.starts) {
			node = f.starts[i]
		}
		pos, ok := net.NodePosition(node)
		if !ok {
			return nil, fmt.Errorf("fleet: start node %d: %w", node, roadnet.ErrNodeNotFound)
		}
		pct := math.Max(0, math.Min(100, f.initPct))
		v := &Vehicle{
			ID:    fmt.Sprintf("vehicle_%d", i+1),
			Pos:   pos,
			Node:  node,
			Speed: cfg.VehicleSpeed,
			Battery: Battery{
				CapacityKWh:         cfg.BatteryCapacityKWh,
				ChargeKWh:           cfg.BatteryCapacityKWh * pct / 100,
				ConsumptionKWhPerKm: cfg.ConsumptionKWhPerKm,
			},
			Status: Idle,
		}
		f.order = append(f.order, v.ID)
		f.byID[v.ID] = v
	}
	return f, nil
}

// Len returns the number of vehicles.
func (f *Fleet) Len() int { return len(f.order) }

// All returns a copy of every vehicle in fleet order.
func (f *Fleet) All() []Vehicle {
	out := make([]Vehicle, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.byID[id])
	}
	return out
}

// ByID returns a copy of the vehicle with the given id.
func (f *Fleet) ByID(id string) (Vehicle, bool) {
	v, ok := f.byID[id]
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}

// ByStatus returns copies of the vehicles in status s, in fleet order.
func (f *Fleet) ByStatus(s Status) []Vehicle {
	var out []Vehicle
	for _, id := range f.order {
		if v := f.byID[id]; v.Status == s {
			out = append(out, *v)
		}
	}
	return out
}

// Available returns idle, task-free vehicles whose charge is above the
// charging trigger threshold, in fleet order.
func (f *Fleet) Available() []Vehicle {
	var out []Vehicle
	for _, id := range f.order {
		v := f.byID[id]
		if v.Status == Idle && v.Task.IsNone() && v.Battery.Percent() > f.cfg.ChargingThresholdPct {
			out = append(out, *v)
		}
	}
	return out
}

// CountByStatus returns the number of vehicles per status.
func (f *Fleet) CountByStatus() map[Status]int {
	out := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		out[s] = 0
	}
	for _, id := range f.order {
		out[f.byID[id].Status]++
	}
	return out
}

// Arrived returns the ids of vehicles whose route is complete, in fleet order.
func (f *Fleet) Arrived() []string {
	var out []string
	for _, id := range f.order {
		if f.byID[id].HasReachedDestination() {
			out = append(out, id)
		}
	}
	return out
}

// HasReachedDestination reports whether the vehicle finished its route.
func (f *Fleet) HasReachedDestination(id string) bool {
	v, ok := f.byID[id]
	return ok && v.HasReachedDestination()
}

// Advance moves every routed, non-charging vehicle by Speed×dt metres along
// its route points and draws the matching energy. Idle vehicles accrue idle
// time instead.
func (f *Fleet) Advance(dt float64) {
	for _, id := range f.order {
		v := f.byID[id]
		switch v.Status {
		case Charging:
			continue
		case Idle:
			v.Stats.IdleSeconds += dt
		}
		if v.Route == nil || v.Route.Done() {
			continue
		}
		moved := f.move(v, v.Speed*dt)
		f.consume(v, moved)
	}
}

// move walks v along its remaining route points with a budget of step
// metres and returns the distance covered. A point within the arrival
// threshold of where the budget runs out counts as reached.
func (f *Fleet) move(v *Vehicle, step float64) float64 {
	r := v.Route
	var moved float64
	for r.Index < len(r.Points) {
		target := r.Points[r.Index]
		d := planar.Distance(v.Pos, target)
		if d <= step+f.cfg.ArrivalThreshold {
			v.Pos = target
			moved += d
			step = math.Max(0, step-d)
			r.Index++
			continue
		}
		if step <= 0 {
			break
		}
		frac := step / d
		v.Pos[0] += (target[0] - v.Pos[0]) * frac
		v.Pos[1] += (target[1] - v.Pos[1]) * frac
		moved += step
		break
	}
	if r.Done() {
		if dest, ok := r.Destination(); ok {
			v.Node = dest
		}
	}
	return moved
}

func (f *Fleet) consume(v *Vehicle, meters float64) {
	km := meters / 1000
	v.Stats.DistanceKm += km
	v.Battery.ChargeKWh = math.Max(0, v.Battery.ChargeKWh-km*v.Battery.ConsumptionKWhPerKm)
}

func (f *Fleet) get(id string) (*Vehicle, error) {
	v, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrVehicleNotFound)
	}
	return v, nil
}

// SetRoute starts v on route. The first point is the vehicle's own node, so
// the cursor starts at the second point; a one-point route is already done.
func (f *Fleet) SetRoute(id string, route roadnet.Route) error {
	v, err := f.get(id)
	if err != nil {
		return err
	}
	if len(route.Points) == 0 {
		return fmt.Errorf("vehicle %q: %w", id, ErrEmptyRoute)
	}
	v.Pos = route.Points[0]
	if len(route.Nodes) > 0 {
		v.Node = route.Nodes[0]
	}
	v.Route = &Route{Nodes: route.Nodes, Points: route.Points, Index: 1}
	if v.Route.Done() {
		if dest, ok := v.Route.Destination(); ok {
			v.Node = dest
		}
	}
	return nil
}

// ClearRoute drops the vehicle's route.
func (f *Fleet) ClearRoute(id string) error {
	v, err := f.get(id)
	if err != nil {
		return err
	}
	v.Route = nil
	return nil
}

// SetStatus changes the vehicle's status.
func (f *Fleet) SetStatus(id string, s Status) error {
	v, err := f.get(id)
	if err != nil {
		return err
	}
	if v.Status != s {
		f.log.Debug(context.Background(), "vehicle status changed",
			logging.String("vehicle_id", id),
			logging.String("from", v.Status.String()),
			logging.String("to", s.String()),
		)
	}
	v.Status = s
	return nil
}

// AssignTask sets the vehicle's current task.
func (f *Fleet) AssignTask(id string, t Task) error {
	v, err := f.get(id)
	if err != nil {
		return err
	}
	v.Task = t
	return nil
}

// ClearTask resets the vehicle's task to none.
func (f *Fleet) ClearTask(id string) error {
	return f.AssignTask(id, NoTask())
}

// ApplyCharge adds pct percent of capacity to the battery, clamped to
// [0, capacity], and returns the resulting state of charge.
func (f *Fleet) ApplyCharge(id string, pct float64) (float64, error) {
	v, err := f.get(id)
	if err != nil {
		return 0, err
	}
	b := &v.Battery
	b.ChargeKWh = math.Max(0, math.Min(b.CapacityKWh, b.ChargeKWh+b.CapacityKWh*pct/100))
	return b.Percent(), nil
}
