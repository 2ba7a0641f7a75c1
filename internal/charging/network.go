// Package charging owns the charging stations of a run: placement, station
// scoring for vehicles that need energy, slot admission and release, and
// per-tick charging progress. It never mutates vehicle records; callers
// apply the reported increments.
package charging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

var (
	// ErrStationNotFound indicates a request referenced an unknown station.
	ErrStationNotFound = errors.New("station not found")
	// ErrAlreadyCharging indicates a vehicle already holds a slot elsewhere.
	ErrAlreadyCharging = errors.New("vehicle already charging at another station")
)

// Increment is the charge a vehicle gained during one Advance call.
type Increment struct {
	VehicleID string
	StationID string
	Pct       float64
}

// Receipt describes a finished charging session. The zero Receipt means the
// vehicle was not charging.
type Receipt struct {
	StationID string
	EnergyKWh float64
	Cost      float64
}

// Stats aggregates every station.
type Stats struct {
	EnergyKWh      float64
	Revenue        float64
	VehiclesServed int
	OccupiedSlots  int
	TotalSlots     int
}

// Utilization returns occupied / total slots across the network.
func (s Stats) Utilization() float64 {
	if s.TotalSlots == 0 {
		return 0
	}
	return float64(s.OccupiedSlots) / float64(s.TotalSlots)
}

// Network is the set of charging stations of a run.
type Network struct {
	cfg config.Config
	net *roadnet.Index
	log logging.Logger

	nodes    []roadnet.NodeID
	stations []*Station
	byID     map[string]*Station
	byNode   map[roadnet.NodeID]*Station
}

// Option customises Network construction.
type Option func(*Network)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(n *Network) {
		n.log = logging.OrNoop(l)
	}
}

// WithStationNodes places stations on the given nodes instead of using the
// spread heuristic.
func WithStationNodes(nodes ...roadnet.NodeID) Option {
	return func(n *Network) {
		n.nodes = append([]roadnet.NodeID(nil), nodes...)
	}
}

// New places cfg.StationCount stations on well-spread nodes of net, each
// with cfg.SlotsPerStation slots.
func New(cfg config.Config, net *roadnet.Index, rng *rand.Rand, opts ...Option) (*Network, error) {
	if net == nil {
		return nil, errors.New("charging: nil road network")
	}
	n := &Network{
		cfg:    cfg,
		net:    net,
		log:    logging.Noop(),
		byID:   make(map[string]*Station),
		byNode: make(map[roadnet.NodeID]*Station),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	if n.nodes == nil {
		n.nodes = net.SpreadNodes(cfg.StationCount, rng, cfg.SpreadSampleSize)
	}

	for i, node := range n.nodes {
		pos, ok := net.NodePosition(node)
		if !ok {
			return nil, fmt.Errorf("charging: station node %d: %w", node, roadnet.ErrNodeNotFound)
		}
		st := newStation(fmt.Sprintf("station_%d", i+1), node, pos, cfg.SlotsPerStation,
			cfg.ChargingRatePctPerSecond, cfg.ElectricityPrice)
		n.stations = append(n.stations, st)
		n.byID[st.id] = st
		if _, taken := n.byNode[node]; !taken {
			n.byNode[node] = st
		}
	}
	return n, nil
}

// Stations returns a copy of every station in placement order.
func (n *Network) Stations() []StationInfo {
	out := make([]StationInfo, 0, len(n.stations))
	for _, st := range n.stations {
		out = append(out, st.info())
	}
	return out
}

// Station returns a copy of the station with the given id.
func (n *Network) Station(id string) (StationInfo, bool) {
	st, ok := n.byID[id]
	if !ok {
		return StationInfo{}, false
	}
	return st.info(), true
}

// StationAt returns the station hosted at node, if any.
func (n *Network) StationAt(node roadnet.NodeID) (StationInfo, bool) {
	st, ok := n.byNode[node]
	if !ok {
		return StationInfo{}, false
	}
	return st.info(), true
}

// FindStation picks the station a vehicle at from should drive to. Among
// reachable stations with a free slot it minimises the travel metric plus
// utilization scaled by the utilization penalty. Equal scores go to the
// earlier station.
func (n *Network) FindStation(from roadnet.NodeID) (StationInfo, bool) {
	var (
		best      StationInfo
		bestScore = math.Inf(1)
		found     bool
	)
	for _, st := range n.stations {
		info := st.info()
		if info.Free() <= 0 {
			continue
		}
		travel := n.travel(from, info.Node)
		if math.IsInf(travel, 1) {
			continue
		}
		score := travel + info.Utilization()*n.cfg.UtilizationPenalty
		if score < bestScore {
			best, bestScore, found = info, score, true
		}
	}
	return best, found
}

func (n *Network) travel(from, to roadnet.NodeID) float64 {
	if n.cfg.StationMetric == config.MetricTime {
		return n.net.RouteTime(from, to)
	}
	return n.net.RouteDistance(from, to)
}

// ChargingAt returns the station currently holding vehicleID.
func (n *Network) ChargingAt(vehicleID string) (string, bool) {
	for _, st := range n.stations {
		if st.holds(vehicleID) {
			return st.id, true
		}
	}
	return "", false
}

// RequestCharging admits vehicleID into a slot at stationID. It reports
// false when the station is full. A vehicle already charging there is not
// counted twice.
func (n *Network) RequestCharging(ctx context.Context, vehicleID, stationID string, startPct float64) (bool, error) {
	st, ok := n.byID[stationID]
	if !ok {
		return false, fmt.Errorf("%q: %w", stationID, ErrStationNotFound)
	}
	if other, busy := n.ChargingAt(vehicleID); busy && other != stationID {
		return false, fmt.Errorf("vehicle %q at %q: %w", vehicleID, other, ErrAlreadyCharging)
	}
	if !st.admit(vehicleID, startPct) {
		n.log.Debug(ctx, "charging station full",
			logging.String("station_id", stationID),
			logging.String("vehicle_id", vehicleID),
		)
		return false, nil
	}
	return true, nil
}

// StopCharging ends the session of vehicleID wherever it is charging and
// books the energy gained since admission. capacityKWh converts the gained
// percentage to energy. A vehicle that is not charging yields a zero
// Receipt.
func (n *Network) StopCharging(ctx context.Context, vehicleID string, endPct, capacityKWh float64) Receipt {
	for _, st := range n.stations {
		energy, cost, ok := st.release(vehicleID, endPct, capacityKWh)
		if !ok {
			continue
		}
		n.log.Debug(ctx, "charging session finished",
			logging.String("station_id", st.id),
			logging.String("vehicle_id", vehicleID),
			logging.Float("energy_kwh", energy),
			logging.Float("cost", cost),
		)
		return Receipt{StationID: st.id, EnergyKWh: energy, Cost: cost}
	}
	return Receipt{}
}

// Advance returns the charge increment of every occupant for dt seconds,
// in station then admission order.
func (n *Network) Advance(dt float64) []Increment {
	var out []Increment
	for _, st := range n.stations {
		out = append(out, st.increments(dt)...)
	}
	return out
}

// Stats aggregates the cumulative counters of every station.
func (n *Network) Stats() Stats {
	var s Stats
	for _, st := range n.stations {
		info := st.info()
		s.EnergyKWh += info.EnergyKWh
		s.Revenue += info.Revenue
		s.VehiclesServed += info.VehiclesServed
		s.OccupiedSlots += info.Occupied()
		s.TotalSlots += info.TotalSlots
	}
	return s
}
