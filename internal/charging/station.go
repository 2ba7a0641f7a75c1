package charging

import (
	"slices"
	"sync"

	"github.com/paulmach/orb"

	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

// Station is a charging site with a bounded pool of slots. Admission and
// release are serialised by the station's own lock so the slot bound holds
// even if callers run concurrently.
type Station struct {
	id    string
	node  roadnet.NodeID
	pos   orb.Point
	slots int
	rate  float64 // percent of capacity per second
	price float64 // per kWh

	mu sync.Mutex
	// occupants maps vehicle id to the state of charge at admission.
	occupants map[string]float64
	// admitted keeps occupants in admission order for deterministic iteration.
	admitted  []string
	energyKWh float64
	revenue   float64
	served    int
}

func newStation(id string, node roadnet.NodeID, pos orb.Point, slots int, rate, price float64) *Station {
	return &Station{
		id:        id,
		node:      node,
		pos:       pos,
		slots:     slots,
		rate:      rate,
		price:     price,
		occupants: make(map[string]float64, slots),
	}
}

// StationInfo is a point-in-time copy of a station's state.
type StationInfo struct {
	ID         string
	Node       roadnet.NodeID
	Pos        orb.Point
	TotalSlots int
	Occupants  []string
	// RatePctPerSecond is the percent of battery capacity added per second.
	RatePctPerSecond float64
	ElectricityPrice float64
	EnergyKWh        float64
	Revenue          float64
	VehiclesServed   int
}

// Occupied returns the number of slots in use.
func (s StationInfo) Occupied() int { return len(s.Occupants) }

// Free returns the number of unused slots.
func (s StationInfo) Free() int { return s.TotalSlots - len(s.Occupants) }

// Utilization returns occupied / total slots.
func (s StationInfo) Utilization() float64 {
	if s.TotalSlots == 0 {
		return 0
	}
	return float64(len(s.Occupants)) / float64(s.TotalSlots)
}

func (s *Station) info() StationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StationInfo{
		ID:               s.id,
		Node:             s.node,
		Pos:              s.pos,
		TotalSlots:       s.slots,
		Occupants:        slices.Clone(s.admitted),
		RatePctPerSecond: s.rate,
		ElectricityPrice: s.price,
		EnergyKWh:        s.energyKWh,
		Revenue:          s.revenue,
		VehiclesServed:   s.served,
	}
}

// admit reports whether vehicleID holds a slot after the call. An occupant
// is admitted again without taking a second slot.
func (s *Station) admit(vehicleID string, startPct float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.occupants[vehicleID]; ok {
		return true
	}
	if len(s.occupants) >= s.slots {
		return false
	}
	s.occupants[vehicleID] = startPct
	s.admitted = append(s.admitted, vehicleID)
	return true
}

// release frees the slot of vehicleID and books the session. ok is false
// when the vehicle was not an occupant.
func (s *Station) release(vehicleID string, endPct, capacityKWh float64) (energy, cost float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.occupants[vehicleID]
	if !ok {
		return 0, 0, false
	}
	delete(s.occupants, vehicleID)
	if i := slices.Index(s.admitted, vehicleID); i >= 0 {
		s.admitted = slices.Delete(s.admitted, i, i+1)
	}

	gained := endPct - start
	if gained < 0 {
		gained = 0
	}
	energy = gained / 100 * capacityKWh
	cost = energy * s.price
	s.energyKWh += energy
	s.revenue += cost
	s.served++
	return energy, cost, true
}

func (s *Station) holds(vehicleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.occupants[vehicleID]
	return ok
}

// increments returns the per-occupant charge increment for dt seconds.
func (s *Station) increments(dt float64) []Increment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Increment, 0, len(s.admitted))
	for _, vid := range s.admitted {
		out = append(out, Increment{VehicleID: vid, StationID: s.id, Pct: s.rate * dt})
	}
	return out
}
