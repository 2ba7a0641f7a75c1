package orders

import (
	"math"

	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

// lowChargePct is the state of charge below which a candidate is
// deprioritised during matching.
const lowChargePct = 50

// Candidate is an available vehicle as seen by the matcher.
type Candidate struct {
	VehicleID string
	Node      roadnet.NodeID
	ChargePct float64
}

// Match pairs a pending order with the vehicle chosen to serve it.
type Match struct {
	OrderID   string
	VehicleID string
	// PickupDistanceM is the route length from the vehicle to the pickup.
	PickupDistanceM float64
}

// Match assigns pending orders, oldest first, to candidates with a greedy
// nearest-vehicle rule. Each candidate is used at most once per call. The
// cost of a candidate is its route distance to the pickup, plus the battery
// penalty when it is below half charge. Unreachable candidates are skipped;
// equal costs go to the earlier candidate. Orders are not mutated.
func (b *Book) Match(candidates []Candidate) []Match {
	if len(candidates) == 0 || len(b.pending) == 0 {
		return nil
	}
	used := make([]bool, len(candidates))
	var out []Match

	for _, oid := range b.pending {
		o := b.orders[oid]
		best := -1
		bestCost := math.Inf(1)
		bestDist := 0.0

		for i, c := range candidates {
			if used[i] {
				continue
			}
			d := b.net.RouteDistance(c.Node, o.Pickup)
			if math.IsInf(d, 1) {
				continue
			}
			cost := d
			if c.ChargePct < lowChargePct {
				cost += b.cfg.BatteryPenalty
			}
			if cost < bestCost {
				best, bestCost, bestDist = i, cost, d
			}
		}

		if best < 0 {
			continue
		}
		used[best] = true
		out = append(out, Match{OrderID: oid, VehicleID: candidates[best].VehicleID, PickupDistanceM: bestDist})
	}
	return out
}
