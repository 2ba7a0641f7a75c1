package engine

import (
	"errors"
	"fmt"

	"github.com/dudusoar/EvsSimulation-sub000/internal/fleet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/orders"
)

// ErrInvariant is wrapped by every CheckInvariants failure.
var ErrInvariant = errors.New("invariant violated")

// CheckInvariants verifies the cross-component rules that must hold at every
// tick boundary and returns the first violation found.
func (e *Engine) CheckInvariants() error {
	holder := make(map[string]string)
	for _, st := range e.stations.Stations() {
		if st.Occupied() < 0 || st.Occupied() > st.TotalSlots {
			return fmt.Errorf("%w: station %s occupies %d of %d slots", ErrInvariant, st.ID, st.Occupied(), st.TotalSlots)
		}
		for _, vid := range st.Occupants {
			if other, dup := holder[vid]; dup {
				return fmt.Errorf("%w: vehicle %s occupies %s and %s", ErrInvariant, vid, other, st.ID)
			}
			holder[vid] = st.ID
		}
	}

	for _, v := range e.fleet.All() {
		b := v.Battery
		if b.ChargeKWh < 0 || b.ChargeKWh > b.CapacityKWh {
			return fmt.Errorf("%w: vehicle %s charge %.3f outside [0, %.3f]", ErrInvariant, v.ID, b.ChargeKWh, b.CapacityKWh)
		}
		if v.Status == fleet.WithPassenger {
			if _, ok := v.Task.OrderID(); !ok {
				return fmt.Errorf("%w: vehicle %s carries a passenger without an order task", ErrInvariant, v.ID)
			}
		}
		if r := v.Route; r != nil && (r.Index < 0 || r.Index > len(r.Points)) {
			return fmt.Errorf("%w: vehicle %s route cursor %d outside [0, %d]", ErrInvariant, v.ID, r.Index, len(r.Points))
		}
		_, charging := holder[v.ID]
		if (v.Status == fleet.Charging) != charging {
			return fmt.Errorf("%w: vehicle %s status %s but slot held = %v", ErrInvariant, v.ID, v.Status, charging)
		}
	}

	st := e.book.Stats()
	counts := e.book.CountByStatus()
	open := counts[orders.Pending] + counts[orders.Assigned] + counts[orders.PickedUp]
	if st.Created != st.Completed+st.Cancelled+open {
		return fmt.Errorf("%w: %d orders created but %d completed + %d cancelled + %d open",
			ErrInvariant, st.Created, st.Completed, st.Cancelled, open)
	}
	for _, o := range e.book.Active() {
		if o.VehicleID == "" || o.AssignedAt == nil {
			return fmt.Errorf("%w: active order %s has no assignment", ErrInvariant, o.ID)
		}
	}
	return nil
}
