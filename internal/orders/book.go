// Package orders owns the ride-order lifecycle: stochastic demand,
// pricing, matching against available vehicles and timeout expiry.
package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
)

var (
	// ErrOrderNotFound indicates a transition referenced an unknown order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition indicates an illegal lifecycle step was requested.
	ErrInvalidTransition = errors.New("invalid order transition")
	// ErrUnreachable indicates no route exists between pickup and dropoff.
	ErrUnreachable = errors.New("dropoff unreachable from pickup")
)

// Stats are the running counters of a Book.
type Stats struct {
	Created   int
	Completed int
	Cancelled int
	// Discarded counts generated candidates rejected as too short or unreachable.
	Discarded int
	Revenue   float64
	// WaitSeconds sums creation-to-pickup time over PickedUpCount orders.
	WaitSeconds   float64
	PickedUpCount int
}

// AverageWait returns the mean creation-to-pickup time in seconds.
func (s Stats) AverageWait() float64 {
	if s.PickedUpCount == 0 {
		return 0
	}
	return s.WaitSeconds / float64(s.PickedUpCount)
}

// CompletionRate returns completed / created.
func (s Stats) CompletionRate() float64 {
	if s.Created == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Created)
}

// Book owns every order of a run. It is not safe for concurrent use.
type Book struct {
	cfg config.Config
	net *roadnet.Index
	rng *rand.Rand
	log logging.Logger

	orders  map[string]*Order
	created []string
	pending []string
	nextID  int
	stats   Stats
}

// Option customises Book construction.
type Option func(*Book)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(b *Book) {
		b.log = logging.OrNoop(l)
	}
}

// New returns an empty book. rng is shared with the rest of the run so a
// seed fully determines demand.
func New(cfg config.Config, net *roadnet.Index, rng *rand.Rand, opts ...Option) *Book {
	b := &Book{
		cfg:    cfg,
		net:    net,
		rng:    rng,
		log:    logging.Noop(),
		orders: make(map[string]*Order),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Generate draws a Poisson(rate×dt) number of candidate orders at time now
// and keeps those whose trip is reachable and at least the minimum length.
func (b *Book) Generate(ctx context.Context, now, dt float64) []Order {
	lambda := b.cfg.OrderRatePerSecond * dt
	if lambda <= 0 || b.net.NodeCount() < 2 {
		return nil
	}
	n := int(distuv.Poisson{Lambda: lambda, Src: b.rng}.Rand())

	var out []Order
	for i := 0; i < n; i++ {
		pickup := b.net.RandomNode(b.rng)
		dropoff := b.net.RandomNode(b.rng)
		for dropoff == pickup {
			dropoff = b.net.RandomNode(b.rng)
		}
		dist := b.net.RouteDistance(pickup, dropoff)
		if math.IsInf(dist, 1) || dist < b.cfg.MinTripDistance {
			b.stats.Discarded++
			continue
		}
		out = append(out, *b.create(pickup, dropoff, dist, now))
	}
	if len(out) > 0 {
		b.log.Debug(ctx, "orders generated", logging.Int("count", len(out)), logging.Float("sim_time", now))
	}
	return out
}

// Submit creates an order for a specific trip. It is how operators and
// tests inject demand outside the stochastic generator.
func (b *Book) Submit(pickup, dropoff roadnet.NodeID, now float64) (Order, error) {
	if !b.net.HasNode(pickup) {
		return Order{}, fmt.Errorf("pickup %d: %w", pickup, roadnet.ErrNodeNotFound)
	}
	if !b.net.HasNode(dropoff) {
		return Order{}, fmt.Errorf("dropoff %d: %w", dropoff, roadnet.ErrNodeNotFound)
	}
	dist := b.net.RouteDistance(pickup, dropoff)
	if math.IsInf(dist, 1) {
		return Order{}, fmt.Errorf("%d -> %d: %w", pickup, dropoff, ErrUnreachable)
	}
	return *b.create(pickup, dropoff, dist, now), nil
}

func (b *Book) create(pickup, dropoff roadnet.NodeID, dist, now float64) *Order {
	b.nextID++
	surge := b.SurgeAt(now)
	base := dist / 1000 * b.cfg.BaseRatePerKm
	pp, _ := b.net.NodePosition(pickup)
	dp, _ := b.net.NodePosition(dropoff)
	o := &Order{
		ID:         fmt.Sprintf("order_%d", b.nextID),
		Pickup:     pickup,
		Dropoff:    dropoff,
		PickupPos:  pp,
		DropoffPos: dp,
		CreatedAt:  now,
		Status:     Pending,
		DistanceM:  dist,
		Surge:      surge,
		BasePrice:  base,
		FinalPrice: base * surge,
	}
	b.orders[o.ID] = o
	b.created = append(b.created, o.ID)
	b.pending = append(b.pending, o.ID)
	b.stats.Created++
	return o
}

// HourOfDay maps simulated seconds to a time of day in [0, 24).
func (b *Book) HourOfDay(now float64) float64 {
	h := math.Mod(b.cfg.StartHour+now/3600, 24)
	if h < 0 {
		h += 24
	}
	return h
}

// SurgeAt returns the price multiplier in effect at simulated time now.
func (b *Book) SurgeAt(now float64) float64 {
	h := b.HourOfDay(now)
	for _, w := range b.cfg.PeakWindows {
		if w.Contains(h) {
			return b.cfg.SurgeMultiplier
		}
	}
	return 1
}

// ByID returns a copy of the order.
func (b *Book) ByID(id string) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// All returns every order in creation order.
func (b *Book) All() []Order {
	out := make([]Order, 0, len(b.created))
	for _, id := range b.created {
		out = append(out, *b.orders[id])
	}
	return out
}

// Pending returns pending orders in arrival order.
func (b *Book) Pending() []Order {
	out := make([]Order, 0, len(b.pending))
	for _, id := range b.pending {
		out = append(out, *b.orders[id])
	}
	return out
}

// Active returns assigned and picked-up orders in creation order.
func (b *Book) Active() []Order {
	var out []Order
	for _, id := range b.created {
		if o := b.orders[id]; o.Status == Assigned || o.Status == PickedUp {
			out = append(out, *o)
		}
	}
	return out
}

// CountByStatus returns the number of orders per status.
func (b *Book) CountByStatus() map[Status]int {
	out := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		out[s] = 0
	}
	for _, o := range b.orders {
		out[o.Status]++
	}
	return out
}

// Stats returns a copy of the running counters.
func (b *Book) Stats() Stats { return b.stats }

func (b *Book) transition(id string, to Status) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrOrderNotFound)
	}
	if !CanTransition(o.Status, to) {
		return nil, fmt.Errorf("order %q %s -> %s: %w", id, o.Status, to, ErrInvalidTransition)
	}
	return o, nil
}

// Assign binds a pending order to a vehicle.
func (b *Book) Assign(orderID, vehicleID string, now float64) error {
	o, err := b.transition(orderID, Assigned)
	if err != nil {
		return err
	}
	o.Status = Assigned
	o.VehicleID = vehicleID
	o.AssignedAt = stamp(now)
	b.removePending(orderID)
	return nil
}

// Pickup records that the assigned vehicle collected the rider.
func (b *Book) Pickup(orderID string, now float64) error {
	o, err := b.transition(orderID, PickedUp)
	if err != nil {
		return err
	}
	o.Status = PickedUp
	o.PickedUpAt = stamp(now)
	b.stats.PickedUpCount++
	b.stats.WaitSeconds += now - o.CreatedAt
	return nil
}

// Complete records the drop-off and returns the finished order.
func (b *Book) Complete(orderID string, now float64) (Order, error) {
	o, err := b.transition(orderID, Completed)
	if err != nil {
		return Order{}, err
	}
	o.Status = Completed
	o.CompletedAt = stamp(now)
	b.stats.Completed++
	b.stats.Revenue += o.FinalPrice
	return *o, nil
}

// ExpireTimeouts cancels pending orders that waited longer than the
// configured maximum and returns their ids.
func (b *Book) ExpireTimeouts(ctx context.Context, now float64) []string {
	var expired []string
	kept := b.pending[:0]
	for _, id := range b.pending {
		o := b.orders[id]
		if now-o.CreatedAt > b.cfg.MaxWaitingTime {
			o.Status = Cancelled
			o.CancelledAt = stamp(now)
			b.stats.Cancelled++
			expired = append(expired, id)
			continue
		}
		kept = append(kept, id)
	}
	b.pending = kept
	if len(expired) > 0 {
		b.log.Info(ctx, "orders timed out", logging.Int("count", len(expired)), logging.Float("sim_time", now))
	}
	return expired
}

func (b *Book) removePending(id string) {
	if i := slices.Index(b.pending, id); i >= 0 {
		b.pending = slices.Delete(b.pending, i, i+1)
	}
}
