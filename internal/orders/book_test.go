package orders

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet/roadnettest"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.StartHour = 12
	cfg.BaseRatePerKm = 2
	cfg.SurgeMultiplier = 1.5
	cfg.PeakWindows = []config.PeakWindow{{StartHour: 7, EndHour: 9}, {StartHour: 17, EndHour: 19}}
	cfg.MaxWaitingTime = 600
	cfg.MinTripDistance = 500
	cfg.BatteryPenalty = 10000
	return cfg
}

func newBook(cfg config.Config, net *roadnet.Index) *Book {
	return New(cfg, net, rand.New(rand.NewPCG(3, 4)))
}

func TestSubmitPricesTrip(t *testing.T) {
	b := newBook(testConfig(), roadnettest.Pair(2000))

	o, err := b.Submit(0, 1, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.ID != "order_1" || o.Status != Pending {
		t.Fatalf("order = %+v", o)
	}
	if o.DistanceM != 2000 || o.Surge != 1 || o.BasePrice != 4 || o.FinalPrice != 4 {
		t.Fatalf("pricing = dist %v surge %v base %v final %v", o.DistanceM, o.Surge, o.BasePrice, o.FinalPrice)
	}
	if o.PickupPos[0] != 0 || o.DropoffPos[0] != 2000 {
		t.Fatalf("positions = %v -> %v", o.PickupPos, o.DropoffPos)
	}

	if _, err := b.Submit(0, 42, 0); !errors.Is(err, roadnet.ErrNodeNotFound) {
		t.Fatalf("unknown dropoff err = %v, want ErrNodeNotFound", err)
	}
}

func TestSurgeFollowsPeakWindows(t *testing.T) {
	b := newBook(testConfig(), roadnettest.Pair(10))
	cases := []struct {
		now  float64
		want float64
	}{
		{0, 1},               // 12:00
		{5 * 3600, 1.5},      // 17:00
		{6*3600 + 1800, 1.5}, // 18:30
		{7 * 3600, 1},        // 19:00, window is half-open
		{19*3600 + 60, 1.5},  // 07:01 next day
	}
	for _, tc := range cases {
		if got := b.SurgeAt(tc.now); got != tc.want {
			t.Fatalf("SurgeAt(%v) = %v, want %v (hour %v)", tc.now, got, tc.want, b.HourOfDay(tc.now))
		}
	}

	o, _ := b.Submit(0, 1, 5*3600)
	if o.FinalPrice != o.BasePrice*1.5 {
		t.Fatalf("FinalPrice = %v, want %v", o.FinalPrice, o.BasePrice*1.5)
	}
}

func TestLifecycleIsMonotonic(t *testing.T) {
	b := newBook(testConfig(), roadnettest.Pair(2000))
	o, _ := b.Submit(0, 1, 10)

	if err := b.Pickup(o.ID, 11); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Pickup before Assign err = %v, want ErrInvalidTransition", err)
	}
	if got, _ := b.ByID(o.ID); got.Status != Pending || got.PickedUpAt != nil {
		t.Fatalf("failed transition mutated order: %+v", got)
	}

	if err := b.Assign(o.ID, "vehicle_1", 12); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(b.Pending()) != 0 {
		t.Fatalf("assigned order still pending")
	}
	if err := b.Assign(o.ID, "vehicle_2", 13); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-assign err = %v, want ErrInvalidTransition", err)
	}
	if err := b.Pickup(o.ID, 40); err != nil {
		t.Fatalf("Pickup: %v", err)
	}
	done, err := b.Complete(o.ID, 240)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != Completed || done.VehicleID != "vehicle_1" || *done.CompletedAt != 240 {
		t.Fatalf("completed order = %+v", done)
	}
	if _, err := b.Complete(o.ID, 241); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double Complete err = %v, want ErrInvalidTransition", err)
	}
	if _, err := b.Complete("order_99", 1); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown order err = %v, want ErrOrderNotFound", err)
	}

	st := b.Stats()
	if st.Completed != 1 || st.Revenue != done.FinalPrice || st.AverageWait() != 30 {
		t.Fatalf("Stats = %+v (avg wait %v)", st, st.AverageWait())
	}
	if st.CompletionRate() != 1 {
		t.Fatalf("CompletionRate = %v, want 1", st.CompletionRate())
	}
}

func TestExpireTimeoutsCancelsStalePending(t *testing.T) {
	b := newBook(testConfig(), roadnettest.Pair(2000))
	ctx := context.Background()
	stale, _ := b.Submit(0, 1, 0)
	fresh, _ := b.Submit(1, 0, 100)
	taken, _ := b.Submit(0, 1, 0)
	_ = b.Assign(taken.ID, "vehicle_1", 1)

	if got := b.ExpireTimeouts(ctx, 600); len(got) != 0 {
		t.Fatalf("ExpireTimeouts(600) = %v, want none (strictly greater)", got)
	}
	got := b.ExpireTimeouts(ctx, 601)
	if len(got) != 1 || got[0] != stale.ID {
		t.Fatalf("ExpireTimeouts(601) = %v, want [%s]", got, stale.ID)
	}

	o, _ := b.ByID(stale.ID)
	if o.Status != Cancelled || o.CancelledAt == nil || *o.CancelledAt != 601 {
		t.Fatalf("stale order = %+v", o)
	}
	pending := b.Pending()
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("Pending() = %v, want only %s", pending, fresh.ID)
	}
	if a, _ := b.ByID(taken.ID); a.Status != Assigned {
		t.Fatalf("assigned order status = %v, want assigned", a.Status)
	}
	if err := b.Assign(stale.ID, "vehicle_2", 602); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelled order re-entered lifecycle: %v", err)
	}
}

func TestMatchPicksNearestWithBatteryPenalty(t *testing.T) {
	net := roadnettest.Line(10, 100)
	b := newBook(testConfig(), net)
	o1, _ := b.Submit(5, 9, 0)
	o2, _ := b.Submit(0, 9, 1)

	cands := []Candidate{
		{VehicleID: "vehicle_1", Node: 4, ChargePct: 30}, // 100 m but low charge
		{VehicleID: "vehicle_2", Node: 8, ChargePct: 90}, // 300 m
		{VehicleID: "vehicle_3", Node: 1, ChargePct: 90},
	}
	got := b.Match(cands)
	if len(got) != 2 {
		t.Fatalf("Match() = %v, want 2 matches", got)
	}
	if got[0].OrderID != o1.ID || got[0].VehicleID != "vehicle_2" || got[0].PickupDistanceM != 300 {
		t.Fatalf("first match = %+v, want %s -> vehicle_2 at 300 m", got[0], o1.ID)
	}
	if got[1].OrderID != o2.ID || got[1].VehicleID != "vehicle_3" {
		t.Fatalf("second match = %+v, want %s -> vehicle_3", got[1], o2.ID)
	}
	if len(b.Pending()) != 2 {
		t.Fatalf("Match mutated pending orders")
	}
}

func TestMatchTieBreaksOnCandidateOrderAndSkipsUnreachable(t *testing.T) {
	net := roadnettest.Line(3, 100)
	b := newBook(testConfig(), net)
	_, _ = b.Submit(1, 2, 0)

	got := b.Match([]Candidate{
		{VehicleID: "vehicle_7", Node: 0, ChargePct: 80},
		{VehicleID: "vehicle_8", Node: 2, ChargePct: 80},
	})
	if len(got) != 1 || got[0].VehicleID != "vehicle_7" {
		t.Fatalf("Match() = %v, want vehicle_7 on tie", got)
	}

	if m := b.Match([]Candidate{{VehicleID: "ghost", Node: 77, ChargePct: 100}}); len(m) != 0 {
		t.Fatalf("unreachable candidate matched: %v", m)
	}
	if m := b.Match(nil); m != nil {
		t.Fatalf("Match(nil) = %v, want nil", m)
	}
}

func TestGenerateIsDeterministicAndConserves(t *testing.T) {
	cfg := testConfig()
	cfg.OrderRatePerSecond = 0.5
	cfg.MinTripDistance = 250
	net := roadnettest.Grid(5, 5, 100)
	ctx := context.Background()

	run := func() []Order {
		b := newBook(cfg, net)
		var all []Order
		for tick := 0; tick < 200; tick++ {
			now := float64(tick)
			all = append(all, b.Generate(ctx, now, 1)...)
			b.ExpireTimeouts(ctx, now)

			st := b.Stats()
			counts := b.CountByStatus()
			open := counts[Pending] + counts[Assigned] + counts[PickedUp]
			if st.Created != st.Completed+st.Cancelled+open {
				t.Fatalf("tick %d: created %d != completed %d + cancelled %d + open %d",
					tick, st.Created, st.Completed, st.Cancelled, open)
			}
		}
		return all
	}

	a, b := run(), run()
	if len(a) == 0 {
		t.Fatalf("no orders generated at rate 0.5/s over 200 s")
	}
	if len(a) != len(b) {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Pickup != b[i].Pickup || a[i].Dropoff != b[i].Dropoff {
			t.Fatalf("order %d differs: %+v vs %+v", i, a[i], b[i])
		}
		if a[i].Pickup == a[i].Dropoff || a[i].DistanceM < cfg.MinTripDistance {
			t.Fatalf("degenerate order generated: %+v", a[i])
		}
		if math.Abs(a[i].BasePrice-a[i].DistanceM/1000*cfg.BaseRatePerKm) > 1e-9 {
			t.Fatalf("base price mismatch: %+v", a[i])
		}
	}
}

func TestGenerateWithZeroRateIsSilent(t *testing.T) {
	cfg := testConfig()
	cfg.OrderRatePerSecond = 0
	b := newBook(cfg, roadnettest.Grid(3, 3, 300))
	if got := b.Generate(context.Background(), 0, 1); len(got) != 0 {
		t.Fatalf("Generate() = %v, want none", got)
	}
}

func TestCanTransitionTable(t *testing.T) {
	legal := map[[2]Status]bool{
		{Pending, Assigned}:   true,
		{Pending, Cancelled}:  true,
		{Assigned, PickedUp}:  true,
		{PickedUp, Completed}: true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			if got := CanTransition(from, to); got != legal[[2]Status{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}
