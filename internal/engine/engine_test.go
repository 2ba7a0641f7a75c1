package engine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dudusoar/EvsSimulation-sub000/internal/charging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
	"github.com/dudusoar/EvsSimulation-sub000/internal/fleet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/orders"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet/roadnettest"
)

// scenarioConfig is a quiet single-vehicle setup: no random demand, no
// stations, no surge.
func scenarioConfig() config.Config {
	cfg := config.Default()
	cfg.VehicleCount = 1
	cfg.VehicleSpeed = 10
	cfg.OrderRatePerSecond = 0
	cfg.StationCount = 0
	cfg.PeakWindows = nil
	cfg.MinTripDistance = 0
	return cfg
}

func newEngine(t *testing.T, cfg config.Config, net *roadnet.Index, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, net, append([]Option{WithRunID("test-run")}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func mustVehicle(t *testing.T, e *Engine, id string) fleet.Vehicle {
	t.Helper()
	v, ok := e.fleet.ByID(id)
	if !ok {
		t.Fatalf("vehicle %s missing", id)
	}
	return v
}

func mustOrder(t *testing.T, e *Engine, id string) orders.Order {
	t.Helper()
	o, ok := e.book.ByID(id)
	if !ok {
		t.Fatalf("order %s missing", id)
	}
	return o
}

func TestNewRejectsInvalidInput(t *testing.T) {
	cfg := scenarioConfig()
	cfg.TimeStep = 0
	if _, err := New(cfg, roadnettest.Pair(100)); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(scenarioConfig(), nil); !errors.Is(err, roadnet.ErrEmptyNetwork) {
		t.Fatalf("err = %v, want ErrEmptyNetwork", err)
	}
	_, err := New(scenarioConfig(), roadnettest.Pair(100), WithFleetOptions(fleet.WithStartNodes(7)))
	if !errors.Is(err, roadnet.ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestNewGeneratesRunID(t *testing.T) {
	a, err := New(scenarioConfig(), roadnettest.Pair(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(scenarioConfig(), roadnettest.Pair(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.RunID() == "" || a.RunID() == b.RunID() {
		t.Fatalf("run ids %q and %q must be non-empty and distinct", a.RunID(), b.RunID())
	}
}

func TestSubmitOrderRejectsUnknownNode(t *testing.T) {
	e := newEngine(t, scenarioConfig(), roadnettest.Pair(100))
	if _, err := e.SubmitOrder(0, 42); !errors.Is(err, roadnet.ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestTripFromVehicleNodeCompletes(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, scenarioConfig(), roadnettest.Pair(1000), WithFleetOptions(fleet.WithStartNodes(0)))

	o, err := e.SubmitOrder(0, 1)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	seen := []fleet.Status{mustVehicle(t, e, "vehicle_1").Status}
	record := func() {
		if s := mustVehicle(t, e, "vehicle_1").Status; s != seen[len(seen)-1] {
			seen = append(seen, s)
		}
	}

	rep := e.Tick(ctx)
	record()
	if rep.OrdersAssigned != 1 || rep.OrdersPickedUp != 0 {
		t.Fatalf("first tick = %+v, want one assignment and no pickup", rep)
	}
	if got := mustOrder(t, e, o.ID); got.Status != orders.Assigned || got.VehicleID != "vehicle_1" {
		t.Fatalf("order = %+v, want assigned to vehicle_1", got)
	}

	rep = e.Tick(ctx)
	record()
	if rep.OrdersPickedUp != 1 {
		t.Fatalf("second tick = %+v, want one pickup", rep)
	}
	v := mustVehicle(t, e, "vehicle_1")
	if v.Status != fleet.WithPassenger || !v.HasPassenger() {
		t.Fatalf("vehicle status = %s, want with_passenger", v.Status)
	}
	if got, _ := v.Task.OrderID(); got != o.ID {
		t.Fatalf("vehicle task = %s, want %s", v.Task, o.ID)
	}
	if got := mustOrder(t, e, o.ID); got.Status != orders.PickedUp {
		t.Fatalf("order = %+v, want picked_up", got)
	}

	var completed int
	var fares float64
	for i := 0; i < 200 && completed == 0; i++ {
		rep := e.Tick(ctx)
		record()
		completed += rep.OrdersCompleted
		fares += rep.Fares
		if err := e.CheckInvariants(); err != nil {
			t.Fatalf("tick %d: %v", e.Ticks(), err)
		}
	}
	if completed != 1 {
		t.Fatalf("order not completed after %d ticks", e.Ticks())
	}
	want := []fleet.Status{fleet.Idle, fleet.ToPickup, fleet.WithPassenger, fleet.Idle}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("status sequence = %v, want %v", seen, want)
	}

	done := mustOrder(t, e, o.ID)
	if done.Status != orders.Completed || done.CompletedAt == nil {
		t.Fatalf("order = %+v, want completed", done)
	}
	if math.Abs(done.FinalPrice-2) > 1e-9 || math.Abs(fares-2) > 1e-9 {
		t.Fatalf("fare = %v (reported %v), want 2", done.FinalPrice, fares)
	}

	v = mustVehicle(t, e, "vehicle_1")
	if v.Status != fleet.Idle || !v.Task.IsNone() || v.Route != nil {
		t.Fatalf("vehicle after dropoff = %+v, want idle without task or route", v)
	}
	if v.Node != 1 {
		t.Fatalf("vehicle node = %d, want 1", v.Node)
	}
	if v.Stats.OrdersCompleted != 1 || math.Abs(v.Stats.Revenue-2) > 1e-9 {
		t.Fatalf("vehicle stats = %+v", v.Stats)
	}
	if math.Abs(v.Stats.DistanceKm-1) > 1e-6 {
		t.Fatalf("distance = %v km, want 1", v.Stats.DistanceKm)
	}
	if want := 100 - 0.15/60*100; math.Abs(v.Battery.Percent()-want) > 1e-6 {
		t.Fatalf("battery = %v, want %v", v.Battery.Percent(), want)
	}
}

func TestLowVehicleAtStationChargesToStopLevel(t *testing.T) {
	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.StationCount = 1
	cfg.SlotsPerStation = 1
	cfg.ChargingRatePctPerSecond = 1
	e := newEngine(t, cfg, roadnettest.Pair(1000),
		WithFleetOptions(fleet.WithStartNodes(0), fleet.WithInitialCharge(15)),
		WithChargingOptions(charging.WithStationNodes(0)),
	)

	rep := e.Tick(ctx)
	if rep.ChargingStarted != 1 {
		t.Fatalf("ChargingStarted = %d, want 1", rep.ChargingStarted)
	}
	v := mustVehicle(t, e, "vehicle_1")
	if v.Status != fleet.Charging {
		t.Fatalf("status = %s, want charging", v.Status)
	}
	if sid, _ := v.Task.StationID(); sid != "station_1" {
		t.Fatalf("task = %s, want station_1", v.Task)
	}
	if st := e.stations.Stations()[0]; st.Occupied() != 1 {
		t.Fatalf("occupied = %d, want 1", st.Occupied())
	}

	finished := 0
	var costs float64
	for i := 0; i < 200 && finished == 0; i++ {
		rep := e.Tick(ctx)
		finished += rep.ChargingFinished
		costs += rep.Costs
	}
	if finished != 1 {
		t.Fatalf("charging not finished after %d ticks", e.Ticks())
	}

	v = mustVehicle(t, e, "vehicle_1")
	pct := v.Battery.Percent()
	if v.Status != fleet.Idle || !v.Task.IsNone() || pct < cfg.ChargeStopPct {
		t.Fatalf("vehicle after charging = %s at %.2f%%", v.Status, pct)
	}
	wantCost := (pct - 15) / 100 * cfg.BatteryCapacityKWh * cfg.ElectricityPrice
	if math.Abs(v.Stats.ChargingCost-wantCost) > 1e-6 || math.Abs(costs-wantCost) > 1e-6 {
		t.Fatalf("charging cost = %v (reported %v), want %v", v.Stats.ChargingCost, costs, wantCost)
	}
	st := e.stations.Stations()[0]
	if st.Occupied() != 0 || st.VehiclesServed != 1 {
		t.Fatalf("station = %+v, want empty with one served", st)
	}
}

func TestSecondVehicleWaitsWhenStationFull(t *testing.T) {
	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.VehicleCount = 2
	cfg.StationCount = 1
	cfg.SlotsPerStation = 1
	e := newEngine(t, cfg, roadnettest.Pair(1000),
		WithFleetOptions(fleet.WithStartNodes(0, 0), fleet.WithInitialCharge(15)),
		WithChargingOptions(charging.WithStationNodes(0)),
	)

	for i := 0; i < 10; i++ {
		e.Tick(ctx)
		if err := e.CheckInvariants(); err != nil {
			t.Fatalf("tick %d: %v", e.Ticks(), err)
		}
	}
	if v := mustVehicle(t, e, "vehicle_1"); v.Status != fleet.Charging {
		t.Fatalf("vehicle_1 = %s, want charging", v.Status)
	}
	v2 := mustVehicle(t, e, "vehicle_2")
	if v2.Status != fleet.Idle || !v2.Task.IsNone() {
		t.Fatalf("vehicle_2 = %s %s, want idle without task", v2.Status, v2.Task)
	}
	if st := e.stations.Stations()[0]; st.Occupied() != 1 {
		t.Fatalf("occupied = %d, want 1", st.Occupied())
	}
}

func TestArrivalAtFullStationReturnsVehicleToIdle(t *testing.T) {
	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.VehicleCount = 2
	cfg.StationCount = 1
	cfg.SlotsPerStation = 1
	e := newEngine(t, cfg, roadnettest.Pair(100),
		WithFleetOptions(fleet.WithStartNodes(1, 1), fleet.WithInitialCharge(15)),
		WithChargingOptions(charging.WithStationNodes(0)),
	)

	e.Tick(ctx)
	for _, id := range []string{"vehicle_1", "vehicle_2"} {
		if v := mustVehicle(t, e, id); v.Status != fleet.ToCharging {
			t.Fatalf("%s = %s, want to_charging", id, v.Status)
		}
	}

	degraded, started := 0, 0
	for i := 0; i < 30; i++ {
		rep := e.Tick(ctx)
		degraded += rep.Degraded
		started += rep.ChargingStarted
		if err := e.CheckInvariants(); err != nil {
			t.Fatalf("tick %d: %v", e.Ticks(), err)
		}
	}
	if started != 1 || degraded != 1 {
		t.Fatalf("started = %d, degraded = %d, want 1 and 1", started, degraded)
	}
	if v := mustVehicle(t, e, "vehicle_1"); v.Status != fleet.Charging {
		t.Fatalf("vehicle_1 = %s, want charging", v.Status)
	}
	if v := mustVehicle(t, e, "vehicle_2"); v.Status != fleet.Idle || !v.Task.IsNone() || v.Route != nil {
		t.Fatalf("vehicle_2 = %+v, want idle and empty", v)
	}
}

func TestPendingOrderExpiresAfterMaxWait(t *testing.T) {
	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.VehicleCount = 0
	e := newEngine(t, cfg, roadnettest.Pair(1000))

	o, err := e.SubmitOrder(0, 1)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	for e.Now() < 601 {
		if rep := e.Tick(ctx); rep.OrdersCancelled != 0 {
			t.Fatalf("cancelled at %v, before the wait limit was exceeded", rep.SimTime)
		}
	}
	if got := mustOrder(t, e, o.ID); got.Status != orders.Pending {
		t.Fatalf("status at 600 = %s, want pending", got.Status)
	}

	rep := e.Tick(ctx)
	if rep.OrdersCancelled != 1 || rep.SimTime != 601 {
		t.Fatalf("tick at 601 = %+v, want one cancellation", rep)
	}
	got := mustOrder(t, e, o.ID)
	if got.Status != orders.Cancelled || got.CancelledAt == nil || *got.CancelledAt != 601 {
		t.Fatalf("order = %+v, want cancelled at 601", got)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestNeedsCharging(t *testing.T) {
	e := newEngine(t, scenarioConfig(), roadnettest.Pair(100))
	vehicle := func(s fleet.Status, pct float64) fleet.Vehicle {
		return fleet.Vehicle{Status: s, Battery: fleet.Battery{CapacityKWh: 100, ChargeKWh: pct}}
	}

	cases := []struct {
		name string
		v    fleet.Vehicle
		want bool
	}{
		{"idle below opportunistic", vehicle(fleet.Idle, 30), true},
		{"idle at opportunistic", vehicle(fleet.Idle, 40), true},
		{"idle above opportunistic", vehicle(fleet.Idle, 50), false},
		{"en route above low", vehicle(fleet.ToPickup, 30), false},
		{"en route at low", vehicle(fleet.ToPickup, 20), true},
		{"with passenger", vehicle(fleet.WithPassenger, 5), false},
		{"already heading to charge", vehicle(fleet.ToCharging, 5), false},
		{"charging", vehicle(fleet.Charging, 5), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.NeedsCharging(tc.v); got != tc.want {
				t.Fatalf("NeedsCharging = %v, want %v", got, tc.want)
			}
		})
	}
}

func busyConfig() config.Config {
	cfg := config.Default()
	cfg.Seed = 7
	cfg.VehicleCount = 10
	cfg.StationCount = 3
	cfg.OrderRatePerSecond = 0.1
	cfg.ConsumptionKWhPerKm = 1.5
	cfg.SpreadSampleSize = 50
	return cfg
}

func TestLongRunKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, busyConfig(), roadnettest.Grid(6, 6, 250), WithFleetOptions(fleet.WithInitialCharge(35)))

	last := map[string]orders.Status{}
	var total TickReport
	for i := 0; i < 3000; i++ {
		rep := e.Tick(ctx)
		total.OrdersCreated += rep.OrdersCreated
		total.OrdersCompleted += rep.OrdersCompleted
		total.ChargingStarted += rep.ChargingStarted
		if err := e.CheckInvariants(); err != nil {
			t.Fatalf("tick %d: %v", e.Ticks(), err)
		}
		for _, o := range e.book.All() {
			prev, seen := last[o.ID]
			if seen && prev != o.Status && !orders.CanTransition(prev, o.Status) {
				t.Fatalf("order %s moved %s -> %s", o.ID, prev, o.Status)
			}
			last[o.ID] = o.Status
		}
	}
	if total.OrdersCreated == 0 || total.OrdersCompleted == 0 || total.ChargingStarted == 0 {
		t.Fatalf("run too quiet: %+v", total)
	}

	st := e.book.Stats()
	if st.Created != total.OrdersCreated {
		t.Fatalf("book created %d, ticks reported %d", st.Created, total.OrdersCreated)
	}
}

func TestSameSeedReproducesRun(t *testing.T) {
	ctx := context.Background()
	run := func() (*Snapshot, Export) {
		e := newEngine(t, busyConfig(), roadnettest.Grid(6, 6, 250))
		for i := 0; i < 1500; i++ {
			e.Tick(ctx)
		}
		return e.Snapshot(), e.Export()
	}

	s1, x1 := run()
	s2, x2 := run()
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("snapshots differ for the same seed")
	}
	if !reflect.DeepEqual(x1, x2) {
		t.Fatalf("exports differ for the same seed")
	}
	if x1.Summary.OrdersCreated == 0 {
		t.Fatalf("no orders generated in 1500 s")
	}
}

func TestSnapshotAndExport(t *testing.T) {
	ctx := context.Background()
	cfg := scenarioConfig()
	cfg.VehicleCount = 2
	cfg.StationCount = 1
	e := newEngine(t, cfg, roadnettest.Pair(1000),
		WithFleetOptions(fleet.WithStartNodes(0, 1)),
		WithChargingOptions(charging.WithStationNodes(1)),
	)
	if _, err := e.SubmitOrder(0, 1); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if _, err := e.SubmitOrder(1, 0); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	for i := 0; i < 10; i++ {
		e.Tick(ctx)
	}

	s := e.Snapshot()
	if s.RunID != "test-run" || s.SimTime != 10 {
		t.Fatalf("snapshot header = %q at %v", s.RunID, s.SimTime)
	}
	if len(s.Vehicles) != 2 || len(s.Stations) != 1 || len(s.Orders) != 2 {
		t.Fatalf("snapshot sizes = %d vehicles, %d stations, %d orders",
			len(s.Vehicles), len(s.Stations), len(s.Orders))
	}
	for _, v := range s.Vehicles {
		if v.Status != fleet.WithPassenger.String() || !v.HasPassenger {
			t.Fatalf("vehicle view = %+v, want carrying a passenger", v)
		}
		if len(v.Route) != 2 {
			t.Fatalf("vehicle %s route = %v, want the two-node trip", v.ID, v.Route)
		}
	}
	if s.Stats.OrdersActive != 2 || s.Stats.VehiclesByStatus["with_passenger"] != 2 {
		t.Fatalf("aggregates = %+v", s.Stats)
	}
	if s.Stations[0].TotalSlots != cfg.SlotsPerStation {
		t.Fatalf("station view = %+v", s.Stations[0])
	}

	x := e.Export()
	if x.Summary.Vehicles != 2 || x.Summary.OrdersCreated != 2 || x.Summary.SimTime != 10 {
		t.Fatalf("summary = %+v", x.Summary)
	}
	if x.Summary.Utilization != 1 {
		t.Fatalf("utilization = %v, want 1 for a fleet that never idled", x.Summary.Utilization)
	}
	if len(x.Vehicles) != 2 || x.Vehicles[0].DistanceKm <= 0 {
		t.Fatalf("vehicle reports = %+v", x.Vehicles)
	}
}

type fakeRecorder struct {
	ticks      int
	simTime    float64
	byStatus   map[string]int
	created    int
	pending    int
	totalSlots int
}

func (f *fakeRecorder) ObserveTick(_ time.Duration, simTime float64) {
	f.ticks++
	f.simTime = simTime
}
func (f *fakeRecorder) SetVehicleCounts(byStatus map[string]int) { f.byStatus = byStatus }
func (f *fakeRecorder) AddOrders(created, _, _ int)              { f.created += created }
func (f *fakeRecorder) SetOrderBacklog(pending, _ int)           { f.pending = pending }
func (f *fakeRecorder) SetChargingSlots(_, total int)            { f.totalSlots = total }
func (f *fakeRecorder) AddRevenue(_, _ float64)                  {}

func TestTickFeedsMetricsRecorder(t *testing.T) {
	cfg := scenarioConfig()
	cfg.VehicleCount = 0
	cfg.StationCount = 2
	rec := &fakeRecorder{}
	e := newEngine(t, cfg, roadnettest.Line(5, 300), WithMetricsRecorder(rec))
	if _, err := e.SubmitOrder(0, 4); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	for i := 0; i < 3; i++ {
		e.Tick(context.Background())
	}
	if rec.ticks != 3 || rec.simTime != 3 {
		t.Fatalf("recorder saw %d ticks ending at %v", rec.ticks, rec.simTime)
	}
	if rec.pending != 1 || rec.totalSlots != 2*cfg.SlotsPerStation {
		t.Fatalf("recorder = %+v", rec)
	}
}

func TestSessionPublishesSnapshots(t *testing.T) {
	cfg := busyConfig()
	net := roadnettest.Grid(4, 4, 300)
	s, err := NewSession(func() (*Engine, error) { return New(cfg, net, WithRunID("session")) })
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if got := s.Latest(); got == nil || got.SimTime != 0 {
		t.Fatalf("initial snapshot = %+v", got)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if snap := s.Latest(); snap == nil || snap.RunID != "session" {
					t.Errorf("reader saw %+v", snap)
					return
				}
			}
		}
	}()
	for i := 0; i < 50; i++ {
		s.Step(ctx)
	}
	close(stop)
	wg.Wait()

	if got := s.Latest().SimTime; got != 50 {
		t.Fatalf("SimTime = %v, want 50", got)
	}
	if err := s.WithEngine(func(e *Engine) error { return e.CheckInvariants() }); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := s.Latest().SimTime; got != 0 {
		t.Fatalf("SimTime after reset = %v, want 0", got)
	}
}

func TestNewSessionPropagatesBuildError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := NewSession(func() (*Engine, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := NewSession(nil); err == nil {
		t.Fatalf("nil builder accepted")
	}
}
