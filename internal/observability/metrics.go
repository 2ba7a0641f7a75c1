package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FleetCollector bundles Prometheus metrics for a simulation run and the
// HTTP surface that exposes it. It satisfies engine.MetricsRecorder.
type FleetCollector struct {
	gatherer prometheus.Gatherer

	TickDuration prometheus.Histogram
	SimTime      prometheus.Gauge

	Vehicles *prometheus.GaugeVec

	OrdersCreated   prometheus.Counter
	OrdersCompleted prometheus.Counter
	OrdersCancelled prometheus.Counter
	OrdersPending   prometheus.Gauge
	OrdersActive    prometheus.Gauge

	ChargingOccupied prometheus.Gauge
	ChargingTotal    prometheus.Gauge

	Revenue      prometheus.Counter
	ChargingCost prometheus.Counter

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewFleetCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing collectors.
func NewFleetCollector(reg prometheus.Registerer) (*FleetCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &FleetCollector{gatherer: gatherer}

	var err error
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evsim_tick_duration_seconds",
		Help:    "Wall-clock time spent computing one simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}), "evsim_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.SimTime, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evsim_simulation_time_seconds",
		Help: "Simulated seconds elapsed in the current run.",
	}), "evsim_simulation_time_seconds"); err != nil {
		return nil, err
	}
	if c.Vehicles, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evsim_vehicles",
		Help: "Current number of vehicles, labeled by status.",
	}, []string{"status"}), "evsim_vehicles"); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.OrdersCreated, "evsim_orders_created_total", "Orders accepted into the order book."},
		{&c.OrdersCompleted, "evsim_orders_completed_total", "Orders delivered to their dropoff."},
		{&c.OrdersCancelled, "evsim_orders_cancelled_total", "Pending orders cancelled after the maximum wait."},
		{&c.Revenue, "evsim_revenue_total", "Fares collected from completed orders."},
		{&c.ChargingCost, "evsim_charging_cost_total", "Electricity cost of finished charging sessions."},
	}
	for _, ct := range counters {
		if *ct.dst, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: ct.name,
			Help: ct.help,
		}), ct.name); err != nil {
			return nil, err
		}
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.OrdersPending, "evsim_orders_pending", "Orders waiting for a vehicle."},
		{&c.OrdersActive, "evsim_orders_active", "Orders assigned or picked up."},
		{&c.ChargingOccupied, "evsim_charging_slots_occupied", "Charging slots currently in use."},
		{&c.ChargingTotal, "evsim_charging_slots_total", "Charging slots across all stations."},
	}
	for _, g := range gauges {
		if *g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}), g.name); err != nil {
			return nil, err
		}
	}

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evsim_http_requests_total",
		Help: "Handled HTTP requests, labeled by handler, method and status code.",
	}, []string{"handler", "method", "code"}), "evsim_http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evsim_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"handler", "method"}), "evsim_http_request_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObserveTick records the wall time of one tick and the simulated clock.
func (c *FleetCollector) ObserveTick(wall time.Duration, simTime float64) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(wall.Seconds())
	c.SimTime.Set(simTime)
}

// SetVehicleCounts replaces the per-status vehicle gauges.
func (c *FleetCollector) SetVehicleCounts(byStatus map[string]int) {
	if c == nil {
		return
	}
	for status, n := range byStatus {
		c.Vehicles.WithLabelValues(status).Set(float64(n))
	}
}

// AddOrders increments the order lifecycle counters.
func (c *FleetCollector) AddOrders(created, completed, cancelled int) {
	if c == nil {
		return
	}
	c.OrdersCreated.Add(float64(created))
	c.OrdersCompleted.Add(float64(completed))
	c.OrdersCancelled.Add(float64(cancelled))
}

func (c *FleetCollector) SetOrderBacklog(pending, active int) {
	if c == nil {
		return
	}
	c.OrdersPending.Set(float64(pending))
	c.OrdersActive.Set(float64(active))
}

func (c *FleetCollector) SetChargingSlots(occupied, total int) {
	if c == nil {
		return
	}
	c.ChargingOccupied.Set(float64(occupied))
	c.ChargingTotal.Set(float64(total))
}

// AddRevenue accumulates fares and charging cost. Negative values are
// ignored; Prometheus counters only go up.
func (c *FleetCollector) AddRevenue(fares, chargingCost float64) {
	if c == nil {
		return
	}
	if fares > 0 {
		c.Revenue.Add(fares)
	}
	if chargingCost > 0 {
		c.ChargingCost.Add(chargingCost)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FleetCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps h so its requests are counted and timed under the
// given handler label.
func (c *FleetCollector) InstrumentHandler(name string, h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(c.HTTPDurations.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(c.HTTPRequests.MustCurryWith(labels), h))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
