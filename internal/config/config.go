// Package config defines the single typed configuration consumed by every
// simulator component.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// StationMetric selects the travel metric used to score charging stations.
type StationMetric string

const (
	// MetricDistance scores stations by shortest route length in metres.
	MetricDistance StationMetric = "distance"
	// MetricTime scores stations by shortest route traversal time in seconds.
	MetricTime StationMetric = "time"
)

// PeakWindow is a half-open [StartHour, EndHour) interval of the simulated day
// during which the surge multiplier applies.
type PeakWindow struct {
	StartHour float64
	EndHour   float64
}

// Contains reports whether hour (0 ≤ hour < 24) falls inside the window.
func (w PeakWindow) Contains(hour float64) bool {
	return hour >= w.StartHour && hour < w.EndHour
}

// Config holds every tunable of a simulation run.
type Config struct {
	// Location is the key the network loader resolves to a road graph.
	Location string

	// Seed drives every random draw of the run.
	Seed uint64

	// TimeStep is the simulated seconds advanced per tick.
	TimeStep float64
	// StartHour is the simulated time of day at t=0, used by surge pricing.
	StartHour float64

	VehicleCount int
	// VehicleSpeed is the constant cruise speed in m/s.
	VehicleSpeed float64
	// ArrivalThreshold is the distance (m) at which a route point counts as reached.
	ArrivalThreshold float64

	BatteryCapacityKWh  float64
	ConsumptionKWhPerKm float64
	// ChargingThresholdPct triggers charging regardless of activity.
	ChargingThresholdPct float64
	// OpportunisticThresholdPct triggers charging for idle vehicles only.
	OpportunisticThresholdPct float64
	// ChargeStopPct ends a charging session.
	ChargeStopPct float64

	// OrderRatePerSecond is the Poisson mean of new orders per simulated second.
	OrderRatePerSecond float64
	// MinTripDistance discards generated orders shorter than this many metres.
	MinTripDistance float64
	BaseRatePerKm   float64
	SurgeMultiplier float64
	PeakWindows     []PeakWindow
	// MaxWaitingTime cancels pending orders older than this many seconds.
	MaxWaitingTime float64
	// BatteryPenalty is added to the match cost of vehicles below half charge.
	BatteryPenalty float64

	StationCount    int
	SlotsPerStation int
	// ChargingRatePctPerSecond is the percent of capacity added per second.
	ChargingRatePctPerSecond float64
	ElectricityPrice         float64
	StationMetric            StationMetric
	// UtilizationPenalty scales station utilization when scoring stations.
	UtilizationPenalty float64
	// DefaultSpeedKph applies to edges without a speed tag in time-weighted queries.
	DefaultSpeedKph float64
	// SpreadSampleSize bounds the candidate sample of the station spread heuristic.
	SpreadSampleSize int
}

// Default returns a configuration suitable for a mid-size city graph.
func Default() Config {
	return Config{
		Location:                  "default",
		Seed:                      42,
		TimeStep:                  1,
		StartHour:                 8,
		VehicleCount:              20,
		VehicleSpeed:              13.9,
		ArrivalThreshold:          1,
		BatteryCapacityKWh:        60,
		ConsumptionKWhPerKm:       0.15,
		ChargingThresholdPct:      20,
		OpportunisticThresholdPct: 40,
		ChargeStopPct:             95,
		OrderRatePerSecond:        0.05,
		MinTripDistance:           500,
		BaseRatePerKm:             2,
		SurgeMultiplier:           1.5,
		PeakWindows:               []PeakWindow{{StartHour: 7, EndHour: 9}, {StartHour: 17, EndHour: 19}},
		MaxWaitingTime:            600,
		BatteryPenalty:            10000,
		StationCount:              5,
		SlotsPerStation:           3,
		ChargingRatePctPerSecond:  0.1,
		ElectricityPrice:          0.8,
		StationMetric:             MetricDistance,
		UtilizationPenalty:        5000,
		DefaultSpeedKph:           30,
		SpreadSampleSize:          200,
	}
}

// Validate checks every field against its allowed range.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(strings.TrimSpace(c.Location) != "", "location must be non-empty")
	check(c.TimeStep > 0, "time step must be positive, got %v", c.TimeStep)
	check(c.StartHour >= 0 && c.StartHour < 24, "start hour must be in [0,24), got %v", c.StartHour)
	check(c.VehicleCount >= 0, "vehicle count must be non-negative, got %d", c.VehicleCount)
	check(c.VehicleSpeed > 0, "vehicle speed must be positive, got %v", c.VehicleSpeed)
	check(c.ArrivalThreshold >= 0, "arrival threshold must be non-negative, got %v", c.ArrivalThreshold)
	check(c.BatteryCapacityKWh > 0, "battery capacity must be positive, got %v", c.BatteryCapacityKWh)
	check(c.ConsumptionKWhPerKm >= 0, "consumption must be non-negative, got %v", c.ConsumptionKWhPerKm)
	check(inPct(c.ChargingThresholdPct), "charging threshold must be in [0,100], got %v", c.ChargingThresholdPct)
	check(inPct(c.OpportunisticThresholdPct), "opportunistic threshold must be in [0,100], got %v", c.OpportunisticThresholdPct)
	check(inPct(c.ChargeStopPct), "charge stop must be in [0,100], got %v", c.ChargeStopPct)
	check(c.ChargeStopPct > c.ChargingThresholdPct, "charge stop (%v) must exceed charging threshold (%v)", c.ChargeStopPct, c.ChargingThresholdPct)
	check(c.ChargeStopPct > c.OpportunisticThresholdPct, "charge stop (%v) must exceed opportunistic threshold (%v)", c.ChargeStopPct, c.OpportunisticThresholdPct)
	check(c.OrderRatePerSecond >= 0, "order rate must be non-negative, got %v", c.OrderRatePerSecond)
	check(c.MinTripDistance >= 0, "min trip distance must be non-negative, got %v", c.MinTripDistance)
	check(c.BaseRatePerKm >= 0, "base rate must be non-negative, got %v", c.BaseRatePerKm)
	check(c.SurgeMultiplier >= 1, "surge multiplier must be at least 1, got %v", c.SurgeMultiplier)
	for i, w := range c.PeakWindows {
		check(w.StartHour >= 0 && w.EndHour <= 24 && w.StartHour < w.EndHour,
			"peak window %d must satisfy 0 <= start < end <= 24, got [%v,%v)", i, w.StartHour, w.EndHour)
	}
	check(c.MaxWaitingTime > 0, "max waiting time must be positive, got %v", c.MaxWaitingTime)
	check(c.BatteryPenalty >= 0, "battery penalty must be non-negative, got %v", c.BatteryPenalty)
	check(c.StationCount >= 0, "station count must be non-negative, got %d", c.StationCount)
	check(c.SlotsPerStation > 0, "slots per station must be positive, got %d", c.SlotsPerStation)
	check(c.ChargingRatePctPerSecond > 0, "charging rate must be positive, got %v", c.ChargingRatePctPerSecond)
	check(c.ElectricityPrice >= 0, "electricity price must be non-negative, got %v", c.ElectricityPrice)
	check(c.StationMetric == MetricDistance || c.StationMetric == MetricTime,
		"station metric must be %q or %q, got %q", MetricDistance, MetricTime, c.StationMetric)
	check(c.UtilizationPenalty >= 0, "utilization penalty must be non-negative, got %v", c.UtilizationPenalty)
	check(c.DefaultSpeedKph > 0, "default speed must be positive, got %v", c.DefaultSpeedKph)
	check(c.SpreadSampleSize > 0, "spread sample size must be positive, got %d", c.SpreadSampleSize)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// TickDuration returns TimeStep as a time.Duration for wall-clock drivers.
func (c Config) TickDuration() time.Duration {
	return time.Duration(c.TimeStep * float64(time.Second))
}

func inPct(v float64) bool { return v >= 0 && v <= 100 }

// FromEnv overlays EVSIM_* environment variables onto base. Unparseable values
// are reported as errors rather than silently ignored.
func FromEnv(base Config) (Config, error) {
	cfg := base
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("EVSIM_LOCATION", &cfg.Location)
	if v := strings.TrimSpace(os.Getenv("EVSIM_SEED")); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("EVSIM_SEED: %w", err))
		} else {
			cfg.Seed = seed
		}
	}
	num("EVSIM_TIME_STEP", &cfg.TimeStep)
	num("EVSIM_START_HOUR", &cfg.StartHour)
	integer("EVSIM_VEHICLES", &cfg.VehicleCount)
	num("EVSIM_VEHICLE_SPEED", &cfg.VehicleSpeed)
	num("EVSIM_BATTERY_KWH", &cfg.BatteryCapacityKWh)
	num("EVSIM_CONSUMPTION_KWH_PER_KM", &cfg.ConsumptionKWhPerKm)
	num("EVSIM_CHARGING_THRESHOLD_PCT", &cfg.ChargingThresholdPct)
	num("EVSIM_OPPORTUNISTIC_THRESHOLD_PCT", &cfg.OpportunisticThresholdPct)
	num("EVSIM_CHARGE_STOP_PCT", &cfg.ChargeStopPct)
	num("EVSIM_ORDER_RATE", &cfg.OrderRatePerSecond)
	num("EVSIM_BASE_RATE_PER_KM", &cfg.BaseRatePerKm)
	num("EVSIM_SURGE_MULTIPLIER", &cfg.SurgeMultiplier)
	num("EVSIM_MAX_WAITING_TIME", &cfg.MaxWaitingTime)
	integer("EVSIM_STATIONS", &cfg.StationCount)
	integer("EVSIM_SLOTS_PER_STATION", &cfg.SlotsPerStation)
	num("EVSIM_CHARGING_RATE", &cfg.ChargingRatePctPerSecond)
	num("EVSIM_ELECTRICITY_PRICE", &cfg.ElectricityPrice)
	if v := strings.TrimSpace(os.Getenv("EVSIM_STATION_METRIC")); v != "" {
		cfg.StationMetric = StationMetric(strings.ToLower(v))
	}

	if len(errs) > 0 {
		return base, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return cfg, nil
}
