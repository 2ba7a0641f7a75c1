package engine

// VehicleReport holds the lifetime statistics of one vehicle.
type VehicleReport struct {
	ID              string  `json:"vehicle_id"`
	Status          string  `json:"status"`
	BatteryPct      float64 `json:"battery_percentage"`
	DistanceKm      float64 `json:"distance_km"`
	OrdersCompleted int     `json:"orders_completed"`
	Revenue         float64 `json:"revenue"`
	ChargingCost    float64 `json:"charging_cost"`
	IdleSeconds     float64 `json:"idle_seconds"`
}

// StationReport holds the cumulative statistics of one station.
type StationReport struct {
	ID             string  `json:"station_id"`
	Node           int64   `json:"node"`
	TotalSlots     int     `json:"total_slots"`
	OccupiedSlots  int     `json:"occupied_slots"`
	EnergyKWh      float64 `json:"energy_kwh"`
	Revenue        float64 `json:"revenue"`
	VehiclesServed int     `json:"vehicles_served"`
}

// Summary holds the fleet-wide aggregates of a run.
type Summary struct {
	RunID           string  `json:"run_id"`
	Location        string  `json:"location"`
	SimTime         float64 `json:"simulation_time"`
	Vehicles        int     `json:"vehicles"`
	Stations        int     `json:"stations"`
	OrdersCreated   int     `json:"orders_created"`
	OrdersCompleted int     `json:"orders_completed"`
	OrdersCancelled int     `json:"orders_cancelled"`
	CompletionRate  float64 `json:"completion_rate"`
	AverageWaitSec  float64 `json:"average_wait_seconds"`
	TotalRevenue    float64 `json:"total_revenue"`
	TotalCost       float64 `json:"total_cost"`
	Profit          float64 `json:"profit"`
	// Utilization is the share of vehicle time not spent idle.
	Utilization         float64 `json:"utilization_rate"`
	ChargingEnergyKWh   float64 `json:"charging_energy_kwh"`
	ChargingUtilization float64 `json:"charging_utilization"`
}

// Export is the final statistics of a run, handed to reporting and storage.
type Export struct {
	Summary  Summary         `json:"summary"`
	Vehicles []VehicleReport `json:"vehicles"`
	Stations []StationReport `json:"stations"`
}

// Export builds the final statistics of the run so far.
func (e *Engine) Export() Export {
	var out Export
	var idle, revenue, cost float64

	vehicles := e.fleet.All()
	for _, v := range vehicles {
		out.Vehicles = append(out.Vehicles, VehicleReport{
			ID:              v.ID,
			Status:          v.Status.String(),
			BatteryPct:      v.Battery.Percent(),
			DistanceKm:      v.Stats.DistanceKm,
			OrdersCompleted: v.Stats.OrdersCompleted,
			Revenue:         v.Stats.Revenue,
			ChargingCost:    v.Stats.ChargingCost,
			IdleSeconds:     v.Stats.IdleSeconds,
		})
		idle += v.Stats.IdleSeconds
		revenue += v.Stats.Revenue
		cost += v.Stats.ChargingCost
	}

	stations := e.stations.Stations()
	for _, st := range stations {
		out.Stations = append(out.Stations, StationReport{
			ID:             st.ID,
			Node:           st.Node,
			TotalSlots:     st.TotalSlots,
			OccupiedSlots:  st.Occupied(),
			EnergyKWh:      st.EnergyKWh,
			Revenue:        st.Revenue,
			VehiclesServed: st.VehiclesServed,
		})
	}

	bs := e.book.Stats()
	cs := e.stations.Stats()
	util := 0.0
	if fleetTime := float64(len(vehicles)) * e.now; fleetTime > 0 {
		util = 1 - idle/fleetTime
	}

	out.Summary = Summary{
		RunID:               e.runID,
		Location:            e.cfg.Location,
		SimTime:             e.now,
		Vehicles:            len(vehicles),
		Stations:            len(stations),
		OrdersCreated:       bs.Created,
		OrdersCompleted:     bs.Completed,
		OrdersCancelled:     bs.Cancelled,
		CompletionRate:      bs.CompletionRate(),
		AverageWaitSec:      bs.AverageWait(),
		TotalRevenue:        revenue,
		TotalCost:           cost,
		Profit:              revenue - cost,
		Utilization:         util,
		ChargingEnergyKWh:   cs.EnergyKWh,
		ChargingUtilization: cs.Utilization(),
	}
	return out
}
