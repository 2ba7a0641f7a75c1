// Package statsstore persists the final statistics of simulation runs to
// Postgres through database/sql and the pgx driver.
package statsstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dudusoar/EvsSimulation-sub000/internal/engine"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
)

// ErrNilDB is returned when a Store operation runs without a database.
var ErrNilDB = errors.New("statsstore: db is nil")

// Open connects to databaseURL with the pgx driver and verifies the
// connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("statsstore: open postgres database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statsstore: verify postgres connection: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sim_runs (
		run_id TEXT PRIMARY KEY,
		location TEXT NOT NULL,
		simulation_time DOUBLE PRECISION NOT NULL,
		vehicles INTEGER NOT NULL,
		stations INTEGER NOT NULL,
		orders_created INTEGER NOT NULL,
		orders_completed INTEGER NOT NULL,
		orders_cancelled INTEGER NOT NULL,
		completion_rate DOUBLE PRECISION NOT NULL,
		average_wait_seconds DOUBLE PRECISION NOT NULL,
		total_revenue DOUBLE PRECISION NOT NULL,
		total_cost DOUBLE PRECISION NOT NULL,
		utilization_rate DOUBLE PRECISION NOT NULL,
		charging_energy_kwh DOUBLE PRECISION NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS sim_vehicle_stats (
		run_id TEXT NOT NULL REFERENCES sim_runs(run_id) ON DELETE CASCADE,
		vehicle_id TEXT NOT NULL,
		status TEXT NOT NULL,
		battery_percentage DOUBLE PRECISION NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		orders_completed INTEGER NOT NULL,
		revenue DOUBLE PRECISION NOT NULL,
		charging_cost DOUBLE PRECISION NOT NULL,
		idle_seconds DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, vehicle_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sim_station_stats (
		run_id TEXT NOT NULL REFERENCES sim_runs(run_id) ON DELETE CASCADE,
		station_id TEXT NOT NULL,
		node BIGINT NOT NULL,
		total_slots INTEGER NOT NULL,
		energy_kwh DOUBLE PRECISION NOT NULL,
		revenue DOUBLE PRECISION NOT NULL,
		vehicles_served INTEGER NOT NULL,
		PRIMARY KEY (run_id, station_id)
	);`,
}

// Store writes run exports. A Store with a nil DB fails every call with
// ErrNilDB.
type Store struct {
	DB  *sql.DB
	log logging.Logger
}

// New wraps db. A nil logger disables operation timing logs.
func New(db *sql.DB, log logging.Logger) *Store {
	return &Store{DB: db, log: logging.OrNoop(log)}
}

// InitSchema creates the run tables when they do not exist.
func (s *Store) InitSchema(ctx context.Context) (err error) {
	defer s.time(ctx, "statsstore.InitSchema")(&err)

	if s.DB == nil {
		return ErrNilDB
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}
	return nil
}

// SaveRun stores the summary and per-vehicle and per-station rows of one
// run in a single transaction. Saving the same run id again replaces it.
func (s *Store) SaveRun(ctx context.Context, x engine.Export) (err error) {
	defer s.time(ctx, "statsstore.SaveRun")(&err)

	if s.DB == nil {
		return ErrNilDB
	}
	sum := x.Summary
	if sum.RunID == "" {
		return errors.New("save run: run id must not be empty")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sim_runs WHERE run_id = $1;`, sum.RunID); err != nil {
		return fmt.Errorf("save run: clear previous run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO sim_runs (
		run_id, location, simulation_time, vehicles, stations,
		orders_created, orders_completed, orders_cancelled, completion_rate,
		average_wait_seconds, total_revenue, total_cost, utilization_rate,
		charging_energy_kwh
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
	`,
		sum.RunID, sum.Location, sum.SimTime, sum.Vehicles, sum.Stations,
		sum.OrdersCreated, sum.OrdersCompleted, sum.OrdersCancelled, sum.CompletionRate,
		sum.AverageWaitSec, sum.TotalRevenue, sum.TotalCost, sum.Utilization,
		sum.ChargingEnergyKWh,
	)
	if err != nil {
		return fmt.Errorf("save run: insert summary: %w", err)
	}

	vstmt, err := tx.PrepareContext(ctx, `
	INSERT INTO sim_vehicle_stats (
		run_id, vehicle_id, status, battery_percentage, distance_km,
		orders_completed, revenue, charging_cost, idle_seconds
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`)
	if err != nil {
		return fmt.Errorf("save run: prepare vehicle insert: %w", err)
	}
	defer vstmt.Close()
	for _, v := range x.Vehicles {
		if _, err := vstmt.ExecContext(ctx, sum.RunID, v.ID, v.Status, v.BatteryPct, v.DistanceKm,
			v.OrdersCompleted, v.Revenue, v.ChargingCost, v.IdleSeconds); err != nil {
			return fmt.Errorf("save run: insert vehicle %s: %w", v.ID, err)
		}
	}

	sstmt, err := tx.PrepareContext(ctx, `
	INSERT INTO sim_station_stats (
		run_id, station_id, node, total_slots, energy_kwh, revenue, vehicles_served
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7);
	`)
	if err != nil {
		return fmt.Errorf("save run: prepare station insert: %w", err)
	}
	defer sstmt.Close()
	for _, st := range x.Stations {
		if _, err := sstmt.ExecContext(ctx, sum.RunID, st.ID, st.Node, st.TotalSlots,
			st.EnergyKWh, st.Revenue, st.VehiclesServed); err != nil {
			return fmt.Errorf("save run: insert station %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: commit tx: %w", err)
	}
	return nil
}

// RunSummary is one stored run as listed by RecentRuns.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Location        string    `json:"location"`
	OrdersCompleted int       `json:"orders_completed"`
	Profit          float64   `json:"profit"`
	SavedAt         time.Time `json:"saved_at"`
}

// RecentRuns returns up to limit stored runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) (_ []RunSummary, err error) {
	defer s.time(ctx, "statsstore.RecentRuns")(&err)

	if s.DB == nil {
		return nil, ErrNilDB
	}
	if limit <= 0 {
		return []RunSummary{}, nil
	}

	rows, err := s.DB.QueryContext(ctx, `
	SELECT run_id, location, orders_completed, total_revenue - total_cost, saved_at
	FROM sim_runs
	ORDER BY saved_at DESC
	LIMIT $1;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: query sim_runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0, limit)
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Location, &r.OrdersCompleted, &r.Profit, &r.SavedAt); err != nil {
			return nil, fmt.Errorf("recent runs: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent runs: iterate rows: %w", err)
	}
	return out, nil
}

// time logs the duration and outcome of the operation name when the returned
// func runs.
func (s *Store) time(ctx context.Context, name string) func(errp *error) {
	start := time.Now()
	log := logging.OrNoop(s.log)
	return func(errp *error) {
		fields := []logging.Field{
			logging.String("op", name),
			logging.Int("dur_ms", int(time.Since(start).Milliseconds())),
		}
		if errp != nil && *errp != nil {
			log.Warn(ctx, "store operation failed", append(fields, logging.Err(*errp))...)
			return
		}
		log.Debug(ctx, "store operation", fields...)
	}
}
