package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dudusoar/EvsSimulation-sub000/internal/config"
	"github.com/dudusoar/EvsSimulation-sub000/internal/engine"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/observability"
	"github.com/dudusoar/EvsSimulation-sub000/internal/roadnet"
	"github.com/dudusoar/EvsSimulation-sub000/internal/statsstore"
	"github.com/dudusoar/EvsSimulation-sub000/timectrl"
)

// options are the command-line settings of one simulator process.
type options struct {
	DataDir     string
	Duration    time.Duration
	Mode        timectrl.Mode
	Speed       float64
	HTTPAddr    string
	ExportPath  string
	DatabaseURL string
}

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file with EVSIM_* settings")
	dataDir := flag.String("data-dir", "data", "directory holding <location>.json road graphs")
	duration := flag.Duration("duration", time.Hour, "simulated time to run; 0 runs until interrupted")
	mode := flag.String("mode", "accelerated", "realtime or accelerated")
	speed := flag.Float64("speed", 1, "real-time speed factor")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for /metrics and /snapshot; empty disables")
	exportPath := flag.String("export", "-", "file for the final statistics JSON; - writes to stdout")
	recentRuns := flag.Int("recent-runs", 0, "list the N most recently saved runs from DATABASE_URL and exit")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: reading %s: %v\n", *envFile, err)
	}

	log := logging.NewFromEnv(os.Stderr)

	m, err := timectrl.ParseMode(strings.ToLower(*mode))
	if err != nil {
		log.Error(context.Background(), "invalid mode", logging.Err(err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *recentRuns > 0 {
		if err := listRuns(ctx, strings.TrimSpace(os.Getenv("DATABASE_URL")), *recentRuns, os.Stdout, log); err != nil {
			log.Error(context.Background(), "listing runs failed", logging.Err(err))
			os.Exit(1)
		}
		return
	}

	opts := options{
		DataDir:     *dataDir,
		Duration:    *duration,
		Mode:        m,
		Speed:       *speed,
		HTTPAddr:    *httpAddr,
		ExportPath:  *exportPath,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	if err := run(ctx, opts, log); err != nil {
		log.Error(context.Background(), "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run loads the network, drives one session until the duration elapses or
// ctx ends, and writes the final statistics.
func run(ctx context.Context, opts options, log logging.Logger) error {
	log = logging.OrNoop(log)

	cfg, err := config.FromEnv(config.Default())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tcfg := observability.TracingConfigFromEnv()
	tcfg.Scenario = observability.ScenarioFromConfig(cfg)
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	net, err := roadnet.LoadFile(roadnet.LocationPath(opts.DataDir, cfg.Location), cfg.DefaultSpeedKph)
	if err != nil {
		return err
	}
	log.Info(ctx, "road network loaded",
		logging.String("location", cfg.Location),
		logging.Int("nodes", net.NodeCount()),
		logging.Int("edges", net.EdgeCount()),
	)

	collector, err := observability.NewFleetCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	session, err := engine.NewSession(func() (*engine.Engine, error) {
		return engine.New(cfg, net,
			engine.WithLogger(log),
			engine.WithMetricsRecorder(collector),
		)
	})
	if err != nil {
		return err
	}

	ctl := timectrl.New(cfg.TickDuration(), opts.Mode)
	if err := ctl.SetSpeed(opts.Speed); err != nil {
		return err
	}
	ctl.AddListener(func(ctx context.Context, _ time.Duration) {
		session.Step(ctx)
	})

	var srv *httpServer
	if opts.HTTPAddr != "" {
		srv = serveHTTP(opts.HTTPAddr, session, ctl, collector, log)
	}

	log.Info(ctx, "simulation started",
		logging.String("mode", opts.Mode.String()),
		logging.Float("speed", opts.Speed),
		logging.String("duration", opts.Duration.String()),
	)
	<-ctl.Start(ctx, opts.Duration)

	if srv != nil {
		srv.shutdown(log)
	}

	var export engine.Export
	_ = session.WithEngine(func(e *engine.Engine) error {
		if err := e.CheckInvariants(); err != nil {
			log.Warn(ctx, "run ended in an inconsistent state", logging.Err(err))
		}
		export = e.Export()
		return nil
	})
	log.Info(context.Background(), "simulation finished",
		logging.String("run_id", export.Summary.RunID),
		logging.Float("sim_time", export.Summary.SimTime),
		logging.Int("orders_completed", export.Summary.OrdersCompleted),
		logging.Float("profit", export.Summary.Profit),
	)

	if err := writeExport(opts.ExportPath, export); err != nil {
		return err
	}
	if opts.DatabaseURL != "" {
		if err := saveExport(context.Background(), opts.DatabaseURL, export, log); err != nil {
			return err
		}
	}
	return nil
}

func writeExport(path string, x engine.Export) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(x); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func saveExport(ctx context.Context, databaseURL string, x engine.Export, log logging.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := statsstore.Open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	store := statsstore.New(db, log)
	if err := store.InitSchema(ctx); err != nil {
		return err
	}
	if err := store.SaveRun(ctx, x); err != nil {
		return err
	}
	log.Info(ctx, "run statistics saved", logging.String("run_id", x.Summary.RunID))
	return nil
}

var errNoDatabase = errors.New("DATABASE_URL is not set")

// listRuns writes the limit most recent stored runs to w as JSON.
func listRuns(ctx context.Context, databaseURL string, limit int, w io.Writer, log logging.Logger) error {
	if databaseURL == "" {
		return errNoDatabase
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := statsstore.Open(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := statsstore.New(db, log).RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}
