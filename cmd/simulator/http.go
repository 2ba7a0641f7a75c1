package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dudusoar/EvsSimulation-sub000/internal/engine"
	"github.com/dudusoar/EvsSimulation-sub000/internal/logging"
	"github.com/dudusoar/EvsSimulation-sub000/internal/observability"
	"github.com/dudusoar/EvsSimulation-sub000/timectrl"
)

type httpServer struct {
	srv *http.Server
}

// newMux exposes metrics, the latest snapshot, the running statistics, the
// clock controls and run reset.
func newMux(session *engine.Session, ctl *timectrl.Controller, collector *observability.FleetCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	mux.Handle("GET /snapshot", collector.InstrumentHandler("snapshot", http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, session.Latest())
		})))

	mux.Handle("GET /stats", collector.InstrumentHandler("stats", http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			var x engine.Export
			_ = session.WithEngine(func(e *engine.Engine) error {
				x = e.Export()
				return nil
			})
			writeJSON(w, http.StatusOK, x)
		})))

	mux.Handle("POST /control/pause", collector.InstrumentHandler("control", http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			ctl.Pause()
			writeJSON(w, http.StatusOK, controlState(ctl))
		})))
	mux.Handle("POST /control/resume", collector.InstrumentHandler("control", http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			ctl.Resume()
			writeJSON(w, http.StatusOK, controlState(ctl))
		})))
	mux.Handle("POST /control/reset", collector.InstrumentHandler("control", http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			if err := session.Reset(); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			snap := session.Latest()
			writeJSON(w, http.StatusOK, map[string]any{"run_id": snap.RunID, "simulation_time": snap.SimTime})
		})))
	mux.Handle("POST /control/speed", collector.InstrumentHandler("control", http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			factor, err := strconv.ParseFloat(r.URL.Query().Get("factor"), 64)
			if err == nil {
				err = ctl.SetSpeed(factor)
			}
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "factor must be a positive number"})
				return
			}
			writeJSON(w, http.StatusOK, controlState(ctl))
		})))
	return mux
}

func controlState(ctl *timectrl.Controller) map[string]any {
	return map[string]any{
		"paused":  ctl.Paused(),
		"speed":   ctl.Speed(),
		"mode":    ctl.Mode().String(),
		"elapsed": ctl.Now().Seconds(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serveHTTP(addr string, session *engine.Session, ctl *timectrl.Controller, collector *observability.FleetCollector, log logging.Logger) *httpServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(session, ctl, collector),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving metrics and snapshots", logging.String("addr", addr))
	return &httpServer{srv: srv}
}

func (s *httpServer) shutdown(log logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warn(ctx, "http server shutdown failed", logging.Err(err))
	}
}
