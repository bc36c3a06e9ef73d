package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tutortoise/face-overlay/pipeline"
)

type monitor struct {
	stats   *pipeline.Stats
	started time.Time
}

type metricsResponse struct {
	pipeline.StatsSnapshot
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m *monitor) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", m.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", m.handleHealth).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendErrorResponse(w, "not_found", fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendErrorResponse(w, "method_not_allowed", r.Method+" is not supported", http.StatusMethodNotAllowed)
	})
}

func (m *monitor) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := metricsResponse{
		StatsSnapshot: m.stats.Snapshot(),
		UptimeSeconds: time.Since(m.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (m *monitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// serveMonitor listens on addr and serves the monitoring routes in the
// background. The returned function shuts the server down.
func serveMonitor(addr string, stats *pipeline.Stats, logger *zap.SugaredLogger) (func(context.Context) error, error) {
	m := &monitor{stats: stats, started: time.Now()}
	r := mux.NewRouter()
	m.addMonitoringRoutes(r)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("monitor listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      r,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("monitor server stopped", "error", err)
		}
	}()
	logger.Infow("serving metrics", "addr", ln.Addr().String())
	return srv.Shutdown, nil
}
