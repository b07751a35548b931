package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"gatesight/internal/anomaly"
	"gatesight/internal/baseline"
	"gatesight/internal/config"
	"gatesight/internal/freshness"
	"gatesight/internal/metrics"
	"gatesight/internal/model"
	"gatesight/internal/rollup"
)

// Server is the read-only query surface consumed by the dashboard and
// alerting layers. Every data route requires a tenant parameter; nothing
// here mutates pipeline state.
type Server struct {
	cfg       *config.Manager
	rollups   *rollup.Store
	baselines *baseline.Store
	detector  *anomaly.Detector
	monitor   *freshness.Monitor
	logger    *slog.Logger
	version   string
}

func Start(ctx context.Context, cfg *config.Manager, rollups *rollup.Store, baselines *baseline.Store, detector *anomaly.Detector, monitor *freshness.Monitor, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		rollups:   rollups,
		baselines: baselines,
		detector:  detector,
		monitor:   monitor,
		logger:    logger,
		version:   version,
	}
	router := mux.NewRouter()
	router.HandleFunc("/status", server.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/rollups/minute", server.handleMinuteRollups).Methods(http.MethodGet)
	router.HandleFunc("/rollups/hour", server.handleHourRollups).Methods(http.MethodGet)
	router.HandleFunc("/anomalies", server.handleAnomalies).Methods(http.MethodGet)
	router.HandleFunc("/baselines", server.handleBaselines).Methods(http.MethodGet)
	router.HandleFunc("/freshness", server.handleFreshness).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: current.Addr, Handler: handlers.LoggingHandler(os.Stdout, router)}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

type statusResponse struct {
	Status   string   `json:"status"`
	Time     string   `json:"time"`
	Version  string   `json:"version"`
	Timezone string   `json:"timezone"`
	Tenants  []string `json:"tenants"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
		Version:  s.version,
		Timezone: cfg.Timezone,
		Tenants:  cfg.Tenants,
	})
}

// tenantParam pulls the mandatory tenant scope out of the query string.
// There is deliberately no "all tenants" form on data routes.
func tenantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant parameter required"})
		return "", false
	}
	return tenant, true
}

func timeWindow(r *http.Request, span time.Duration) (time.Time, time.Time) {
	now := time.Now().UTC()
	from := now.Add(-span)
	to := now.Add(time.Minute)
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t.UTC()
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t.UTC()
		}
	}
	return from, to
}

func (s *Server) handleMinuteRollups(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantParam(w, r)
	if !ok {
		return
	}
	from, to := timeWindow(r, time.Hour)
	rows := s.rollups.MinuteRange(tenant, from, to)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"rollups":   rows,
		"count":     len(rows),
	})
}

func (s *Server) handleHourRollups(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantParam(w, r)
	if !ok {
		return
	}
	from, to := timeWindow(r, 24*time.Hour)
	rows := s.rollups.HourRange(tenant, from, to)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"rollups":   rows,
		"count":     len(rows),
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantParam(w, r)
	if !ok {
		return
	}
	th := anomaly.ThresholdsFromConfig(s.cfg.Get().Anomaly)
	q := r.URL.Query()
	if v := q.Get("lookback_minutes"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			th.Lookback = time.Duration(n) * time.Minute
		}
	}
	if v := q.Get("floor"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			th.AbsoluteFloor = f
		}
	}
	if v := q.Get("relative_threshold"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			th.RelativeThreshold = f
		}
	}
	if v := q.Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			th.TopK = n
		}
	}
	now := time.Now().UTC()
	if v := q.Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid at timestamp"})
			return
		}
		now = t.UTC()
	}
	// An empty list is the normal quiet-state answer, not an error.
	candidates := s.detector.Detect(tenant, now, th)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tenant,
		"at":         now.Format(time.RFC3339Nano),
		"candidates": candidates,
		"count":      len(candidates),
	})
}

func (s *Server) handleBaselines(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantParam(w, r)
	if !ok {
		return
	}
	rows := s.baselines.All(tenant)
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenant,
		"baselines": rows,
		"count":     len(rows),
	})
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant != "" {
		report, err := s.monitor.Report(r.Context(), tenant)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}
	reports := make([]model.FreshnessReport, 0)
	for _, t := range s.cfg.Get().Tenants {
		report, err := s.monitor.Report(r.Context(), t)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		reports = append(reports, report)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
