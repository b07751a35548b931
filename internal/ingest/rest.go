package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gatesight/internal/config"
	"gatesight/internal/metrics"
	"gatesight/internal/model"
	"gatesight/internal/normalize"
)

// RESTServer accepts access events over HTTP POST, one object or an array
// per request, for connectors that cannot publish to Kafka.
type RESTServer struct {
	cfg     *config.Manager
	out     chan<- model.AccessEvent
	logger  *slog.Logger
	metrics *metrics.Pipeline
}

func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.AccessEvent, logger *slog.Logger, m *metrics.Pipeline) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &RESTServer{cfg: cfg, out: out, logger: logger, metrics: m}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", server.handleEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	loc := s.cfg.Get().Location()
	accepted := 0
	rejected := 0

	if trim[0] == '[' {
		var list []map[string]interface{}
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, obj := range list {
			if s.processMap(r.Context(), obj, loc) {
				accepted++
			} else {
				rejected++
			}
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if s.processMap(r.Context(), obj, loc) {
			accepted++
		} else {
			rejected++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func (s *RESTServer) processMap(ctx context.Context, obj map[string]interface{}, loc *time.Location) bool {
	fields := ParseJSONMap(obj)
	if fields == nil {
		return false
	}
	fields.Source = "rest"
	ev, err := normalize.Normalize(*fields, loc)
	if err != nil {
		if s.metrics != nil {
			s.metrics.EventsMalformed.Inc()
		}
		if s.logger != nil {
			s.logger.Warn("rest normalize error", "err", err)
		}
		return false
	}
	return SendNonBlocking(ctx, s.out, ev, s.logger, s.metrics)
}
