package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
	apimw "github.com/hamed0406/servicewatch/internal/httpapi/middleware"
	"github.com/hamed0406/servicewatch/internal/monitor"
	"github.com/hamed0406/servicewatch/internal/repo"
	"github.com/hamed0406/servicewatch/internal/scheduler"
)

type Server struct {
	Logger       *zap.Logger
	Registry     *config.Registry
	Dispatcher   *monitor.Dispatcher
	Scheduler    *scheduler.Scheduler
	Observations repo.ObservationStore
	States       repo.StateStore
}

func NewServer(
	l *zap.Logger,
	reg *config.Registry,
	d *monitor.Dispatcher,
	s *scheduler.Scheduler,
	obs repo.ObservationStore,
	states repo.StateStore,
) *Server {
	return &Server{Logger: l, Registry: reg, Dispatcher: d, Scheduler: s, Observations: obs, States: states}
}

// Router wires the API. Reads need any key, writes an admin key; each class
// has its own rate limit (requests per minute, burst).
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(corsHandler(origins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAny(keys), apimw.RateLimit(pubRPM, pubBurst))
		r.Get("/api/monitors", s.handleListMonitors)
		r.Get("/api/monitors/history", s.handleHistory)
		r.Get("/api/states", s.handleStates)
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAdmin(keys), apimw.RateLimit(admRPM, admBurst))
		r.Post("/api/monitors", s.handleAddMonitor)
		r.Delete("/api/monitors", s.handleRemoveMonitor)
		r.Post("/api/monitors/probe", s.handleProbe)
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	})
}

type monitorView struct {
	URI      string             `json:"uri"`
	Type     domain.ServiceType `json:"type"`
	Address  string             `json:"address"`
	Interval float64            `json:"interval_s"`
	Timeout  float64            `json:"timeout_s"`
	Params   map[string]string  `json:"params,omitempty"`
	Stage    string             `json:"stage"`
	InFlight bool               `json:"in_flight"`
	NextRun  *time.Time         `json:"next_run,omitempty"`
	Last     *domain.Outcome    `json:"last,omitempty"`
}

func (s *Server) view(m *monitor.Monitor) monitorView {
	p := m.Params()
	v := monitorView{
		URI:      m.URI().Raw,
		Type:     m.Type(),
		Address:  p.Address(),
		Interval: m.Interval().Seconds(),
		Timeout:  p.Timeout.Seconds(),
		Params:   p.Extras(),
		Stage:    m.Stage().String(),
		InFlight: m.InFlight(),
	}
	if next := s.Scheduler.Next(v.URI); !next.IsZero() {
		v.NextRun = &next
	}
	if o, ok := m.LastOutcome(); ok {
		v.Last = &o
	}
	return v
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	ms := s.Scheduler.Monitors()
	out := make([]monitorView, 0, len(ms))
	for _, m := range ms {
		out = append(out, s.view(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.Observations.History(r.Context(), uri, limit)
	if err != nil {
		s.Logger.Warn("history_error", zap.String("service", uri), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history error")
		return
	}
	if rows == nil {
		rows = []domain.Observation{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	rows, err := s.States.List(r.Context())
	if err != nil {
		s.Logger.Warn("states_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "states error")
		return
	}
	if rows == nil {
		rows = []repo.StateRecord{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleAddMonitor registers a service, builds and schedules its monitor and
// runs a first probe so the caller gets immediate feedback.
func (s *Server) handleAddMonitor(w http.ResponseWriter, r *http.Request) {
	var sc config.ServiceConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	sc.URI = strings.TrimSpace(sc.URI)
	if sc.URI == "" {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	if err := s.Registry.Add(sc); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	m, err := s.Dispatcher.New(sc.URI)
	if err == nil {
		err = s.Scheduler.Register(m)
	}
	if err != nil {
		s.Registry.Remove(sc.URI)
		writeError(w, statusFor(err), err.Error())
		return
	}

	if err := m.Run(r.Context()); err != nil && !errors.Is(err, monitor.ErrProbeInFlight) {
		s.Logger.Warn("first_probe_error", zap.String("service", sc.URI), zap.Error(err))
	}
	s.Logger.Info("monitor_added",
		zap.String("service", m.URI().Raw),
		zap.String("type", string(m.Type())),
		zap.Duration("interval", m.Interval()),
	)
	writeJSON(w, http.StatusCreated, s.view(m))
}

func (s *Server) handleRemoveMonitor(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}
	scheduled := s.Scheduler.Unregister(uri)
	configured := s.Registry.Remove(uri)
	if !scheduled && !configured {
		writeError(w, http.StatusNotFound, "no such monitor")
		return
	}
	s.Logger.Info("monitor_removed", zap.String("service", uri))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	m, ok := s.Scheduler.Lookup(uri)
	if !ok {
		writeError(w, http.StatusNotFound, "no such monitor")
		return
	}
	switch err := m.Run(r.Context()); {
	case errors.Is(err, monitor.ErrProbeInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, monitor.ErrStopped):
		writeError(w, http.StatusNotFound, "no such monitor")
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.view(m))
}

// statusFor maps registration errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupportedProtocolType):
		return http.StatusBadRequest
	case errors.Is(err, config.ErrDuplicateService), errors.Is(err, scheduler.ErrAlreadyScheduled):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

const maxHistoryLimit = 1000

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return repo.DefaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
