// Package api exposes the HTTP interface for the meter service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/aggregate"
	"github.com/openusage/meterd/internal/batch"
	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/metrics"
	"github.com/openusage/meterd/internal/pace"
	"github.com/openusage/meterd/internal/scheduler"
	"github.com/openusage/meterd/internal/state"
)

// Refresher fields the user-initiated refresh actions.
type Refresher interface {
	Retry(ctx context.Context, id meter.SourceID) error
	RefreshAll(ctx context.Context) ([]meter.SourceID, error)
}

// Server wires HTTP handlers to the orchestration engine.
type Server struct {
	router    chi.Router
	states    *state.Reducer
	sched     *scheduler.Scheduler
	refresher Refresher
	settings  meter.Settings
	metas     map[meter.SourceID]meter.SourceMeta
	mode      meter.DisplayMode
	aggCfg    aggregate.Config
	clock     meter.Clock
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	states *state.Reducer,
	sched *scheduler.Scheduler,
	refresher Refresher,
	settings meter.Settings,
	metas map[meter.SourceID]meter.SourceMeta,
	mode meter.DisplayMode,
	aggCfg aggregate.Config,
	clock meter.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		states:    states,
		sched:     sched,
		refresher: refresher,
		settings:  settings,
		metas:     metas,
		mode:      mode,
		aggCfg:    aggCfg,
		clock:     clock,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", s.getSources)
		r.Post("/sources/{source_id}/retry", s.retrySource)
		r.Post("/refresh", s.refreshAll)
		r.Get("/schedule", s.getSchedule)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getSources(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	enabled := s.settings.Enabled()
	states := s.states.Snapshot()

	views := make([]sourceView, 0, len(enabled))
	for _, id := range enabled {
		views = append(views, s.buildView(id, states, now))
	}
	agg := aggregate.Reduce(enabled, s.metas, states, s.mode, s.aggCfg)

	writeJSON(w, http.StatusOK, sourcesResponse{
		DisplayMode: string(s.mode),
		Sources:     views,
		Aggregate:   agg,
	})
}

func (s *Server) retrySource(w http.ResponseWriter, r *http.Request) {
	id := meter.SourceID(chi.URLParam(r, "source_id"))
	if !s.settings.IsEnabled(id) {
		writeError(w, http.StatusNotFound, "unknown or disabled source")
		return
	}
	if err := s.refresher.Retry(r.Context(), id); err != nil {
		status := http.StatusBadGateway
		if !errors.Is(err, batch.ErrDispatch) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"source_id": string(id)})
}

func (s *Server) refreshAll(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.refresher.RefreshAll(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(refreshed) == 0 {
		writeJSON(w, http.StatusOK, refreshResponse{Refreshed: []meter.SourceID{}})
		return
	}
	writeJSON(w, http.StatusAccepted, refreshResponse{Refreshed: refreshed})
}

func (s *Server) getSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scheduleResponse{
		NextUpdateAt:    s.sched.NextUpdateAt(),
		IntervalMinutes: int(s.sched.Interval() / time.Minute),
	})
}

func (s *Server) buildView(id meter.SourceID, states map[meter.SourceID]state.SourceState, now time.Time) sourceView {
	meta := s.metas[id]
	view := sourceView{
		ID:      id,
		Name:    meta.Name,
		IconURL: meta.IconURL,
	}
	st, probed := states[id]
	if !probed {
		return view
	}
	view.Loading = st.Loading
	view.Error = st.Err
	view.Data = st.Data
	if !st.LastManualRefreshAt.IsZero() {
		at := st.LastManualRefreshAt
		view.LastManualRefreshAt = &at
	}
	if st.Data != nil {
		view.Pace, view.TimeToLimit = projectPace(*st.Data, meta.PrimaryCandidates, now)
	}
	return view
}

// projectPace classifies the source's primary progress line, when it carries
// enough period information to extrapolate.
func projectPace(output meter.PluginOutput, candidates []string, now time.Time) (*pace.Result, string) {
	for _, label := range candidates {
		for _, line := range output.Lines {
			if line.Kind != meter.LineProgress || line.Label != label {
				continue
			}
			if line.ResetsAt == nil || line.PeriodDuration <= 0 {
				return nil, ""
			}
			res := pace.Classify(line.Used, line.Limit, *line.ResetsAt, line.PeriodDuration, now)
			if res == nil || res.Status != pace.Behind {
				return res, ""
			}
			eta, ok := pace.TimeToLimit(line.Used, line.Limit, *line.ResetsAt, line.PeriodDuration, now)
			if !ok {
				return res, ""
			}
			formatted, _ := pace.FormatCompactDuration(eta)
			return res, formatted
		}
	}
	return nil, ""
}

type sourcesResponse struct {
	DisplayMode string            `json:"display_mode"`
	Sources     []sourceView      `json:"sources"`
	Aggregate   []aggregate.Entry `json:"aggregate"`
}

type sourceView struct {
	ID                  meter.SourceID      `json:"id"`
	Name                string              `json:"name"`
	IconURL             string              `json:"icon_url,omitempty"`
	Loading             bool                `json:"loading"`
	Error               string              `json:"error,omitempty"`
	Data                *meter.PluginOutput `json:"data,omitempty"`
	Pace                *pace.Result        `json:"pace,omitempty"`
	TimeToLimit         string              `json:"time_to_limit,omitempty"`
	LastManualRefreshAt *time.Time          `json:"last_manual_refresh_at,omitempty"`
}

type refreshResponse struct {
	Refreshed []meter.SourceID `json:"refreshed"`
}

type scheduleResponse struct {
	NextUpdateAt    *time.Time `json:"next_update_at"`
	IntervalMinutes int        `json:"interval_minutes"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
