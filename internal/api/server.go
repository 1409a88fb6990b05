// Package api serves the HTTP control surface of the online loop: start and
// stop sessions, read state and counters, and browse the decision log.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/myo.mouse/internal/db"
	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/emg/pipeline"
	"github.com/banshee-data/myo.mouse/internal/emg/report"
	"github.com/banshee-data/myo.mouse/internal/httputil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the session lifecycle the server drives.
type Controller interface {
	Start(ctx context.Context) (*pipeline.Pipeline, error)
	Stop() error
	State() emg.PipelineState
	Status() pipeline.Status
	Current() *pipeline.Pipeline
}

// Retrainer fits a new model from the recordings on disk. Metrics is nil
// when no repetition was held out.
type Retrainer func(ctx context.Context) (*l4classify.Model, *l4classify.Metrics, error)

type Server struct {
	ctl Controller
	db  *db.DB // optional

	mu      sync.RWMutex // guards the fields below
	slot    *l4classify.Slot
	retrain Retrainer
	metrics *l4classify.Metrics
}

// NewServer returns a server driving ctl. database may be nil, in which case
// the session routes answer 404.
func NewServer(ctl Controller, database *db.DB) *Server {
	return &Server{ctl: ctl, db: database}
}

// SetMetrics publishes held-out evaluation metrics on /api/model and
// /api/model/report.
func (s *Server) SetMetrics(m l4classify.Metrics) {
	s.mu.Lock()
	s.metrics = &m
	s.mu.Unlock()
}

// SetRetrainer enables POST /api/model/retrain. The fitted model replaces
// the one in slot and is used from the next session on.
func (s *Server) SetRetrainer(slot *l4classify.Slot, train Retrainer) {
	s.mu.Lock()
	s.slot = slot
	s.retrain = train
	s.mu.Unlock()
}

func (s *Server) retrainer() (*l4classify.Slot, Retrainer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot, s.retrain
}

func (s *Server) currentMetrics() *l4classify.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.start)
	mux.HandleFunc("/api/stop", s.stop)
	mux.HandleFunc("/api/state", s.state)
	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/model", s.model)
	mux.HandleFunc("/api/model/report", s.modelReport)
	mux.HandleFunc("/api/model/retrain", s.retrainModel)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/{id}", s.sessionSummary)
	return mux
}

// writeError maps pipeline errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, emg.ErrInvalidTransition), errors.Is(err, l4classify.ErrModelInUse):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, emg.ErrConfiguration), errors.Is(err, emg.ErrTrainingData):
		httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, db.ErrUnknownSession):
		httputil.NotFound(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	// The session outlives the request.
	p, err := s.ctl.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p.Status())
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctl.Stop(); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

// StateResponse is the body of /api/state.
type StateResponse struct {
	State     emg.PipelineState `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StateResponse{State: s.ctl.State()}
	if p := s.ctl.Current(); p != nil {
		resp.SessionID = p.SessionID()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

// ModelResponse is the body of /api/model.
type ModelResponse struct {
	Summary l4classify.Summary  `json:"summary"`
	Metrics *l4classify.Metrics `json:"metrics,omitempty"`
}

func (s *Server) model(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var m *l4classify.Model
	if slot, _ := s.retrainer(); slot != nil {
		m = slot.Model()
	} else if p := s.ctl.Current(); p != nil {
		m = p.Model()
	}
	if m == nil {
		httputil.NotFound(w, "no session has run yet")
		return
	}
	httputil.WriteJSONOK(w, ModelResponse{Summary: m.Summary(), Metrics: s.currentMetrics()})
}

func (s *Server) retrainModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	slot, train := s.retrainer()
	if train == nil {
		httputil.NotFound(w, "retraining disabled")
		return
	}
	// Training takes seconds; refuse early rather than discard the result.
	if slot.InUse() {
		writeError(w, fmt.Errorf("retrain: %w", l4classify.ErrModelInUse))
		return
	}
	m, met, err := train(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := slot.Swap(m); err != nil {
		writeError(w, fmt.Errorf("retrain: %w", err))
		return
	}
	s.mu.Lock()
	s.metrics = met
	s.mu.Unlock()
	log.Printf("model retrained: classes %v, dim %d", m.Classes(), m.Dim())
	httputil.WriteJSONOK(w, ModelResponse{Summary: m.Summary(), Metrics: met})
}

func (s *Server) modelReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	met := s.currentMetrics()
	if met == nil {
		httputil.NotFound(w, "no evaluation metrics")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderMetrics(w, "Held-out evaluation", *met); err != nil {
		log.Printf("failed to render model report: %v", err)
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "decision log disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	sessions, err := s.db.Sessions(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) sessionSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "decision log disabled")
		return
	}
	sum, err := s.db.SessionSummary(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sum)
}
