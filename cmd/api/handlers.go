package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/engine/pipeline"
	"github.com/WessleyAI/pulse/engine/report"
	"github.com/WessleyAI/pulse/engine/store"
)

// Runner executes one research session; *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

// SessionLister reads the session index; *store.Index satisfies it.
type SessionLister interface {
	List(ctx context.Context, limit int) ([]store.SessionRow, error)
	Get(ctx context.Context, id string) (store.SessionRow, error)
}

type server struct {
	runCtx   context.Context
	runner   Runner
	index    SessionLister
	sessions *store.Sessions
	metrics  http.Handler
	log      *slog.Logger
	runs     sync.WaitGroup
}

func newServer(runCtx context.Context, runner Runner, index SessionLister, sessions *store.Sessions, metrics http.Handler, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{runCtx: runCtx, runner: runner, index: index, sessions: sessions, metrics: metrics, log: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/research", s.handleResearch)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/report", s.handleReport)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// wait blocks until background sessions return.
func (s *server) wait() { s.runs.Wait() }

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResearchRequest is the JSON body for POST /api/research.
type ResearchRequest struct {
	Query     string            `json:"query"`
	Context   map[string]string `json:"context,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	// Wait runs the session inside the request instead of in the background.
	Wait bool `json:"wait,omitempty"`
}

// ResearchAccepted is returned for background sessions.
type ResearchAccepted struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req ResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if err := validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	preq := pipeline.Request{Query: req.Query, Context: req.Context, SessionID: req.SessionID}

	if req.Wait {
		out, err := s.runner.Run(r.Context(), preq)
		if err != nil {
			s.log.Error("research session failed", "session", req.SessionID, "err", err)
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.runner.Run(s.runCtx, preq); err != nil {
			s.log.Error("research session failed", "session", preq.SessionID, "err", err)
		}
	}()
	w.Header().Set("Location", "/api/sessions/"+req.SessionID)
	writeJSON(w, http.StatusAccepted, ResearchAccepted{SessionID: req.SessionID, Status: store.StatusRunning})
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	rows, err := s.index.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list sessions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rows == nil {
		rows = []store.SessionRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": rows})
}

// SessionResponse is the JSON body of GET /api/sessions/{id}.
type SessionResponse struct {
	Session store.SessionRow `json:"session"`
	Report  *report.Result   `json:"report,omitempty"`
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := domain.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := s.index.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp := SessionResponse{Session: row}
	if s.sessions != nil {
		if res, err := report.Load(s.sessions, id); err == nil {
			resp.Report = &res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := domain.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, domain.ErrSessionNotFound.Error())
		return
	}
	name := store.FinalReport
	if r.URL.Query().Get("variant") == "complete" {
		name = store.CompleteReport
	}
	data, err := s.sessions.ReadFile(id, name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(data)
}

// --- Helpers ---

func validate(req ResearchRequest) error {
	if err := domain.ValidateQuery(req.Query); err != nil {
		return err
	}
	if err := domain.ValidateContext(req.Context); err != nil {
		return err
	}
	return domain.ValidateSessionID(req.SessionID)
}

func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
