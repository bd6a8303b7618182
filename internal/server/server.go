// Package server exposes the control API for a pipeline run: a health
// probe, board reads, operator feedback, cancellation and raw path
// operations. It is how UIs and scripts drive an assisted run.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dyluth/drey/pkg/blackboard"
)

// Feedback is the slice of the interaction coordinator the API needs.
type Feedback interface {
	SubmitFeedback(text string)
	Waiting() bool
}

// Options wires the control API to a run.
type Options struct {
	Addr     string            // Listen address, default ":8181"
	Board    *blackboard.Board // Required
	Feedback Feedback          // nil rejects POST /api/v1/feedback
	Cancel   func()            // nil rejects POST /api/v1/cancel
	Logger   *zap.Logger
}

// Server serves the control API over HTTP.
type Server struct {
	addr     string
	board    *blackboard.Board
	feedback Feedback
	cancel   func()
	logger   *zap.Logger
	server   *http.Server
}

// New builds a Server. The listener is not opened until Start.
func New(opts Options) (*Server, error) {
	if opts.Board == nil {
		return nil, fmt.Errorf("board is required")
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8181"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		board:    opts.Board,
		feedback: opts.Feedback,
		cancel:   opts.Cancel,
		logger:   logger.Named("server"),
	}, nil
}

// Handler returns the API routes. It is separate from Start so tests can
// drive the handlers without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/api/v1/status", s.statusHandler)
	mux.HandleFunc("/api/v1/board", s.boardHandler)
	mux.HandleFunc("/api/v1/feedback", s.feedbackHandler)
	mux.HandleFunc("/api/v1/cancel", s.cancelHandler)
	mux.HandleFunc("/api/v1/ops", s.opsHandler)
	return mux
}

// Start opens the listener and serves in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control API server failed", zap.Error(err))
		}
	}()

	s.logger.Info("control API listening", zap.String("addr", s.addr))
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Phase  string `json:"phase,omitempty"`
}

// healthHandler handles GET /healthz requests. The board lives in this
// process, so a served request is a healthy one.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "healthy",
		Phase:  s.board.Phase(),
	})
}

// StatusResponse summarizes where the run is and whether it waits on the
// operator.
type StatusResponse struct {
	Phase       string                 `json:"phase"`
	Iterations  int                    `json:"iterations"`
	Interaction blackboard.Interaction `json:"interaction"`
	Waiting     bool                   `json:"waiting"`
}

// statusHandler handles GET /api/v1/status requests.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state := s.board.InteractionState()
	writeJSON(w, http.StatusOK, StatusResponse{
		Phase:       s.board.Phase(),
		Iterations:  s.board.Iterations(),
		Interaction: state,
		Waiting:     state.IsWaitingForInput,
	})
}

// boardHandler handles GET /api/v1/board requests. The full board is the
// default; query flags narrow it down to the same filtered views tasks get.
func (s *Server) boardHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := s.board.Export(exportOptionsFromQuery(r.URL.Query()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read blackboard: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"blackboard": data,
	})
}

// exportOptionsFromQuery maps query flags onto ExportOptions. Everything is
// visible unless a flag says otherwise.
func exportOptionsFromQuery(q url.Values) blackboard.ExportOptions {
	opts := blackboard.ExportOptions{
		HideAdvancedPlan: queryFlag(q, "hide_advanced_plan", false),
		HideBasicPlan:    queryFlag(q, "hide_basic_plan", false),
		ShowHighIssues:   queryFlag(q, "show_high_issues", true),
		ShowMediumIssues: queryFlag(q, "show_medium_issues", true),
		ShowLowIssues:    queryFlag(q, "show_low_issues", true),
	}
	if raw := q.Get("last_records"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.LastRecords = n
		}
	}
	return opts
}

// queryFlag parses a boolean query parameter, falling back to def when the
// parameter is absent or malformed.
func queryFlag(q url.Values, name string, def bool) bool {
	raw := q.Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// FeedbackRequest is the body of POST /api/v1/feedback. Approval is the
// feedback text "approve".
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
}

// feedbackHandler handles POST /api/v1/feedback requests.
func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.feedback == nil {
		writeError(w, http.StatusConflict, "no run is accepting feedback")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		writeError(w, http.StatusBadRequest, "no feedback provided")
		return
	}

	s.feedback.SubmitFeedback(req.Feedback)
	s.logger.Info("operator feedback submitted", zap.Int("length", len(req.Feedback)))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "feedback submitted",
	})
}

// cancelHandler handles POST /api/v1/cancel requests. Cancellation is a
// signal; the run stops at its next boundary check.
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cancel == nil {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}

	s.cancel()
	s.logger.Info("run cancellation requested")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "run cancellation requested",
	})
}

// OpsRequest is the body of POST /api/v1/ops, the same operation batch
// shape task commands print in their results.
type OpsRequest struct {
	Operations []blackboard.Operation `json:"operations"`
}

// opsHandler handles POST /api/v1/ops requests. Operations apply
// independently; per-operation failures are reported in the results, not as
// an HTTP error.
func (s *Server) opsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req OpsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "no operations provided")
		return
	}

	results := s.board.Apply(req.Operations)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"results": results,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{
		"status":  "error",
		"message": message,
	})
}
