package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/blackboard"
)

type feedbackRecorder struct {
	texts   []string
	waiting bool
}

func (f *feedbackRecorder) SubmitFeedback(text string) { f.texts = append(f.texts, text) }
func (f *feedbackRecorder) Waiting() bool              { return f.waiting }

func newTestServer(t *testing.T, mutate ...func(*Options)) (*Server, *blackboard.Board) {
	t.Helper()
	board := blackboard.New()
	opts := Options{Board: board}
	for _, m := range mutate {
		m(&opts)
	}
	srv, err := New(opts)
	require.NoError(t, err)
	return srv, board
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestNewRequiresBoard(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "board is required")
}

func TestHealthz(t *testing.T) {
	srv, board := newTestServer(t)
	board.SetPhase("Testing")

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "Testing", body["phase"])

	rec, _ = doJSON(t, srv.Handler(), http.MethodPost, "/healthz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusReportsWaiting(t *testing.T) {
	srv, board := newTestServer(t)
	board.SetPhase("First Code Approach")
	board.IncrementIterations()
	board.BeginWaiting("first_approach", "Review the generated manifests")

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "First Code Approach", body["phase"])
	assert.Equal(t, float64(1), body["iterations"])
	assert.Equal(t, true, body["waiting"])

	interaction, ok := body["interaction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "waiting_for_input:first_approach", interaction["status"])
	assert.Equal(t, "first_approach", interaction["step_name"])
	assert.Equal(t, "Review the generated manifests", interaction["message"])
}

func TestBoardExportHonorsQueryFlags(t *testing.T) {
	srv, board := newTestServer(t)
	board.SetAdvancedPlan("step one, step two")
	board.SetIssues([]blackboard.Issue{
		{Issue: "pod pending", Severity: blackboard.SeverityHigh, CreatedAt: time.Now().UTC()},
		{Issue: "label nit", Severity: blackboard.SeverityLow, CreatedAt: time.Now().UTC()},
	})
	for _, name := range []string{"one", "two", "three"} {
		board.AddRecord(blackboard.Record{Agent: blackboard.RoleEngineer, TaskName: name, TaskDescription: name})
	}

	t.Run("everything visible by default", func(t *testing.T) {
		rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/board", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", body["status"])

		export, ok := body["blackboard"].(map[string]any)
		require.True(t, ok)
		project := export["project"].(map[string]any)
		assert.Equal(t, "step one, step two", project["advanced_plan"])
		assert.Len(t, export["issues"], 2)
		assert.Len(t, export["records"], 3)
	})

	t.Run("flags narrow the view", func(t *testing.T) {
		target := "/api/v1/board?hide_advanced_plan=true&show_low_issues=false&last_records=1"
		rec, body := doJSON(t, srv.Handler(), http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		export := body["blackboard"].(map[string]any)
		project := export["project"].(map[string]any)
		_, hasPlan := project["advanced_plan"]
		assert.False(t, hasPlan, "advanced plan must be hidden")

		issues := export["issues"].([]any)
		require.Len(t, issues, 1)
		assert.Equal(t, "pod pending", issues[0].(map[string]any)["issue"])

		records := export["records"].([]any)
		require.Len(t, records, 1)
		assert.Equal(t, "three", records[0].(map[string]any)["task_name"])
	})
}

func TestFeedbackEndpoint(t *testing.T) {
	recorder := &feedbackRecorder{}
	srv, _ := newTestServer(t, func(o *Options) { o.Feedback = recorder })

	t.Run("submits feedback", func(t *testing.T) {
		rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/feedback",
			map[string]string{"feedback": "approve"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", body["status"])
		require.Len(t, recorder.texts, 1)
		assert.Equal(t, "approve", recorder.texts[0])
	})

	t.Run("rejects empty feedback", func(t *testing.T) {
		rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/feedback",
			map[string]string{"feedback": "   "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "error", body["status"])
		assert.Contains(t, body["message"], "no feedback provided")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects GET", func(t *testing.T) {
		rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/feedback", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestFeedbackWithoutRun(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/feedback",
		map[string]string{"feedback": "approve"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["message"], "no run is accepting feedback")
}

func TestCancelEndpoint(t *testing.T) {
	var cancelled bool
	srv, _ := newTestServer(t, func(o *Options) { o.Cancel = func() { cancelled = true } })

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.True(t, cancelled)
}

func TestCancelWithoutRun(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["message"], "no run in progress")
}

func TestOpsEndpoint(t *testing.T) {
	srv, board := newTestServer(t)
	board.SetPhase("Testing")

	t.Run("applies a batch with per-op results", func(t *testing.T) {
		rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ops", map[string]any{
			"operations": []map[string]any{
				{"action": "get", "path": "phase"},
				{"action": "add", "path": "manifests", "data": map[string]any{
					"file_path": "manifests/web.yaml", "namespace": "web", "description": "frontend"}},
				{"action": "explode", "path": "phase"},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", body["status"])

		results, ok := body["results"].([]any)
		require.True(t, ok)
		require.Len(t, results, 3)

		first := results[0].(map[string]any)
		assert.Equal(t, true, first["success"])
		third := results[2].(map[string]any)
		assert.Equal(t, false, third["success"])
		assert.Contains(t, third["error"], "Invalid action")

		manifests := board.Manifests()
		require.Len(t, manifests, 1)
		assert.Equal(t, "manifests/web.yaml", manifests[0].FilePath)
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/ops",
			map[string]any{"operations": []any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body["message"], "no operations provided")
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ops", strings.NewReader("[oops"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServerStartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) { o.Addr = "127.0.0.1:0" })

	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
