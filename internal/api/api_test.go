package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/xaenox/mail-pilot/internal/cluster"
	"github.com/xaenox/mail-pilot/internal/llm"
	"github.com/xaenox/mail-pilot/internal/models"
	"github.com/xaenox/mail-pilot/internal/pipeline"
	"github.com/xaenox/mail-pilot/internal/reply"
	"github.com/xaenox/mail-pilot/internal/risk"
	"github.com/xaenox/mail-pilot/internal/source"
	"github.com/xaenox/mail-pilot/internal/storage"
)

var testMessages = []models.Message{
	{ID: "m1", Sender: "billing@acme.com", Subject: "Invoice due", Body: "Your invoice payment is due Friday."},
	{ID: "m2", Sender: "pat@partner.com", Subject: "Meeting", Body: "Can we meet on Tuesday to review the agenda?"},
	{ID: "m3", Sender: "ci@github.com", Subject: "Build failed", Body: "The pipeline build failed on main."},
}

type testEnv struct {
	srv   *Server
	pipe  *pipeline.Pipeline
	store *storage.MemoryStorage
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	policy := llm.Policy{Timeouts: []time.Duration{time.Second}}
	store := storage.NewMemoryStorage()
	p := pipeline.New(
		cluster.NewEngine(llm.Disabled{}, policy, cluster.DefaultOptions(), logger),
		risk.NewAnalyzer(llm.Disabled{}, policy, logger),
		reply.NewEngine(llm.Disabled{}, policy, logger),
		logger,
		pipeline.WithStorage(store),
	)
	opts = append([]Option{WithStorage(store)}, opts...)
	return testEnv{srv: New(":0", p, logger, opts...), pipe: p, store: store}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func (e testEnv) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for e.pipe.Poll().IsRunning {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json decode: %v\n%s", err, w.Body.String())
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestResultsBeforeAnyRun(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/results", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if st := decode[pipeline.ProcessingState](t, w); st.Stage != models.StageIdle {
		t.Errorf("stage: %s", st.Stage)
	}
}

func TestStartRunAndFetchResults(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/runs", pipeline.Request{
		Messages:            testMessages,
		Method:              "enhanced",
		IncludeRiskAnalysis: true,
		IncludeReplies:      true,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	started := decode[startRunResponse](t, w)
	if started.RunID == "" {
		t.Fatal("missing run id")
	}
	env.waitIdle(t)

	status := decode[pipeline.ProcessingState](t, env.do(t, http.MethodGet, "/api/status", nil))
	if status.Stage != models.StageComplete || status.Progress != 100 || status.Result != nil {
		t.Errorf("status: stage=%s progress=%d", status.Stage, status.Progress)
	}

	w = env.do(t, http.MethodGet, "/api/results", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	res := decode[pipeline.Result](t, w)
	if res.RunID != started.RunID || len(res.Categories) != 3 || len(res.Risks) != 3 || len(res.Replies) != 3 {
		t.Errorf("result: %+v", res)
	}

	list := decode[struct {
		Runs []runSummary `json:"runs"`
	}](t, env.do(t, http.MethodGet, "/api/runs", nil))
	if len(list.Runs) != 1 || list.Runs[0].ID != started.RunID || list.Runs[0].Total != 3 {
		t.Errorf("runs: %+v", list.Runs)
	}

	w = env.do(t, http.MethodGet, "/api/runs/"+started.RunID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	detail := decode[struct {
		ID     string          `json:"id"`
		Result pipeline.Result `json:"result"`
	}](t, w)
	if detail.ID != started.RunID || len(detail.Result.Categories) != 3 {
		t.Errorf("detail: %+v", detail)
	}
}

func TestStartRunRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/runs", pipeline.Request{Messages: testMessages, Method: "spectral"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("method: expected 400, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/runs", pipeline.Request{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestStartRunFromSource(t *testing.T) {
	old := testMessages[0]
	old.ID = "old"
	old.ReceivedAt = time.Now().Add(-72 * time.Hour)
	recent := testMessages[1]
	recent.ReceivedAt = time.Now().Add(-time.Hour)

	env := newTestEnv(t, WithSource(source.Static{old, recent}, 24*time.Hour))
	w := env.do(t, http.MethodPost, "/api/runs", map[string]any{"categorization_method": "none"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	env.waitIdle(t)
	res, err := env.pipe.Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Categories) != 1 || res.Categories[0].MessageID != recent.ID {
		t.Errorf("categories: %+v", res.Categories)
	}

	w = env.do(t, http.MethodPost, "/api/runs", map[string]any{"categorization_method": "none", "lookback_hours": 0})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	env.waitIdle(t)
	if res, _ := env.pipe.Result(); res == nil || len(res.Categories) != 2 {
		t.Errorf("zero lookback should load everything: %+v", res)
	}
}

type busyOrchestrator struct{}

func (busyOrchestrator) Run(context.Context, pipeline.Request) (*pipeline.Handle, error) {
	return nil, pipeline.ErrRunActive
}
func (busyOrchestrator) Poll() pipeline.ProcessingState {
	return pipeline.ProcessingState{IsRunning: true}
}
func (busyOrchestrator) Result() (*pipeline.Result, error) {
	return nil, pipeline.ErrNoResult
}

func TestStartRunWhileActive(t *testing.T) {
	srv := New(":0", busyOrchestrator{}, zaptest.NewLogger(t))
	body, _ := json.Marshal(pipeline.Request{Messages: testMessages})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestRunHistory(t *testing.T) {
	env := newTestEnv(t)
	if w := env.do(t, http.MethodGet, "/api/runs/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/runs?limit=zero", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	noHistory := New(":0", env.pipe, zaptest.NewLogger(t))
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	noHistory.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without storage, got %d", w.Code)
	}
}
