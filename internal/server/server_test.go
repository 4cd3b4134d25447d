package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/llm"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/orchestrator"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/runindex"
	"github.com/CLIAIMONITOR/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gov := mcp.New()
	st := store.New(t.TempDir(), gov)
	engine := retrieval.New([]domain.RetrievalDocument{
		{ID: "uart-doc", Title: "UART Framing", Domain: "protocol", Content: "frame guidance"},
	})
	lm := orchestrator.LMClients{Mock: llm.NewMock()}
	orc := orchestrator.New(st, gov, engine, lm, orchestrator.DefaultTimeouts(), nil, "")

	idx, err := runindex.Open(t.TempDir() + "/runindex.db")
	if err != nil {
		t.Fatalf("runindex.Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	return NewServer(orc, st, engine, idx, nil)
}

func oneModuleSpec() domain.Specification {
	return domain.Specification{
		ProjectName: "Widget",
		MCU:         "ESP32",
		Modules: []domain.ModuleDefinition{
			{ID: "uart0", Name: "uart0", Type: domain.ModuleUART, Parameters: map[string]interface{}{"baud": 115200}},
		},
	}
}

func TestHandleGenerateSubmitsRunAndReturnsID(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(generateRequest{Specification: oneModuleSpec()})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["run_id"] == "" {
		t.Error("expected a non-empty run_id")
	}
}

func TestHandleGenerateRejectsInvalidSpecification(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(generateRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid input, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetRunReturnsLiveOrchestratorState(t *testing.T) {
	s := newTestServer(t)
	runID, err := s.orchestrator.Submit(oneModuleSpec(), domain.RunOptions{IncludeTests: true, RunQualityChecks: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCompletion(t, s, runID)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st domain.RunState
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode run state: %v", err)
	}
	if st.RunID != runID || st.Status != domain.StatusCompleted {
		t.Errorf("unexpected run state: %+v", st)
	}
}

func TestHandleGetRunUnknownReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleListRunsReadsFromRunIndexAfterSync(t *testing.T) {
	s := newTestServer(t)
	runID, err := s.orchestrator.Submit(oneModuleSpec(), domain.RunOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCompletion(t, s, runID)
	s.syncRunIndex()

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var states []domain.RunState
	if err := json.Unmarshal(rec.Body.Bytes(), &states); err != nil {
		t.Fatalf("decode run list: %v", err)
	}
	if len(states) != 1 || states[0].RunID != runID {
		t.Errorf("expected one indexed run %s, got %+v", runID, states)
	}
}

func TestHandleListArtifactsReadsFromRunIndexAfterSync(t *testing.T) {
	s := newTestServer(t)
	runID, err := s.orchestrator.Submit(oneModuleSpec(), domain.RunOptions{IncludeTests: true, RunQualityChecks: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCompletion(t, s, runID)
	s.syncRunIndex()

	req := httptest.NewRequest(http.MethodGet, "/api/artifacts", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var recs []runindex.ArtifactRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode artifact list: %v", err)
	}
	if len(recs) == 0 {
		t.Error("expected at least one indexed artifact")
	}
}

func TestHandleGetOutputWrapsTextArtifactAsJSONContent(t *testing.T) {
	s := newTestServer(t)
	runID, err := s.orchestrator.Submit(oneModuleSpec(), domain.RunOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCompletion(t, s, runID)

	req := httptest.NewRequest(http.MethodGet, "/api/output/"+runID+"/architecture/architecture.md", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if body["content"] == "" {
		t.Error("expected non-empty content")
	}
}

func TestHandleGetLogsReturnsBuildAndQualityLatestFirst(t *testing.T) {
	s := newTestServer(t)
	runID, err := s.orchestrator.Submit(oneModuleSpec(), domain.RunOptions{IncludeTests: true, RunQualityChecks: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForCompletion(t, s, runID)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/logs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RunID          string     `json:"run_id"`
		BuildLogs      []logEntry `json:"build_logs"`
		QualityReports []logEntry `json:"quality_reports"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if resp.RunID != runID {
		t.Errorf("expected run_id %s, got %s", runID, resp.RunID)
	}
	if len(resp.BuildLogs) == 0 {
		t.Error("expected at least one build log entry")
	}
	if len(resp.QualityReports) == 0 {
		t.Error("expected at least one quality report entry")
	}
	for i := 1; i < len(resp.BuildLogs); i++ {
		if resp.BuildLogs[i-1].ModifiedAt < resp.BuildLogs[i].ModifiedAt {
			t.Errorf("build logs not latest first: %s before %s", resp.BuildLogs[i-1].ModifiedAt, resp.BuildLogs[i].ModifiedAt)
		}
	}
	for i := 1; i < len(resp.QualityReports); i++ {
		if resp.QualityReports[i-1].ModifiedAt < resp.QualityReports[i].ModifiedAt {
			t.Errorf("quality reports not latest first: %s before %s", resp.QualityReports[i-1].ModifiedAt, resp.QualityReports[i].ModifiedAt)
		}
	}
}

func TestHandleTemplatesReturnsExampleSpecifications(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var templates map[string]domain.Specification
	if err := json.Unmarshal(rec.Body.Bytes(), &templates); err != nil {
		t.Fatalf("decode templates: %v", err)
	}
	if len(templates) == 0 {
		t.Error("expected at least one example specification")
	}
}

func TestHandleDocsRAGReturnsCorpusEntries(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/docs/rag", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var docs []ragDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode docs: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "UART Framing" {
		t.Errorf("unexpected docs: %+v", docs)
	}
}

func TestHandleHealthReportsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %+v", body)
	}
}

func TestHandleStreamReportsDependencyMissingWithoutBus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/some-run/stream", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func waitForCompletion(t *testing.T, s *Server, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.orchestrator.Status(runID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Status == domain.StatusCompleted || st.Status == domain.StatusFailed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status in time", runID)
}
