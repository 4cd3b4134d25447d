package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
)

// generateRequest is the body of POST /api/generate.
type generateRequest struct {
	Specification    domain.Specification `json:"specification"`
	IncludeTests     bool                 `json:"include_tests"`
	RunQualityChecks bool                 `json:"run_quality_checks"`
	ModelProvider    domain.ModelProvider `json:"model_provider,omitempty"`
	ArchitectureOnly bool                 `json:"architecture_only"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errs.New(errs.InvalidInput, "malformed request body"))
		return
	}

	spec := req.Specification
	if req.ModelProvider != "" {
		spec.ModelProvider = req.ModelProvider
	}
	spec.ArchitectureOnly = spec.ArchitectureOnly || req.ArchitectureOnly

	runID, err := s.orchestrator.Submit(spec, domain.RunOptions{
		IncludeTests:     req.IncludeTests,
		RunQualityChecks: req.RunQualityChecks,
		ArchitectureOnly: req.ArchitectureOnly,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

// handleListRuns serves GET /api/runs from the run index, which tolerates
// brief staleness in exchange for not walking every run directory.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	recs, err := s.index.ListRuns()
	if err != nil {
		s.respondError(w, errs.IOFailureError("list runs", err))
		return
	}
	states := make([]*domain.RunState, 0, len(recs))
	for _, rec := range recs {
		states = append(states, runRecordToState(rec))
	}
	s.respondJSON(w, http.StatusOK, states)
}

// handleGetRun serves GET /api/runs/{run_id}, reading the orchestrator's
// live state first since a single run is cheap and callers expect the
// freshest possible progress. It falls back to the run index for runs
// from a prior process lifetime.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]

	if st, err := s.orchestrator.Status(runID); err == nil {
		s.respondJSON(w, http.StatusOK, st)
		return
	}

	rec, ok, err := s.index.GetRun(runID)
	if err != nil {
		s.respondError(w, errs.IOFailureError("get run", err))
		return
	}
	if !ok {
		s.respondError(w, errs.New(errs.InvalidInput, "unknown run "+runID))
		return
	}
	s.respondJSON(w, http.StatusOK, runRecordToState(rec))
}

type logEntry struct {
	Filename   string          `json:"filename"`
	Path       string          `json:"path"`
	ModifiedAt string          `json:"modified_at"`
	Content    json.RawMessage `json:"content"`
}

// handleGetLogs serves GET /api/runs/{run_id}/logs, reading the store
// directly (one run, cheap) rather than the run index.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]

	infos, err := s.store.ListArtifacts(runID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	var buildLogs, qualityReports []logEntry
	for _, info := range infos {
		switch info.Category {
		case "build_log":
			buildLogs = append(buildLogs, s.readLogEntry(runID, info))
		case "reports":
			if info.Filename == "quality_report_latest.json" {
				continue
			}
			qualityReports = append(qualityReports, s.readLogEntry(runID, info))
		}
	}
	sort.Slice(buildLogs, func(i, j int) bool { return buildLogs[i].ModifiedAt > buildLogs[j].ModifiedAt })
	sort.Slice(qualityReports, func(i, j int) bool { return qualityReports[i].ModifiedAt > qualityReports[j].ModifiedAt })

	outputDir := ""
	if st, err := s.orchestrator.Status(runID); err == nil {
		outputDir = st.OutputDir
	} else if rec, ok, _ := s.index.GetRun(runID); ok {
		outputDir = rec.OutputDir
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":          runID,
		"output_dir":      outputDir,
		"build_logs":      nonNilEntries(buildLogs),
		"quality_reports": nonNilEntries(qualityReports),
	})
}

func (s *Server) readLogEntry(runID string, info domain.ArtifactInfo) logEntry {
	entry := logEntry{
		Filename:   info.Filename,
		Path:       info.Path,
		ModifiedAt: info.ModifiedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
	}
	raw, err := s.store.ReadArtifact(runID, info.Path)
	if err != nil {
		entry.Content = json.RawMessage(`null`)
		return entry
	}
	if json.Valid(raw) {
		entry.Content = json.RawMessage(raw)
		return entry
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})
	entry.Content = json.RawMessage(wrapped)
	return entry
}

func nonNilEntries(entries []logEntry) []logEntry {
	if entries == nil {
		return []logEntry{}
	}
	return entries
}

// handleListArtifacts serves GET /api/artifacts from the run index.
func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	recs, err := s.index.ListArtifacts()
	if err != nil {
		s.respondError(w, errs.IOFailureError("list artifacts", err))
		return
	}
	s.respondJSON(w, http.StatusOK, recs)
}

// textArtifactExtensions are wrapped as {"content": "..."} rather than
// served as raw bytes; every artifact this pipeline writes is one of
// these or ".json" (handled separately above), so the raw-bytes branch
// below exists for forward compatibility with artifact types not yet
// produced.
var textArtifactExtensions = map[string]bool{
	".md":  true,
	".c":   true,
	".h":   true,
	".txt": true,
}

// handleGetOutput serves GET /api/output/{run_id}/{path...}.
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["run_id"]
	path := vars["path"]

	content, err := s.store.ReadArtifact(runID, path)
	if err != nil {
		s.respondError(w, err)
		return
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(content)
		return
	}
	if textArtifactExtensions[ext] {
		s.respondJSON(w, http.StatusOK, map[string]string{"content": string(content)})
		return
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// handleTemplates serves GET /api/templates.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, exampleSpecs)
}

type ragDocument struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

// handleDocsRAG serves GET /api/docs/rag.
func (s *Server) handleDocsRAG(w http.ResponseWriter, r *http.Request) {
	docs := s.engine.Documents()
	out := make([]ragDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, ragDocument{Title: d.Title, Content: d.Content, Category: d.Domain})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
