// Package server implements the HTTP control plane of spec §4.7: run
// submission, status and artifact enumeration, log retrieval, and a
// websocket stream of stage events. It is grounded on the teacher's
// internal/server package (Server struct, setupRoutes, backgroundTasks
// poll loop), adapted from a dashboard's in-memory JSONStore to a run
// index backed by internal/runindex and an orchestrator that owns the
// authoritative in-flight state.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/eventbus"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/orchestrator"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/runindex"
	"github.com/CLIAIMONITOR/internal/store"
)

// syncInterval is how often backgroundSync resyncs the run index against
// the orchestrator's in-memory state.
const syncInterval = 5 * time.Second

// Server is the pipeline's HTTP control plane.
type Server struct {
	httpServer *http.Server
	router     *mux.Router

	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	engine       *retrieval.Engine
	index        *runindex.Index
	bus          *eventbus.Bus // nil when telemetry streaming is disabled

	startTime time.Time
	stopChan  chan struct{}
	log       *logging.Logger
}

// NewServer wires the control plane's handlers to its backing services.
// bus may be nil; the stream endpoint then reports 422 dependency_missing.
func NewServer(orc *orchestrator.Orchestrator, st *store.Store, engine *retrieval.Engine, idx *runindex.Index, bus *eventbus.Bus) *Server {
	s := &Server{
		orchestrator: orc,
		store:        st,
		engine:       engine,
		index:        idx,
		bus:          bus,
		startTime:    time.Now().UTC(),
		stopChan:     make(chan struct{}),
		log:          logging.New("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(SecurityHeadersMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{run_id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{run_id}/logs", s.handleGetLogs).Methods("GET")
	api.HandleFunc("/runs/{run_id}/stream", s.handleStream).Methods("GET")
	api.HandleFunc("/artifacts", s.handleListArtifacts).Methods("GET")
	api.HandleFunc("/output/{run_id}/{path:.*}", s.handleGetOutput).Methods("GET")
	api.HandleFunc("/templates", s.handleTemplates).Methods("GET")
	api.HandleFunc("/docs/rag", s.handleDocsRAG).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start begins serving addr (e.g. ":8090") and the background sync loop.
// It blocks until the server stops; callers typically run it in a goroutine.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	go s.backgroundSync()
	s.log.Info("control plane listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops the background sync loop and gracefully drains in-flight
// HTTP requests. It does not touch in-flight orchestrator runs, which keep
// executing independently of the control plane.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopChan)
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// backgroundSync periodically pushes the orchestrator's in-memory run
// states into the run index, so GET /api/runs and GET /api/artifacts stay
// current without a directory walk on every request.
func (s *Server) backgroundSync() {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.syncRunIndex()
		}
	}
}

func (s *Server) syncRunIndex() {
	for _, st := range s.orchestrator.List() {
		spec, _ := s.orchestrator.Spec(st.RunID)
		rec := runindex.RunRecord{
			RunID:          st.RunID,
			ProjectName:    spec.ProjectName,
			MCU:            spec.MCU,
			Status:         st.Status,
			Progress:       st.Progress,
			CurrentStage:   st.CurrentStage,
			StartedAt:      st.StartedAt,
			CompletedAt:    st.CompletedAt,
			OutputDir:      st.OutputDir,
			ArtifactCounts: st.ArtifactCounts,
			Errors:         st.Errors,
			Warnings:       st.Warnings,
		}
		if err := s.index.UpsertRun(rec); err != nil {
			s.log.Warn("sync run %s: %v", st.RunID, err)
			continue
		}

		infos, err := s.store.ListArtifacts(st.RunID)
		if err != nil {
			s.log.Warn("list artifacts for run %s: %v", st.RunID, err)
			continue
		}
		if err := s.index.ReplaceArtifacts(st.RunID, infos); err != nil {
			s.log.Warn("sync artifacts for run %s: %v", st.RunID, err)
		}
	}
}

func runRecordToState(rec runindex.RunRecord) *domain.RunState {
	return &domain.RunState{
		RunID:          rec.RunID,
		Status:         rec.Status,
		Progress:       rec.Progress,
		CurrentStage:   rec.CurrentStage,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		ArtifactCounts: rec.ArtifactCounts,
		Errors:         rec.Errors,
		Warnings:       rec.Warnings,
		OutputDir:      rec.OutputDir,
	}
}
