// Package orchestrator drives the fixed agent DAG of spec.md §4.6: it owns
// RunState, submits stage work to a bounded worker pool, tracks progress,
// and applies the per-agent failure policy of spec.md §4.5/§7. It is
// grounded on the teacher's internal/captain supervisory poll-react loop
// (a control goroutine reacting to worker completion/failure), adapted
// from "supervise one OS process" to "drive a DAG of in-process stages,"
// and on internal/server.go's sync.RWMutex-guarded shared-state pattern,
// adapted here for RunState snapshotting.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antithesishq/antithesis-sdk-go/assert"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/agent/architecture"
	"github.com/CLIAIMONITOR/internal/agent/build"
	"github.com/CLIAIMONITOR/internal/agent/code"
	"github.com/CLIAIMONITOR/internal/agent/quality"
	"github.com/CLIAIMONITOR/internal/agent/testgen"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/llm"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/store"
)

// Progress weights, spec §4.5/§4.6 (sum = 100).
const (
	weightArchitecture = 20
	weightCodeTotal    = 40
	weightTestTotal    = 15
	weightQuality      = 15
	weightBuild        = 10
)

// Timeouts configures the per-agent invocation bound (spec §4.6).
type Timeouts struct {
	Mock time.Duration
	Real time.Duration
}

// DefaultTimeouts returns spec §4.6's documented defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{Mock: 120 * time.Second, Real: 600 * time.Second}
}

func (t Timeouts) forProvider(p domain.ModelProvider) time.Duration {
	if p == domain.ProviderReal {
		return t.Real
	}
	return t.Mock
}

// LMClients resolves the LM client for a run's declared model provider.
// Real may be nil if no real-provider endpoint was configured.
type LMClients struct {
	Mock llm.Client
	Real llm.Client
}

func (c LMClients) resolve(provider domain.ModelProvider) (llm.Client, error) {
	if provider == domain.ProviderReal {
		if c.Real == nil {
			return nil, errs.New(errs.InvalidInput, "real LM provider is not configured")
		}
		return c.Real, nil
	}
	return c.Mock, nil
}

// Orchestrator owns every run's lifecycle. Its fields other than the runs
// map are immutable after construction; the runs map is guarded by mu.
type Orchestrator struct {
	store    *store.Store
	governor *mcp.Governor
	engine   *retrieval.Engine
	lm       LMClients
	timeouts Timeouts
	events   EventPublisher
	log      *logging.Logger

	architectureAgent agent.Agent
	codeAgent         agent.Agent
	testAgent         agent.Agent
	qualityAgent      agent.Agent
	buildAgent        agent.Agent

	mu   sync.RWMutex
	runs map[string]*runHandle
}

// runHandle is the orchestrator's bookkeeping for one in-flight or
// completed run: the mutable RunState plus the cancellation switch
// checked between stages. spec is set once at submission and never
// mutated afterward, so it is safe to read without the lock.
type runHandle struct {
	mu     sync.RWMutex
	state  domain.RunState
	cancel context.CancelFunc
	spec   domain.Specification
}

func (h *runHandle) snapshot() *domain.RunState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.Clone()
}

// New constructs an Orchestrator. compilerName is forwarded to the build
// agent (empty means no compiler configured, per spec §9).
func New(s *store.Store, gov *mcp.Governor, engine *retrieval.Engine, lm LMClients, timeouts Timeouts, events EventPublisher, compilerName string) *Orchestrator {
	return &Orchestrator{
		store:             s,
		governor:          gov,
		engine:            engine,
		lm:                lm,
		timeouts:          timeouts,
		events:            events,
		log:               logging.New("orchestrator"),
		architectureAgent: architecture.New(),
		codeAgent:         code.New(),
		testAgent:         testgen.New(),
		qualityAgent:      quality.New(),
		buildAgent:        build.New(compilerName),
		runs:              make(map[string]*runHandle),
	}
}

// Submit allocates a run, creates its output directory, and starts
// execution asynchronously, returning the new run_id immediately (spec
// §4.6 "Run submission").
func (o *Orchestrator) Submit(spec domain.Specification, opts domain.RunOptions) (string, error) {
	if err := validateSpec(spec); err != nil {
		return "", err
	}
	if _, err := o.lm.resolve(spec.ModelProvider); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	outputDir, err := o.store.RunDir(runID)
	if err != nil {
		return "", errs.IOFailureError("create run directory", err)
	}

	opts.ArchitectureOnly = opts.ArchitectureOnly || spec.ArchitectureOnly

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{
		cancel: cancel,
		spec:   spec,
		state: domain.RunState{
			RunID:          runID,
			Status:         domain.StatusPending,
			Progress:       0,
			ArtifactCounts: map[string]int{},
			OutputDir:      outputDir,
		},
	}

	o.mu.Lock()
	o.runs[runID] = handle
	o.mu.Unlock()

	go o.run(runCtx, runID, handle, spec, opts)

	return runID, nil
}

// Cancel flags runID for cancellation. The flag is observed between
// stages only; a blocked LM call is bounded by its timeout, not by
// cancellation (spec §4.6, §5).
func (o *Orchestrator) Cancel(runID string) error {
	handle, ok := o.handle(runID)
	if !ok {
		return errs.New(errs.InvalidInput, fmt.Sprintf("unknown run %q", runID))
	}
	handle.cancel()
	return nil
}

// Status returns a snapshot copy of runID's current state.
func (o *Orchestrator) Status(runID string) (*domain.RunState, error) {
	handle, ok := o.handle(runID)
	if !ok {
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("unknown run %q", runID))
	}
	return handle.snapshot(), nil
}

// List returns a snapshot of every run known to this process, most
// recently started first. It is an in-memory convenience; internal/runindex
// is the durable enumeration path for GET /api/runs.
func (o *Orchestrator) List() []*domain.RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*domain.RunState, 0, len(o.runs))
	for _, h := range o.runs {
		out = append(out, h.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Spec returns the specification a run was submitted with, for callers
// (the run index, the logs endpoint) that need project metadata RunState
// itself doesn't carry.
func (o *Orchestrator) Spec(runID string) (domain.Specification, bool) {
	h, ok := o.handle(runID)
	if !ok {
		return domain.Specification{}, false
	}
	return h.spec, true
}

func (o *Orchestrator) handle(runID string) (*runHandle, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.runs[runID]
	return h, ok
}

// setState mutates a run's state under its lock, asserting progress
// monotonicity (spec §8 invariant 3) as an antithesis invariant.
func (h *runHandle) setState(mutate func(*domain.RunState)) domain.RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	before := h.state.Progress
	mutate(&h.state)
	assert.Always(h.state.Progress >= before, "run progress is monotonically non-decreasing", map[string]interface{}{
		"run_id":   h.state.RunID,
		"before":   before,
		"after":    h.state.Progress,
		"status":   string(h.state.Status),
		"stage":    h.state.CurrentStage,
	})
	return h.state
}
