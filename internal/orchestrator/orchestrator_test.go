package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/llm"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/store"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	gov := mcp.New()
	s := store.New(t.TempDir(), gov)
	engine := retrieval.New(nil)
	lm := LMClients{Mock: llm.NewMock()}
	return New(s, gov, engine, lm, DefaultTimeouts(), nil, "")
}

func waitForTerminal(t *testing.T, o *Orchestrator, runID string) *domain.RunState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := o.Status(runID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if st.Status == domain.StatusCompleted || st.Status == domain.StatusFailed {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal status in time", runID)
	return nil
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

func TestHappyPathOneModuleCompletesAtFullProgress(t *testing.T) {
	o := newTestOrchestrator(t)
	runID, err := o.Submit(oneModuleSpec(), domain.RunOptions{IncludeTests: true, RunQualityChecks: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitForTerminal(t, o, runID)
	if st.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", st.Status, st.Errors)
	}
	if st.Progress != 100 {
		t.Errorf("expected progress 100, got %d", st.Progress)
	}
	for _, category := range []string{"architecture", "module_code", "tests", "reports", "build_log"} {
		if st.ArtifactCounts[category] == 0 {
			t.Errorf("expected at least one %s artifact, got counts %v", category, st.ArtifactCounts)
		}
	}
}

func TestArchitectureOnlySkipsDownstreamStages(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := oneModuleSpec()
	runID, err := o.Submit(spec, domain.RunOptions{ArchitectureOnly: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitForTerminal(t, o, runID)
	if st.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", st.Status, st.Errors)
	}
	if st.Progress != 100 {
		t.Errorf("expected progress 100, got %d", st.Progress)
	}
	if st.ArtifactCounts["architecture"] == 0 {
		t.Errorf("expected an architecture artifact")
	}
	for _, category := range []string{"module_code", "tests", "reports", "build_log"} {
		if st.ArtifactCounts[category] != 0 {
			t.Errorf("expected zero %s artifacts in architecture-only mode, got %d", category, st.ArtifactCounts[category])
		}
	}
}

func TestZeroModulesSkipsDownstreamStagesWithWarning(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := domain.Specification{ProjectName: "Empty", MCU: "ESP32"}
	runID, err := o.Submit(spec, domain.RunOptions{IncludeTests: true, RunQualityChecks: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitForTerminal(t, o, runID)
	if st.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (errors=%v)", st.Status, st.Errors)
	}
	if len(st.Warnings) == 0 {
		t.Error("expected a warning explaining the skipped stages")
	}
	for _, category := range []string{"module_code", "tests", "reports", "build_log"} {
		if st.ArtifactCounts[category] != 0 {
			t.Errorf("expected zero %s artifacts with no modules declared, got %d", category, st.ArtifactCounts[category])
		}
	}
}

func TestSubmitRejectsInvalidSpecification(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Submit(domain.Specification{}, domain.RunOptions{})
	if !errs.IsKind(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestSubmitRejectsUnconfiguredRealProvider(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := oneModuleSpec()
	spec.ModelProvider = domain.ProviderReal
	_, err := o.Submit(spec, domain.RunOptions{})
	if !errs.IsKind(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput for unconfigured real provider, got %v", err)
	}
}

func TestSpecReturnsSubmittedSpecification(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := oneModuleSpec()
	runID, err := o.Submit(spec, domain.RunOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, ok := o.Spec(runID)
	if !ok {
		t.Fatal("expected Spec to find the submitted run")
	}
	if got.ProjectName != spec.ProjectName || got.MCU != spec.MCU {
		t.Errorf("expected spec %+v, got %+v", spec, got)
	}

	if _, ok := o.Spec("does-not-exist"); ok {
		t.Error("expected Spec to report false for an unknown run")
	}
}

func TestStatusUnknownRunIsInvalidInput(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.Status("does-not-exist")
	if !errs.IsKind(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestCancelledHelperFinalizesRunAsFailedCancelled(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &runHandle{
		cancel: func() {},
		state: domain.RunState{
			RunID:          "r1",
			Status:         domain.StatusRunning,
			Progress:       20,
			ArtifactCounts: map[string]int{},
		},
	}

	if !o.cancelled(ctx, h, "r1") {
		t.Fatal("expected cancelled to report true for an already-cancelled context")
	}
	st := h.snapshot()
	if st.Status != domain.StatusFailed {
		t.Errorf("expected status failed, got %s", st.Status)
	}
	if len(st.Errors) == 0 || st.Errors[len(st.Errors)-1] != "cancelled" {
		t.Errorf("expected trailing \"cancelled\" error, got %v", st.Errors)
	}
	if st.Progress != 20 {
		t.Errorf("expected progress unchanged at 20, got %d", st.Progress)
	}
}

// failingModuleLM wraps a real llm.Client and errors on Complete when the
// rendered code prompt names a module in failModules, so a test can
// simulate an LM provider failing for one specific module's code stage
// without the architecture/test/quality stages also failing.
type failingModuleLM struct {
	inner       llm.Client
	failModules map[string]struct{}
}

func (f *failingModuleLM) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "###HEADER###") {
		for name := range f.failModules {
			if strings.Contains(prompt, "Module: "+name) {
				return "", fmt.Errorf("mock provider error for module %s", name)
			}
		}
	}
	return f.inner.Complete(ctx, prompt)
}

func TestPartialModuleFailureFinalizesFailedOnModuleCountMismatch(t *testing.T) {
	gov := mcp.New()
	s := store.New(t.TempDir(), gov)
	engine := retrieval.New(nil)
	lm := LMClients{Mock: &failingModuleLM{inner: llm.NewMock(), failModules: map[string]struct{}{"moduleb": {}}}}
	o := New(s, gov, engine, lm, DefaultTimeouts(), nil, "")

	spec := domain.Specification{
		ProjectName: "Widget",
		MCU:         "ESP32",
		Modules: []domain.ModuleDefinition{
			{ID: "modulea", Name: "modulea", Type: domain.ModuleUART},
			{ID: "moduleb", Name: "moduleb", Type: domain.ModuleUART},
		},
	}
	runID, err := o.Submit(spec, domain.RunOptions{IncludeTests: true, RunQualityChecks: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	st := waitForTerminal(t, o, runID)
	if st.Status != domain.StatusFailed {
		t.Fatalf("expected failed status on module count mismatch, got %s (errors=%v)", st.Status, st.Errors)
	}
	found := false
	for _, e := range st.Errors {
		if strings.Contains(e, "does not match specification") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error naming the module count mismatch, got %v", st.Errors)
	}
	foundWarning := false
	for _, w := range st.Warnings {
		if strings.Contains(w, "moduleb") {
			foundWarning = true
		}
	}
	if !foundWarning {
		t.Errorf("expected a warning naming the excluded module, got %v", st.Warnings)
	}
}

type slowAgent struct {
	id    string
	delay time.Duration
}

func (a *slowAgent) ID() string                               { return a.id }
func (a *slowAgent) DeclaredInputs() []domain.ArtifactType     { return nil }
func (a *slowAgent) DeclaredOutputs() []domain.ArtifactType    { return nil }
func (a *slowAgent) Execute(ctx context.Context, rc agent.RunContext, in agent.Inputs) (agent.Outputs, error) {
	select {
	case <-time.After(a.delay):
		return agent.Outputs{}, nil
	case <-ctx.Done():
		return agent.Outputs{}, ctx.Err()
	}
}

func TestRunStageReturnsTimeoutErrorWhenAgentExceedsBound(t *testing.T) {
	o := newTestOrchestrator(t)
	slow := &slowAgent{id: "slow_agent", delay: 50 * time.Millisecond}

	_, err := o.runStage(slow, agent.RunContext{}, agent.Inputs{}, 5*time.Millisecond)
	if !errs.IsKind(err, errs.Timeout) {
		t.Fatalf("expected Timeout error, got %v", err)
	}
}
