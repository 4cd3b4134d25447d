package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/agent/build"
	"github.com/CLIAIMONITOR/internal/agent/code"
	"github.com/CLIAIMONITOR/internal/agent/quality"
	"github.com/CLIAIMONITOR/internal/agent/testgen"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
)

// moduleResult is one module's journey through the code and test stages.
type moduleResult struct {
	moduleID   string
	header     string
	source     string
	test       string
	headerPath string
	sourcePath string
	codeErr    error
	testErr    error
}

// run drives runID's DAG to completion. It is the single goroutine that
// mutates h's state (spec §5 "RunState mutations are single-writer").
func (o *Orchestrator) run(runCtx context.Context, runID string, h *runHandle, spec domain.Specification, opts domain.RunOptions) {
	lm, err := o.lm.resolve(spec.ModelProvider)
	if err != nil {
		o.finalizeFailed(h, runID, err.Error())
		return
	}

	rc := agent.RunContext{
		RunID:    runID,
		Spec:     spec,
		Store:    o.store,
		Governor: o.governor,
		Engine:   o.engine,
		LM:       lm,
	}
	timeout := o.timeouts.forProvider(spec.ModelProvider)

	h.setState(func(s *domain.RunState) {
		s.Status = domain.StatusRunning
		s.StartedAt = time.Now().UTC()
		s.CurrentStage = o.architectureAgent.ID()
	})

	if o.cancelled(runCtx, h, runID) {
		return
	}

	o.emit(runID, o.architectureAgent.ID(), "started", 0, "")
	archOut, err := o.runStage(o.architectureAgent, rc, agent.Inputs{}, timeout)
	if err != nil {
		o.emit(runID, o.architectureAgent.ID(), "failed", 0, err.Error())
		o.finalizeFailed(h, runID, err.Error())
		return
	}
	o.bumpArtifactCount(h, "architecture", len(archOut.ArtifactPaths))

	progress := h.setState(func(s *domain.RunState) {
		s.Progress = weightArchitecture
	}).Progress
	o.emit(runID, o.architectureAgent.ID(), "completed", progress, "")

	if opts.ArchitectureOnly {
		o.finalizeCompleted(h, runID)
		return
	}
	if o.cancelled(runCtx, h, runID) {
		return
	}

	archText := ""
	if len(archOut.ArtifactPaths) > 0 {
		if buf, readErr := os.ReadFile(archOut.ArtifactPaths[0]); readErr == nil {
			archText = string(buf)
		}
	}

	if len(spec.Modules) == 0 {
		h.setState(func(s *domain.RunState) {
			s.Warnings = append(s.Warnings, "specification declared no modules; code, test, quality, and build stages were skipped")
		})
		o.finalizeCompleted(h, runID)
		return
	}

	results := o.runModuleStages(runCtx, rc, spec, opts, archText, timeout, h)

	var successes, failures []moduleResult
	for _, r := range results {
		if r.codeErr != nil {
			failures = append(failures, r)
		} else {
			successes = append(successes, r)
		}
	}

	if len(failures) > 0 {
		msgs := make([]string, len(failures))
		for i, r := range failures {
			msgs[i] = fmt.Sprintf("module %s: %v", r.moduleID, r.codeErr)
		}
		h.setState(func(s *domain.RunState) {
			s.Errors = append(s.Errors, msgs...)
		})
	}

	if spec.SafetyCritical && len(failures) > 0 {
		o.finalizeFailed(h, runID, fmt.Sprintf("%d of %d modules failed code generation in a safety-critical run", len(failures), len(results)))
		return
	}
	if len(successes) == 0 {
		o.finalizeFailed(h, runID, "all modules failed code generation")
		return
	}
	if len(failures) > 0 {
		warnings := make([]string, len(failures))
		for i, r := range failures {
			warnings[i] = fmt.Sprintf("module %s was excluded from this run: %v", r.moduleID, r.codeErr)
		}
		h.setState(func(s *domain.RunState) {
			s.Warnings = append(s.Warnings, warnings...)
		})
	}
	for _, r := range successes {
		if r.testErr != nil {
			h.setState(func(s *domain.RunState) {
				s.Warnings = append(s.Warnings, fmt.Sprintf("module %s: test generation failed: %v", r.moduleID, r.testErr))
			})
		}
	}

	if o.cancelled(runCtx, h, runID) {
		return
	}

	type stageOutcome struct {
		name string
		err  error
	}
	outcomes := make(chan stageOutcome, 2)
	var wg sync.WaitGroup

	if opts.RunQualityChecks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- stageOutcome{o.qualityAgent.ID(), o.runQuality(rc, successes, len(spec.Modules), timeout, h)}
		}()
	} else {
		h.setState(func(s *domain.RunState) {
			s.Warnings = append(s.Warnings, "quality checks were not requested for this run")
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes <- stageOutcome{o.buildAgent.ID(), o.runBuild(rc, successes, len(spec.Modules), timeout, h)}
	}()

	wg.Wait()
	close(outcomes)

	var stageErrs []string
	for outcome := range outcomes {
		if outcome.err != nil {
			stageErrs = append(stageErrs, fmt.Sprintf("%s: %v", outcome.name, outcome.err))
		}
	}
	if len(stageErrs) > 0 {
		o.finalizeFailed(h, runID, strings.Join(stageErrs, "; "))
		return
	}

	if len(successes) != len(spec.Modules) {
		o.finalizeFailed(h, runID, fmt.Sprintf("build_log module count (%d) does not match specification (%d modules)", len(successes), len(spec.Modules)))
		return
	}

	o.finalizeCompleted(h, runID)
}

// cancelled reports whether runCtx has been cancelled, finalizing h as
// failed("cancelled") if so. Checked only between stages, never mid-call
// (spec §4.6, §5).
func (o *Orchestrator) cancelled(runCtx context.Context, h *runHandle, runID string) bool {
	select {
	case <-runCtx.Done():
		o.finalizeCancelled(h, runID)
		return true
	default:
		return false
	}
}

// runModuleStages runs the code (and, if requested, test) stage for every
// module, bounded to moduleConcurrency(len(modules)) in flight at once.
func (o *Orchestrator) runModuleStages(runCtx context.Context, rc agent.RunContext, spec domain.Specification, opts domain.RunOptions, archText string, timeout time.Duration, h *runHandle) []moduleResult {
	modules := spec.Modules
	results := make([]moduleResult, len(modules))

	p := newPool(moduleConcurrency(len(modules)))
	var wg sync.WaitGroup
	for i, m := range modules {
		wg.Add(1)
		go func(i int, m domain.ModuleDefinition) {
			defer wg.Done()
			id := moduleID(m)
			if err := p.acquire(runCtx); err != nil {
				results[i] = moduleResult{moduleID: id, codeErr: err}
				return
			}
			defer p.release()
			results[i] = o.runOneModule(rc, m, archText, opts, timeout, h, len(modules))
		}(i, m)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOneModule(rc agent.RunContext, m domain.ModuleDefinition, archText string, opts domain.RunOptions, timeout time.Duration, h *runHandle, moduleCount int) moduleResult {
	id := moduleID(m)
	res := moduleResult{moduleID: id}

	in := agent.Inputs{
		ModuleID: id,
		Module:   m,
		Extra:    map[string]interface{}{"architecture": archText},
	}
	o.emit(rc.RunID, code.AgentID, "started", 0, id)
	out, err := o.runStage(o.codeAgent, rc, in, timeout)
	if err != nil {
		res.codeErr = err
		o.emit(rc.RunID, code.AgentID, "failed", 0, id+": "+err.Error())
		return res
	}
	o.bumpArtifactCount(h, "module_code", 1)

	if len(out.ArtifactPaths) == 2 {
		res.headerPath, res.sourcePath = out.ArtifactPaths[0], out.ArtifactPaths[1]
		if buf, rerr := os.ReadFile(res.headerPath); rerr == nil {
			res.header = string(buf)
		}
		if buf, rerr := os.ReadFile(res.sourcePath); rerr == nil {
			res.source = string(buf)
		}
	}
	if len(out.Warnings) > 0 {
		h.setState(func(s *domain.RunState) {
			s.Warnings = append(s.Warnings, out.Warnings...)
		})
	}

	progress := h.setState(func(s *domain.RunState) {
		s.Progress += weightCodeTotal / moduleCount
	}).Progress
	o.emit(rc.RunID, code.AgentID, "completed", progress, id)

	if !opts.IncludeTests {
		return res
	}

	testIn := agent.Inputs{
		ModuleID: id,
		Module:   m,
		Extra:    map[string]interface{}{"header": res.header, "source": res.source},
	}
	o.emit(rc.RunID, testgen.AgentID, "started", 0, id)
	testOut, terr := o.runStage(o.testAgent, rc, testIn, timeout)
	if terr != nil {
		res.testErr = terr
		o.emit(rc.RunID, testgen.AgentID, "failed", 0, id+": "+terr.Error())
		return res
	}
	o.bumpArtifactCount(h, "tests", len(testOut.ArtifactPaths))
	if len(testOut.ArtifactPaths) > 0 {
		if buf, rerr := os.ReadFile(testOut.ArtifactPaths[0]); rerr == nil {
			res.test = string(buf)
		}
	}

	progress = h.setState(func(s *domain.RunState) {
		s.Progress += weightTestTotal / moduleCount
	}).Progress
	o.emit(rc.RunID, testgen.AgentID, "completed", progress, id)
	return res
}

func (o *Orchestrator) runQuality(rc agent.RunContext, successes []moduleResult, expected int, timeout time.Duration, h *runHandle) error {
	mods := make([]quality.ModuleSource, 0, len(successes))
	for _, r := range successes {
		mods = append(mods, quality.ModuleSource{ModuleID: r.moduleID, Header: r.header, Source: r.source, Test: r.test})
	}
	in := agent.Inputs{Extra: map[string]interface{}{"modules": mods, "expected_module_count": expected}}

	o.emit(rc.RunID, quality.AgentID, "started", 0, "")
	out, err := o.runStage(o.qualityAgent, rc, in, timeout)
	if err != nil {
		o.emit(rc.RunID, quality.AgentID, "failed", 0, err.Error())
		return err
	}
	o.bumpArtifactCount(h, "reports", len(out.ArtifactPaths))

	progress := h.setState(func(s *domain.RunState) {
		s.Progress += weightQuality
	}).Progress
	o.emit(rc.RunID, quality.AgentID, "completed", progress, "")
	return nil
}

func (o *Orchestrator) runBuild(rc agent.RunContext, successes []moduleResult, expected int, timeout time.Duration, h *runHandle) error {
	mods := make([]build.ModuleFile, 0, len(successes))
	testResults := make(map[string]bool, len(successes))
	for _, r := range successes {
		mods = append(mods, build.ModuleFile{
			ModuleID:   r.moduleID,
			HeaderPath: r.headerPath,
			SourcePath: r.sourcePath,
			HeaderSize: int64(len(r.header)),
			SourceSize: int64(len(r.source)),
		})
		testResults[r.moduleID] = r.testErr == nil && r.test != ""
	}
	in := agent.Inputs{Extra: map[string]interface{}{"modules": mods, "expected_module_count": expected, "test_results": testResults}}

	o.emit(rc.RunID, build.AgentID, "started", 0, "")
	out, err := o.runStage(o.buildAgent, rc, in, timeout)
	if err != nil {
		o.emit(rc.RunID, build.AgentID, "failed", 0, err.Error())
		return err
	}
	o.bumpArtifactCount(h, "build_log", len(out.ArtifactPaths))

	progress := h.setState(func(s *domain.RunState) {
		s.Progress += weightBuild
	}).Progress
	o.emit(rc.RunID, build.AgentID, "completed", progress, "")
	return nil
}

func (o *Orchestrator) bumpArtifactCount(h *runHandle, category string, n int) {
	if n <= 0 {
		return
	}
	h.setState(func(s *domain.RunState) {
		s.ArtifactCounts[category] += n
	})
}

func (o *Orchestrator) finalizeCompleted(h *runHandle, runID string) {
	h.setState(func(s *domain.RunState) {
		s.Progress = 100
		s.Status = domain.StatusCompleted
		s.CompletedAt = time.Now().UTC()
		s.CurrentStage = ""
	})
	o.emit(runID, "run", "completed", 100, "")
}

func (o *Orchestrator) finalizeFailed(h *runHandle, runID string, reason string) {
	h.setState(func(s *domain.RunState) {
		s.Status = domain.StatusFailed
		s.CompletedAt = time.Now().UTC()
		s.Errors = append(s.Errors, reason)
		s.CurrentStage = ""
	})
	o.emit(runID, "run", "failed", 0, reason)
}

func (o *Orchestrator) finalizeCancelled(h *runHandle, runID string) {
	h.setState(func(s *domain.RunState) {
		s.Status = domain.StatusFailed
		s.CompletedAt = time.Now().UTC()
		s.Errors = append(s.Errors, "cancelled")
		s.CurrentStage = ""
	})
	o.emit(runID, "run", "failed", 0, "cancelled")
}

// runStage executes a with a hard per-invocation timeout (spec §4.6). The
// timeout context is derived from context.Background(), not from the
// run's cancellable context: cancellation is polled between stages only
// and must never interrupt an in-flight LM call (spec §5).
func (o *Orchestrator) runStage(a agent.Agent, rc agent.RunContext, in agent.Inputs, timeout time.Duration) (agent.Outputs, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		out agent.Outputs
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := a.Execute(ctx, rc, in)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		return agent.Outputs{}, errs.TimeoutError(a.ID())
	}
}
