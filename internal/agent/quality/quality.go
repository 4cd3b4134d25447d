// Package quality implements the quality agent (spec §4.5.4): it computes
// static code metrics locally, calls the LM once for a qualitative
// analysis string, and assembles a deterministic-scored report.
package quality

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/prompt"
)

const AgentID = "quality_agent"

// ModuleSource is one module's generated artifacts as seen by the quality
// agent. Test may be empty if the test stage failed or was skipped for
// that module.
type ModuleSource struct {
	ModuleID string
	Header   string
	Source   string
	Test     string
}

type Agent struct {
	loader *prompt.Loader
}

func New() *Agent { return &Agent{loader: prompt.New()} }

func (a *Agent) ID() string { return AgentID }

func (a *Agent) DeclaredInputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactModuleCode, domain.ArtifactTests}
}

func (a *Agent) DeclaredOutputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactReports}
}

// Execute assembles the quality report. in.Extra["modules"] must be a
// []ModuleSource and in.Extra["expected_module_count"] an int (the
// specification's declared module count, used to flag modules missing
// from the run).
func (a *Agent) Execute(ctx context.Context, rc agent.RunContext, in agent.Inputs) (agent.Outputs, error) {
	if err := rc.Governor.CheckRun(AgentID); err != nil {
		return agent.Outputs{}, err
	}

	modules, _ := in.Extra["modules"].([]ModuleSource)
	expected, _ := in.Extra["expected_module_count"].(int)

	var sources []string
	testFilesFound := 0
	for _, m := range modules {
		sources = append(sources, m.Header, m.Source)
		if m.Test != "" {
			testFilesFound++
		}
	}
	metrics := computeStaticMetrics(sources)

	issues := buildIssues(modules, expected, metrics)

	ragContext, _ := rc.Engine.Assemble(domain.RetrievalQuery{Text: "quality complexity maintainability", TopK: 3, TokenBudget: 3000})
	tpl, err := a.loader.Load("quality", "v1")
	if err != nil {
		return agent.Outputs{}, errs.Wrap(errs.Internal, "load quality prompt", err)
	}
	values := map[string]string{
		"AGENT_ROLE":  "You are a firmware code reviewer.",
		"MCU":         rc.Spec.MCU,
		"MODULES":     moduleNames(modules),
		"CODE_FILES":  joinSources(sources),
		"RAG_CONTEXT": ragContext,
	}
	rendered, _ := prompt.Render(tpl, values)

	analysis, err := rc.LM.Complete(ctx, rendered)
	if err != nil {
		return agent.Outputs{}, err
	}

	score := overallScore(issues)
	report := map[string]interface{}{
		"overall_score": score,
		"report_type":   "quality_analysis",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"metrics":       metricsBlock(metrics),
		"analysis_summary": map[string]interface{}{
			"modules_analyzed":     len(modules),
			"test_files_found":     testFilesFound,
			"total_lines":          metrics.TotalLOC,
			"llm_analysis_excerpt": excerpt(analysis, 400),
		},
		"issues":          issues,
		"recommendations": recommendations(issues),
	}

	meta := domain.ArtifactMetadata{AgentID: AgentID, PromptVersion: tpl.Version}
	path, err := rc.Store.WriteJSONArtifact(rc.RunID, AgentID, domain.ArtifactReports, "", report, meta)
	if err != nil {
		return agent.Outputs{}, err
	}

	return agent.Outputs{ArtifactPaths: []string{path}}, nil
}

func metricsBlock(m staticMetrics) map[string]interface{} {
	status := func(value, warnAt, failAt float64, higherIsWorse bool) string {
		if higherIsWorse {
			if value >= failAt {
				return "fail"
			}
			if value >= warnAt {
				return "warning"
			}
			return "pass"
		}
		if value <= failAt {
			return "fail"
		}
		if value <= warnAt {
			return "warning"
		}
		return "pass"
	}

	return map[string]interface{}{
		"total_loc":           map[string]interface{}{"value": m.TotalLOC, "unit": "lines"},
		"avg_function_length": map[string]interface{}{"value": m.AvgFunctionLength, "unit": "lines", "target": 40, "status": status(m.AvgFunctionLength, 40, 80, true)},
		"max_nesting":         map[string]interface{}{"value": m.MaxNesting, "target": 4, "status": status(float64(m.MaxNesting), 4, 6, true)},
		"magic_numbers":       map[string]interface{}{"value": m.MagicNumberCount, "status": status(float64(m.MagicNumberCount), 1, 5, true)},
		"banned_patterns":     map[string]interface{}{"value": m.BannedPatternCount, "status": status(float64(m.BannedPatternCount), 1, 1, true)},
		"comment_density":     map[string]interface{}{"value": m.CommentDensity, "unit": "ratio", "target": 0.1, "status": status(m.CommentDensity, 0.05, 0.0, false)},
		"cyclomatic_complexity": map[string]interface{}{"value": m.ApproxCyclomatic, "status": status(float64(m.ApproxCyclomatic), 20, 40, true)},
	}
}

func buildIssues(modules []ModuleSource, expected int, m staticMetrics) []map[string]interface{} {
	var issues []map[string]interface{}

	if expected > 0 && len(modules) < expected {
		issues = append(issues, map[string]interface{}{
			"severity": string(domain.SeverityHigh),
			"type":     "missing_module",
			"message":  fmt.Sprintf("expected %d modules but only %d were generated", expected, len(modules)),
		})
	}

	for _, mod := range modules {
		if mod.Header == "" || mod.Source == "" {
			issues = append(issues, map[string]interface{}{
				"severity": string(domain.SeverityHigh),
				"type":     "empty_module",
				"message":  fmt.Sprintf("module %s has an empty header or source file", mod.ModuleID),
				"location": mod.ModuleID,
			})
		}
		if mod.Test == "" {
			issues = append(issues, map[string]interface{}{
				"severity": string(domain.SeverityMedium),
				"type":     "missing_tests",
				"message":  fmt.Sprintf("module %s has no generated test file", mod.ModuleID),
				"location": mod.ModuleID,
			})
		}
	}

	if m.BannedPatternCount > 0 {
		for _, label := range m.BannedPatternMessages {
			issues = append(issues, map[string]interface{}{
				"severity": string(domain.SeverityCritical),
				"type":     "banned_pattern",
				"message":  fmt.Sprintf("banned pattern detected: %s", label),
			})
		}
	}
	if m.MaxNesting > 4 {
		issues = append(issues, map[string]interface{}{
			"severity": string(domain.SeverityMedium),
			"type":     "excessive_nesting",
			"message":  fmt.Sprintf("maximum nesting depth %d exceeds the 4-level budget", m.MaxNesting),
		})
	}
	if m.MagicNumberCount > 5 {
		issues = append(issues, map[string]interface{}{
			"severity": string(domain.SeverityLow),
			"type":     "magic_numbers",
			"message":  fmt.Sprintf("%d unnamed numeric literals found", m.MagicNumberCount),
		})
	}

	return issues
}

func overallScore(issues []map[string]interface{}) int {
	score := 100
	for _, issue := range issues {
		sev := domain.Severity(issue["severity"].(string))
		score -= domain.SeverityPenalty(sev)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func recommendations(issues []map[string]interface{}) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, issue := range issues {
		t := issue["type"].(string)
		var rec string
		switch t {
		case "missing_module":
			rec = "re-run the code stage for the missing modules before shipping this build"
		case "empty_module":
			rec = "investigate the LM response for the affected module; an empty generation usually means a malformed prompt or provider timeout"
		case "missing_tests":
			rec = "generate or hand-write tests for modules missing coverage"
		case "banned_pattern":
			rec = "remove dynamic allocation, goto, and unbounded loops from generated sources"
		case "excessive_nesting":
			rec = "extract helper functions to flatten deeply nested control flow"
		case "magic_numbers":
			rec = "replace numeric literals with named constants"
		default:
			continue
		}
		if _, ok := seen[rec]; ok {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	sort.Strings(out)
	return out
}

func moduleNames(modules []ModuleSource) string {
	var out string
	for _, m := range modules {
		out += "- " + m.ModuleID + "\n"
	}
	if out == "" {
		return "(none)"
	}
	return out
}

func joinSources(sources []string) string {
	var out string
	for _, s := range sources {
		out += s + "\n"
	}
	return out
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
