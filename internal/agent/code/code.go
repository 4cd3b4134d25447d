// Package code implements the code agent (spec §4.5.2): invoked once per
// module, it asks the LM for a header/source pair and falls back through
// JSON, marked-section, first-function-split, and half-split parsing in
// that order if the LM's response doesn't match the requested shape.
package code

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/prompt"
)

const AgentID = "code_agent"

type Agent struct {
	loader *prompt.Loader
}

func New() *Agent { return &Agent{loader: prompt.New()} }

func (a *Agent) ID() string { return AgentID }

func (a *Agent) DeclaredInputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactArchitecture}
}

func (a *Agent) DeclaredOutputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactModuleCode}
}

// Execute generates one module's header and source files. in.Module must
// be populated; in.Extra["architecture"] may carry the rendered
// architecture text for context.
func (a *Agent) Execute(ctx context.Context, rc agent.RunContext, in agent.Inputs) (agent.Outputs, error) {
	if err := rc.Governor.CheckRun(AgentID); err != nil {
		return agent.Outputs{}, err
	}
	if in.Module.Name == "" {
		return agent.Outputs{}, errs.New(errs.InvalidInput, "code agent requires a module definition")
	}

	architectureText, _ := in.Extra["architecture"].(string)
	if architectureText == "" {
		return agent.Outputs{}, errs.DependencyMissingError("architecture")
	}

	query := domain.RetrievalQuery{Text: string(in.Module.Type) + " " + in.Module.Description, ModuleType: string(in.Module.Type), TopK: 4, TokenBudget: 6000}
	ragContext, _ := rc.Engine.Assemble(query)

	tpl, err := a.loader.Load("code", "v1")
	if err != nil {
		return agent.Outputs{}, errs.Wrap(errs.Internal, "load code prompt", err)
	}

	values := map[string]string{
		"AGENT_ROLE":     "You are an embedded C firmware engineer.",
		"MCU":            rc.Spec.MCU,
		"OPTIMIZATION":   string(rc.Spec.OptimizationGoal),
		"BOARD_SPECS":    rc.Spec.MCU,
		"MODULE":         in.Module.Name,
		"CONSTRAINTS":    strings.Join(in.Module.Requirements, "\n"),
		"RAG_CONTEXT":    ragContext,
		"CODE_ARTIFACTS": architectureText,
	}
	rendered, _ := prompt.Render(tpl, values)

	text, err := rc.LM.Complete(ctx, rendered)
	if err != nil {
		return agent.Outputs{}, err
	}

	header, source, warnings := parseModuleCode(text, in.Module.Name)

	moduleID := in.ModuleID
	if moduleID == "" {
		moduleID = in.Module.ID
	}
	if moduleID == "" {
		moduleID = in.Module.Name
	}

	meta := domain.ArtifactMetadata{AgentID: AgentID, PromptVersion: tpl.Version}
	hPath, sPath, err := rc.Store.WriteModularCode(rc.RunID, AgentID, moduleID, []byte(header), []byte(source), meta)
	if err != nil {
		return agent.Outputs{}, err
	}

	return agent.Outputs{ArtifactPaths: []string{hPath, sPath}, Warnings: warnings}, nil
}

var (
	markedSectionPattern = regexp.MustCompile(`(?s)###HEADER###\s*(.*?)\s*###SOURCE###\s*(.*)`)
	functionDefPattern   = regexp.MustCompile(`(?m)^[A-Za-z_][A-Za-z0-9_ \*]*\s+\w+\s*\([^;{]*\)\s*\{`)
)

type jsonCodeShape struct {
	Header string `json:"header"`
	Source string `json:"source"`
}

// parseModuleCode splits the LM's response into header and source text,
// trying in order: JSON {"header","source"}, ###HEADER###/###SOURCE###
// marked sections, a split at the first function definition, and finally
// an even half-split. An empty response still produces two (empty)
// strings so the quality agent can flag the gap rather than the code
// agent failing outright (spec §8 "LM returning empty string").
func parseModuleCode(text, moduleName string) (header, source string, warnings []string) {
	trimmed := strings.TrimSpace(text)

	var shape jsonCodeShape
	if err := json.Unmarshal([]byte(trimmed), &shape); err == nil && shape.Header != "" && shape.Source != "" {
		return shape.Header, shape.Source, nil
	}

	if m := markedSectionPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1], m[2], nil
	}

	if loc := functionDefPattern.FindStringIndex(trimmed); loc != nil {
		return trimmed[:loc[0]], trimmed[loc[0]:],
			[]string{fmt.Sprintf("module %s: LM response lacked JSON/marked sections; split at first function definition", moduleName)}
	}

	mid := len(trimmed) / 2
	return trimmed[:mid], trimmed[mid:],
		[]string{fmt.Sprintf("module %s: LM response lacked JSON/marked sections/function definition; split in half", moduleName)}
}

