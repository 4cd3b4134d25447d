// Package architecture implements the architecture agent (spec §4.5.1): it
// queries retrieval for domain guidance, renders the architecture prompt,
// calls the LM, and writes the architecture markdown artifact.
package architecture

import (
	"context"
	"fmt"
	"strings"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/prompt"
)

const AgentID = "architecture_agent"

// Agent produces the architecture artifact from a Specification.
type Agent struct {
	loader *prompt.Loader
}

// New returns an architecture Agent using the embedded prompt templates.
func New() *Agent {
	return &Agent{loader: prompt.New()}
}

func (a *Agent) ID() string { return AgentID }

func (a *Agent) DeclaredInputs() []domain.ArtifactType { return nil }

func (a *Agent) DeclaredOutputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactArchitecture}
}

func (a *Agent) Execute(ctx context.Context, rc agent.RunContext, in agent.Inputs) (agent.Outputs, error) {
	if err := rc.Governor.CheckRun(AgentID); err != nil {
		return agent.Outputs{}, err
	}

	query := domain.RetrievalQuery{
		Text:        domainHints(rc.Spec),
		TopK:        6,
		TokenBudget: retrievalBudget,
	}
	ragContext, _ := rc.Engine.Assemble(query)

	tpl, err := a.loader.Load("architecture", "v1")
	if err != nil {
		return agent.Outputs{}, errs.Wrap(errs.Internal, "load architecture prompt", err)
	}

	values := map[string]string{
		"AGENT_ROLE":   "You are a senior embedded firmware architect.",
		"MCU":          rc.Spec.MCU,
		"OPTIMIZATION": string(orDefault(rc.Spec.OptimizationGoal, domain.OptBalanced)),
		"MODULES":      moduleList(rc.Spec.Modules),
		"CONSTRAINTS":  constraintsBlock(rc.Spec),
		"RAG_CONTEXT":  ragContext,
	}
	rendered, _ := prompt.Render(tpl, values)

	text, err := rc.LM.Complete(ctx, rendered)
	if err != nil {
		return agent.Outputs{}, err
	}

	meta := domain.ArtifactMetadata{
		AgentID:       AgentID,
		PromptVersion: tpl.Version,
	}
	path, err := rc.Store.WriteArtifact(rc.RunID, AgentID, domain.ArtifactArchitecture, "", []byte(text), meta)
	if err != nil {
		return agent.Outputs{}, err
	}

	return agent.Outputs{ArtifactPaths: []string{path}}, nil
}

const retrievalBudget = 8000

func domainHints(spec domain.Specification) string {
	kinds := make([]string, 0, len(spec.Modules))
	seen := map[domain.ModuleKind]struct{}{}
	for _, m := range spec.Modules {
		if _, ok := seen[m.Type]; ok {
			continue
		}
		seen[m.Type] = struct{}{}
		kinds = append(kinds, string(m.Type))
	}
	if spec.SafetyCritical {
		kinds = append(kinds, "safety-critical")
	}
	return strings.Join(kinds, " ")
}

func moduleList(modules []domain.ModuleDefinition) string {
	if len(modules) == 0 {
		return "(none declared)"
	}
	var b strings.Builder
	for _, m := range modules {
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.Name, m.Type, m.Description)
	}
	return b.String()
}

func constraintsBlock(spec domain.Specification) string {
	var b strings.Builder
	if spec.SafetyCritical {
		b.WriteString("- safety_critical: true\n")
	}
	for _, r := range spec.Requirements {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	for k, v := range spec.Constraints {
		fmt.Fprintf(&b, "- %s: %v\n", k, v)
	}
	if b.Len() == 0 {
		return "(none declared)"
	}
	return b.String()
}

func orDefault(goal domain.OptimizationGoal, def domain.OptimizationGoal) domain.OptimizationGoal {
	if goal == "" {
		return def
	}
	return goal
}
