// Package testgen implements the test agent (spec §4.5.3): per module,
// it renders the test prompt from that module's code artifact and writes
// a standalone C test file.
package testgen

import (
	"context"
	"fmt"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/prompt"
)

const AgentID = "test_agent"

type Agent struct {
	loader *prompt.Loader
}

func New() *Agent { return &Agent{loader: prompt.New()} }

func (a *Agent) ID() string { return AgentID }

func (a *Agent) DeclaredInputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactModuleCode}
}

func (a *Agent) DeclaredOutputs() []domain.ArtifactType {
	return []domain.ArtifactType{domain.ArtifactTests}
}

// Execute writes a test file for in.Module. in.Extra["header"] and
// in.Extra["source"] must carry that module's just-written code.
func (a *Agent) Execute(ctx context.Context, rc agent.RunContext, in agent.Inputs) (agent.Outputs, error) {
	if err := rc.Governor.CheckRun(AgentID); err != nil {
		return agent.Outputs{}, err
	}

	header, _ := in.Extra["header"].(string)
	source, _ := in.Extra["source"].(string)
	if header == "" && source == "" {
		return agent.Outputs{}, errs.DependencyMissingError("module_code")
	}

	query := domain.RetrievalQuery{Text: string(in.Module.Type), ModuleType: string(in.Module.Type), TopK: 3, TokenBudget: 4000}
	ragContext, _ := rc.Engine.Assemble(query)

	tpl, err := a.loader.Load("test", "v1")
	if err != nil {
		return agent.Outputs{}, errs.Wrap(errs.Internal, "load test prompt", err)
	}

	values := map[string]string{
		"AGENT_ROLE":  "You are an embedded test engineer.",
		"MCU":         rc.Spec.MCU,
		"MODULE":      in.Module.Name,
		"CODE_FILES":  fmt.Sprintf("// header\n%s\n\n// source\n%s", header, source),
		"RAG_CONTEXT": ragContext,
	}
	rendered, _ := prompt.Render(tpl, values)

	text, err := rc.LM.Complete(ctx, rendered)
	if err != nil {
		return agent.Outputs{}, err
	}

	moduleID := in.ModuleID
	if moduleID == "" {
		moduleID = in.Module.ID
	}
	if moduleID == "" {
		moduleID = in.Module.Name
	}

	meta := domain.ArtifactMetadata{AgentID: AgentID, PromptVersion: tpl.Version, ModuleID: moduleID}
	path, err := rc.Store.WriteArtifact(rc.RunID, AgentID, domain.ArtifactTests, moduleID, []byte(text), meta)
	if err != nil {
		return agent.Outputs{}, err
	}

	return agent.Outputs{ArtifactPaths: []string{path}}, nil
}
