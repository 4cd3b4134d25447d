// Package agent defines the shared contract every pipeline agent
// implements (spec §4.5). It is grounded on the dashboard's spawner
// abstraction (internal/agents/spawner.go in the teacher: a `Spawner`
// interface plus `AgentConfig` describing how to launch an OS process for
// an agent role); here the same config-in/typed-result-out shape is
// generalized from "spawn a process" to "invoke an in-process unit of work
// against typed artifacts."
package agent

import (
	"context"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/llm"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/store"
)

// RunContext bundles everything an agent needs to do its work: the
// artifact store and MCP governor (both already authorization-aware), the
// retrieval engine, and the LM client for the run's configured provider.
type RunContext struct {
	RunID    string
	Spec     domain.Specification
	Store    *store.Store
	Governor *mcp.Governor
	Engine   *retrieval.Engine
	LM       llm.Client
}

// Inputs carries whatever upstream artifacts/parameters an agent needs.
// Concrete agents type-assert the fields they expect; ModuleID is set for
// per-module stages (code, test) and empty for run-level stages.
type Inputs struct {
	ModuleID string
	Module   domain.ModuleDefinition
	Extra    map[string]interface{}
}

// Outputs reports what an agent produced, for progress and RunState
// bookkeeping.
type Outputs struct {
	ArtifactPaths []string
	Warnings      []string
}

// Agent is the shared contract for every pipeline stage.
type Agent interface {
	ID() string
	DeclaredInputs() []domain.ArtifactType
	DeclaredOutputs() []domain.ArtifactType
	Execute(ctx context.Context, rc RunContext, in Inputs) (Outputs, error)
}
