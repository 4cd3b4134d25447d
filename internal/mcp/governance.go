// Package mcp implements the Model-Control-Protocol governance layer: a
// static capability matrix that every artifact read, write, and agent
// invocation must be checked against (spec §4.1). It is adapted from the
// dashboard's tool-call authorization gate (internal/mcp/server.go in the
// teacher), generalized from "is this JSON-RPC method allowed over this
// agent's SSE session" to "is this (agent, artifact-type, operation)
// triple granted by the static matrix."
package mcp

import (
	"strings"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
)

// permission string forms, spec §4.1.
const (
	prefixRead  = "read:"
	prefixWrite = "write:"
	permRun     = "run"
)

// CanonicalMatrix is the static agent -> permission set defined in spec §4.1.
// "quality_report" is deliberately absent: spec §9 calls out that name as a
// bug to be rejected, with "reports" as the only canonical report type.
func CanonicalMatrix() domain.CapabilityMatrix {
	m := domain.CapabilityMatrix{}
	grant := func(agent string, perms ...string) {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		m[agent] = set
	}

	grant("architecture_agent", permRun, prefixWrite+"architecture", prefixRead+"requirements")
	grant("code_agent", permRun, prefixRead+"architecture", prefixWrite+"module_code")
	grant("test_agent", permRun, prefixRead+"module_code", prefixWrite+"tests")
	grant("quality_agent", permRun, prefixRead+"module_code", prefixRead+"tests", prefixWrite+"reports")
	grant("build_agent", permRun, prefixRead+"module_code", prefixRead+"tests", prefixWrite+"artifacts", prefixWrite+"build_log")

	return m
}

// Governor enforces the capability matrix. It is immutable after
// construction and safe for lock-free concurrent reads (spec §5).
type Governor struct {
	matrix domain.CapabilityMatrix
}

// New returns a Governor backed by the canonical matrix.
func New() *Governor {
	return &Governor{matrix: CanonicalMatrix()}
}

// NewWithMatrix returns a Governor backed by an explicit matrix, for tests
// that need to exercise a deliberately misconfigured matrix (spec §8
// scenario 3).
func NewWithMatrix(m domain.CapabilityMatrix) *Governor {
	return &Governor{matrix: m}
}

func (g *Governor) has(agentID, perm string) bool {
	set, ok := g.matrix[agentID]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// CheckRun succeeds iff agentID has the "run:agent" capability.
func (g *Governor) CheckRun(agentID string) error {
	if !g.has(agentID, permRun) {
		return errs.PermissionDeniedError(agentID, "run:agent")
	}
	return nil
}

// CheckRead succeeds iff agentID has "read:<type>". artifactType may carry
// a qualifier of the form "module_code:<module_id>"; the check matches on
// the base type before the colon (spec §4.1).
func (g *Governor) CheckRead(agentID string, artifactType string) error {
	base := baseType(artifactType)
	if !g.has(agentID, prefixRead+base) {
		return errs.PermissionDeniedError(agentID, "read:"+artifactType)
	}
	return nil
}

// CheckWrite succeeds iff agentID has "write:<type>".
func (g *Governor) CheckWrite(agentID string, artifactType string) error {
	base := baseType(artifactType)
	if !g.has(agentID, prefixWrite+base) {
		return errs.PermissionDeniedError(agentID, "write:"+artifactType)
	}
	return nil
}

func baseType(artifactType string) string {
	if i := strings.Index(artifactType, ":"); i >= 0 {
		return artifactType[:i]
	}
	return artifactType
}
