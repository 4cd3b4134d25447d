package architecture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CLIAIMONITOR/internal/agent"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/llm"
	"github.com/CLIAIMONITOR/internal/mcp"
	"github.com/CLIAIMONITOR/internal/retrieval"
	"github.com/CLIAIMONITOR/internal/store"
)

func TestExecuteWritesArchitectureArtifact(t *testing.T) {
	gov := mcp.New()
	s := store.New(t.TempDir(), gov)
	engine := retrieval.New(nil)

	rc := agent.RunContext{
		RunID: "run1",
		Spec: domain.Specification{
			ProjectName: "Widget",
			MCU:         "ESP32",
			Modules: []domain.ModuleDefinition{
				{ID: "uart0", Name: "uart0", Type: domain.ModuleUART},
			},
			SafetyCritical: true,
		},
		Store:    s,
		Governor: gov,
		Engine:   engine,
		LM:       llm.NewMock(),
	}

	a := New()
	out, err := a.Execute(context.Background(), rc, agent.Inputs{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.ArtifactPaths) != 1 {
		t.Fatalf("expected 1 artifact path, got %v", out.ArtifactPaths)
	}

	buf, err := os.ReadFile(out.ArtifactPaths[0])
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.HasPrefix(string(buf), "# ") {
		t.Errorf("expected markdown heading in architecture artifact, got %q", string(buf)[:20])
	}
	if filepath.Base(out.ArtifactPaths[0]) != "architecture.md" {
		t.Errorf("expected architecture.md, got %s", filepath.Base(out.ArtifactPaths[0]))
	}
}

func TestDomainHintsIncludesSafetyCriticalAndModuleTypes(t *testing.T) {
	spec := domain.Specification{
		Modules: []domain.ModuleDefinition{
			{Type: domain.ModuleUART}, {Type: domain.ModuleI2C},
		},
		SafetyCritical: true,
	}
	hints := domainHints(spec)
	if !strings.Contains(hints, "uart") || !strings.Contains(hints, "i2c") || !strings.Contains(hints, "safety-critical") {
		t.Errorf("expected hints to mention uart, i2c, and safety-critical, got %q", hints)
	}
}

func TestModuleListHandlesNoModules(t *testing.T) {
	if got := moduleList(nil); got != "(none declared)" {
		t.Errorf("expected placeholder text for no modules, got %q", got)
	}
}
