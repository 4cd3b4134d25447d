package mcp

import (
	"testing"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
)

func TestCanonicalMatrixGrantsExpectedPermissions(t *testing.T) {
	g := New()

	if err := g.CheckRun("architecture_agent"); err != nil {
		t.Errorf("architecture_agent should be allowed to run: %v", err)
	}
	if err := g.CheckWrite("architecture_agent", "architecture"); err != nil {
		t.Errorf("architecture_agent should write architecture: %v", err)
	}
	if err := g.CheckRead("code_agent", "architecture"); err != nil {
		t.Errorf("code_agent should read architecture: %v", err)
	}
	if err := g.CheckWrite("quality_agent", "reports"); err != nil {
		t.Errorf("quality_agent should write reports: %v", err)
	}
}

func TestCheckWriteRejectsUnauthorizedAgent(t *testing.T) {
	g := New()

	err := g.CheckWrite("test_agent", "architecture")
	if err == nil {
		t.Fatal("expected permission denied")
	}
	if !errs.IsKind(err, errs.PermissionDenied) {
		t.Errorf("expected PermissionDenied kind, got %v", err)
	}
}

func TestQuestModuleIDQualifierMatchesBaseType(t *testing.T) {
	g := New()

	if err := g.CheckRead("test_agent", "module_code:uart0"); err != nil {
		t.Errorf("qualified artifact type should match base permission: %v", err)
	}
}

// TestQualityReportPermissionNameIsRejected guards spec §9's open question:
// "quality_report" is a bug, never a valid permission; only "reports" is
// canonical, so a matrix entry using the old name must not authorize writes
// agents expect to target via "reports" (spec §8 scenario 3).
func TestQualityReportPermissionNameIsRejected(t *testing.T) {
	badMatrix := domain.CapabilityMatrix{
		"quality_agent": {
			"run":                  struct{}{},
			"write:quality_report": struct{}{}, // the rejected legacy name
		},
	}
	g := NewWithMatrix(badMatrix)

	if err := g.CheckWrite("quality_agent", "reports"); err == nil {
		t.Fatal("expected permission denied: quality_report is not a valid alias for reports")
	}
}

func TestInFlightLimiterEnforcesCaps(t *testing.T) {
	l := NewInFlightLimiter(1, 2)

	if !l.TryAcquire("mock") {
		t.Fatal("first acquire for provider should succeed")
	}
	if l.TryAcquire("mock") {
		t.Fatal("second acquire for same provider should fail at per-provider cap 1")
	}
	if !l.TryAcquire("real") {
		t.Fatal("acquire for a different provider should succeed under global cap")
	}
	if l.TryAcquire("real2") {
		t.Fatal("third global acquire should fail at global cap 2")
	}

	l.Release("mock")
	if !l.TryAcquire("mock") {
		t.Fatal("acquire after release should succeed")
	}
}
