package quality

import "testing"

func TestComputeStaticMetricsDetectsBannedPatterns(t *testing.T) {
	src := `void f(void) {
    int *p = malloc(10);
    while (1) {
        if (p) { break; }
    }
}
`
	m := computeStaticMetrics([]string{src})
	if m.BannedPatternCount < 2 {
		t.Errorf("expected at least 2 banned patterns (malloc, unbounded loop), got %d: %v", m.BannedPatternCount, m.BannedPatternMessages)
	}
}

func TestComputeStaticMetricsCountsLOCAndNesting(t *testing.T) {
	src := "void f(void) {\n    if (1) {\n        if (2) {\n            return;\n        }\n    }\n}\n"
	m := computeStaticMetrics([]string{src})
	if m.TotalLOC == 0 {
		t.Error("expected non-zero LOC")
	}
	if m.MaxNesting < 3 {
		t.Errorf("expected nesting depth >= 3, got %d", m.MaxNesting)
	}
}

func TestComputeStaticMetricsCommentDensity(t *testing.T) {
	src := "// a comment\nint x = 1;\n// another comment\nint y = 2;\n"
	m := computeStaticMetrics([]string{src})
	if m.CommentDensity <= 0 {
		t.Errorf("expected positive comment density, got %v", m.CommentDensity)
	}
}

func TestComputeStaticMetricsEmptySourceIsZeroValue(t *testing.T) {
	m := computeStaticMetrics([]string{""})
	if m.TotalLOC != 0 || m.BannedPatternCount != 0 {
		t.Errorf("expected zero-value metrics for empty source, got %+v", m)
	}
}

func TestOverallScoreClampsAndSubtractsPenalties(t *testing.T) {
	critical := []map[string]interface{}{
		{"severity": "critical", "type": "a"},
		{"severity": "critical", "type": "b"},
		{"severity": "critical", "type": "c"},
		{"severity": "critical", "type": "d"},
		{"severity": "critical", "type": "e"},
	}
	if got := overallScore(critical); got != 0 {
		t.Errorf("expected score clamped to 0 for 5 critical issues (125 penalty), got %d", got)
	}
	if got := overallScore(nil); got != 100 {
		t.Errorf("expected score 100 with no issues, got %d", got)
	}
	one := []map[string]interface{}{{"severity": "low", "type": "x"}}
	if got := overallScore(one); got != 99 {
		t.Errorf("expected score 99 after one low-severity issue, got %d", got)
	}
}
