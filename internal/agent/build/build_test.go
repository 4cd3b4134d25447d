package build

import "testing"

func TestHasCompilerFalseWhenNameEmpty(t *testing.T) {
	a := New("")
	if a.hasCompiler() {
		t.Error("expected hasCompiler to be false with no compiler name configured")
	}
}

func TestHasCompilerFalseForUnknownBinary(t *testing.T) {
	a := New("definitely-not-a-real-compiler-binary-xyz")
	if a.hasCompiler() {
		t.Error("expected hasCompiler to be false for a binary not on PATH")
	}
}

func TestTestStatusLabel(t *testing.T) {
	cases := []struct {
		passed, failed int
		want           string
	}{
		{0, 0, "not_run"},
		{2, 0, "passed"},
		{1, 1, "failed"},
	}
	for _, c := range cases {
		if got := testStatusLabel(c.passed, c.failed); got != c.want {
			t.Errorf("testStatusLabel(%d,%d) = %q, want %q", c.passed, c.failed, got, c.want)
		}
	}
}

func TestCompileInstructionMentionsConfiguredCompiler(t *testing.T) {
	a := New("arm-none-eabi-gcc")
	instr := a.compileInstruction([]ModuleFile{{ModuleID: "uart0", SourcePath: "module_code/uart0/uart0.c"}})
	if instr == "" {
		t.Fatal("expected non-empty compile instruction")
	}
}
