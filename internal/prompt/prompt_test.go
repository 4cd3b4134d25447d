package prompt

import (
	"testing"
	"testing/fstest"
)

func TestLoadReadsVersionedFilename(t *testing.T) {
	l := New()
	tpl, err := l.Load("architecture", "v1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tpl.Name != "architecture" || tpl.Version != "v1" {
		t.Errorf("unexpected template identity: %+v", tpl)
	}
	if len(tpl.RecognizedPlaceholders) == 0 {
		t.Error("expected at least one placeholder in the architecture template")
	}
}

func TestLoadUnknownVersionFails(t *testing.T) {
	l := New()
	if _, err := l.Load("architecture", "v99"); err == nil {
		t.Fatal("expected error for missing template version")
	}
}

func TestRenderSubstitutesKnownPlaceholdersLeavesUnknownLiteral(t *testing.T) {
	fsys := fstest.MapFS{
		"templates/x_prompt_v1.md": &fstest.MapFile{Data: []byte("Role: <<AGENT_ROLE>>\nModule: <<MODULE>>\nMissing: <<UNFILLED_ONE>>\n")},
	}
	l := NewFromFS(fsys, "templates")
	tpl, err := l.Load("x", "v1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rendered, unfilled := Render(tpl, map[string]string{
		"AGENT_ROLE": "You are a firmware architect.",
		"MODULE":     "uart0",
	})

	if rendered != "Role: You are a firmware architect.\nModule: uart0\nMissing: <<UNFILLED_ONE>>\n" {
		t.Errorf("unexpected render: %q", rendered)
	}
	if len(unfilled) != 1 || unfilled[0] != "UNFILLED_ONE" {
		t.Errorf("expected UNFILLED_ONE reported unfilled, got %v", unfilled)
	}
}

func TestRenderWithNoValuesLeavesTemplateLiteral(t *testing.T) {
	fsys := fstest.MapFS{
		"templates/x_prompt_v1.md": &fstest.MapFile{Data: []byte("<<A>> <<B>>")},
	}
	l := NewFromFS(fsys, "templates")
	tpl, _ := l.Load("x", "v1")

	rendered, unfilled := Render(tpl, nil)
	if rendered != "<<A>> <<B>>" {
		t.Errorf("expected literal passthrough, got %q", rendered)
	}
	if len(unfilled) != 2 {
		t.Errorf("expected both placeholders reported unfilled, got %v", unfilled)
	}
}
