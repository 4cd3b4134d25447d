package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient returns deterministic, plausible-looking responses without
// calling any external service. It infers which of the four prompt kinds
// it was given from cues left in the rendered prompt text (a phrase from
// each template's instructions, or the code template's ###HEADER###
// marker), the same way a human skimming the prompt would.
type MockClient struct{}

// NewMock returns a MockClient. It holds no state and is safe for
// concurrent use.
func NewMock() *MockClient { return &MockClient{} }

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	switch detectKind(prompt) {
	case KindArchitecture:
		return mockArchitecture(prompt), nil
	case KindCode:
		return mockCode(prompt), nil
	case KindTest:
		return mockTest(prompt), nil
	case KindQuality:
		return mockQuality(prompt), nil
	default:
		return mockArchitecture(prompt), nil
	}
}

func detectKind(prompt string) Kind {
	switch {
	case strings.Contains(prompt, "architecture document"):
		return KindArchitecture
	case strings.Contains(prompt, "###HEADER###"):
		return KindCode
	case strings.Contains(prompt, "unit test file"):
		return KindTest
	case strings.Contains(prompt, "qualitative analysis"):
		return KindQuality
	default:
		return KindArchitecture
	}
}

func mockArchitecture(prompt string) string {
	module := extractAfter(prompt, "Modules to account for:\n")
	return fmt.Sprintf(`# Architecture Overview

## Module boundaries
%s

## Initialization order
1. Clock and peripheral enable
2. Bus/GPIO configuration
3. Per-module driver init in declaration order
4. Application control loop entry

## Shared resource ownership
Bus peripherals are owned by the module that declares them; no module
shares a peripheral handle with another without an explicit mutex.

## Safety considerations
Watchdog servicing happens only from the main control loop.
`, module)
}

func mockCode(prompt string) string {
	module := extractAfter(prompt, "Module: ")
	guard := strings.ToUpper(sanitizeIdent(module)) + "_H"
	return fmt.Sprintf(`{"header": "#ifndef %s\n#define %s\n\nvoid %s_init(void);\nint %s_is_ready(void);\n\n#endif\n", "source": "#include \"%s.h\"\n\nstatic int ready = 0;\n\nvoid %s_init(void) {\n    ready = 1;\n}\n\nint %s_is_ready(void) {\n    return ready;\n}\n"}`,
		guard, guard, sanitizeIdent(module), sanitizeIdent(module),
		sanitizeIdent(module), sanitizeIdent(module), sanitizeIdent(module))
}

func mockTest(prompt string) string {
	module := extractAfter(prompt, "Module under test: ")
	ident := sanitizeIdent(module)
	return fmt.Sprintf(`#include <assert.h>
#include "%s.h"

int main(void) {
    %s_init();
    assert(%s_is_ready());
    return 0;
}
`, ident, ident, ident)
}

func mockQuality(prompt string) string {
	return "The generated modules follow a consistent init/ready pattern " +
		"with no dynamic allocation observed. No blocking loops lack a " +
		"bounded exit condition in the sampled source."
}

func extractAfter(s, marker string) string {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return "module"
	}
	rest := s[idx+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "module"
	}
	return rest
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "module"
	}
	return out
}
