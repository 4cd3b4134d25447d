package orchestrator

import (
	"fmt"
	"strings"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/stringutils"
)

// validateSpec rejects malformed specifications at submit time (spec §7:
// InvalidInput is surfaced before a run is ever created).
func validateSpec(spec domain.Specification) error {
	var problems []string

	if stringutils.IsEmpty(spec.ProjectName) {
		problems = append(problems, "project_name is required")
	}
	if stringutils.IsEmpty(spec.MCU) {
		problems = append(problems, "mcu is required")
	}

	seen := map[string]struct{}{}
	for i, m := range spec.Modules {
		if stringutils.IsEmpty(m.Name) {
			problems = append(problems, fmt.Sprintf("module[%d]: name is required", i))
		}
		if m.Type == "" {
			problems = append(problems, fmt.Sprintf("module[%d]: type is required", i))
		} else if !domain.ValidModuleKind(m.Type) {
			problems = append(problems, fmt.Sprintf("module[%d]: unknown module type %q", i, m.Type))
		}
		id := moduleID(m)
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("module[%d]: duplicate module id %q", i, id))
		}
		seen[id] = struct{}{}
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.New(errs.InvalidInput, strings.Join(problems, "; "))
}

// moduleID returns the module's declared ID, or a slug derived from its
// name when the ID was left blank.
func moduleID(m domain.ModuleDefinition) string {
	if m.ID != "" {
		return m.ID
	}
	slug := strings.ToLower(strings.TrimSpace(m.Name))
	slug = strings.ReplaceAll(slug, " ", "_")
	return slug
}
