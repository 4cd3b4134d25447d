// Package prompt loads versioned prompt templates and performs literal
// placeholder substitution (spec §4.4). It is adapted from the dashboard's
// quote corpus loader (internal/quotes/quotes.go in the teacher), which
// embedded a single flat text file at build time; here an embedded
// directory of versioned, per-agent templates replaces the flat file, and
// substitution replaces random selection.
package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/CLIAIMONITOR/internal/domain"
)

//go:embed templates/*.md
var embeddedTemplates embed.FS

var placeholderPattern = regexp.MustCompile(`<<([A-Z0-9_]+)>>`)

// RecognizedPlaceholders lists the placeholder names spec §4.4 calls out
// explicitly. Loader does not restrict substitution to this set — any
// caller-supplied key is honored. Load records every placeholder present
// in a template, and Render reports the ones left unfilled so callers can
// warn without treating it as an error.
var RecognizedPlaceholders = []string{
	"AGENT_ROLE", "CONSTRAINTS", "RAG_CONTEXT", "MODULE", "MCU",
	"OPTIMIZATION", "BOARD_SPECS", "MODULES", "CODE_ARTIFACTS", "CODE_FILES",
}

// Loader resolves "<name>_prompt_<version>.md" files from an embedded
// directory.
type Loader struct {
	fsys fs.FS
	dir  string
}

// New returns a Loader backed by the binary's embedded template directory.
func New() *Loader {
	return &Loader{fsys: embeddedTemplates, dir: "templates"}
}

// NewFromFS returns a Loader backed by an arbitrary fs.FS, for tests.
func NewFromFS(fsys fs.FS, dir string) *Loader {
	return &Loader{fsys: fsys, dir: dir}
}

// Load reads "<name>_prompt_<version>.md" and returns it as a PromptTemplate.
func (l *Loader) Load(name, version string) (domain.PromptTemplate, error) {
	filename := fmt.Sprintf("%s_prompt_%s.md", name, version)
	path := l.dir + "/" + filename
	raw, err := fs.ReadFile(l.fsys, path)
	if err != nil {
		return domain.PromptTemplate{}, fmt.Errorf("load prompt %s: %w", filename, err)
	}
	return domain.PromptTemplate{
		Name:                    name,
		Version:                 version,
		Raw:                     string(raw),
		RecognizedPlaceholders:  placeholdersIn(string(raw)),
	}, nil
}

// Render substitutes every "<<NAME>>" occurrence found in values; any
// placeholder absent from values is left literal in the output (spec
// §4.4: unfilled placeholders are warnings, not errors). It returns the
// rendered text and the list of placeholders that were left unfilled.
func Render(tpl domain.PromptTemplate, values map[string]string) (rendered string, unfilled []string) {
	unfilledSet := map[string]struct{}{}
	rendered = placeholderPattern.ReplaceAllStringFunc(tpl.Raw, func(match string) string {
		name := match[2 : len(match)-2]
		if v, ok := values[name]; ok {
			return v
		}
		unfilledSet[name] = struct{}{}
		return match
	})

	for name := range unfilledSet {
		unfilled = append(unfilled, name)
	}
	sort.Strings(unfilled)
	return rendered, unfilled
}

func placeholdersIn(raw string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(raw, -1)
	seen := map[string]struct{}{}
	var out []string
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// JoinValues is a small helper agents use to render list-shaped
// placeholders (e.g. MODULES, CODE_FILES) as a single newline-joined block.
func JoinValues(items []string) string {
	return strings.Join(items, "\n")
}
