package retrieval

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/logging"
)

//go:embed corpus/*.md
var embeddedCorpus embed.FS

var corpusLog = logging.New("retrieval.corpus")

// frontMatter is the YAML header every corpus document carries between
// "---" fences, ahead of its markdown body.
type frontMatter struct {
	Domain       string   `yaml:"domain"`
	Priority     string   `yaml:"priority"`
	Keywords     []string `yaml:"keywords"`
	ModuleTypes  []string `yaml:"module_types"`
	SearchWeight *float64 `yaml:"search_weight"`
	Title        string   `yaml:"title"`
}

// LoadEmbeddedCorpus loads the corpus bundled into the binary via
// go:embed. It never returns an error for a missing or empty corpus dir;
// malformed individual documents are skipped with a logged warning so one
// bad file cannot take down retrieval for the whole run.
func LoadEmbeddedCorpus() []domain.RetrievalDocument {
	docs, err := LoadCorpusFS(embeddedCorpus, "corpus")
	if err != nil {
		corpusLog.Warn("failed to load embedded corpus: %v", err)
		return nil
	}
	return docs
}

// LoadCorpusFS reads every *.md file under dir in fsys and parses its
// front matter into a RetrievalDocument. The document id is the filename
// without extension.
func LoadCorpusFS(fsys fs.FS, dir string) ([]domain.RetrievalDocument, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var docs []domain.RetrievalDocument
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := dir + "/" + entry.Name()
		raw, err := fs.ReadFile(fsys, path)
		if err != nil {
			corpusLog.Warn("skipping corpus file %s: %v", path, err)
			continue
		}
		doc, err := parseDocument(strings.TrimSuffix(entry.Name(), ".md"), path, raw)
		if err != nil {
			corpusLog.Warn("skipping malformed corpus file %s: %v", path, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func parseDocument(id, path string, raw []byte) (domain.RetrievalDocument, error) {
	text := string(raw)
	const fence = "---"
	if !strings.HasPrefix(text, fence) {
		return domain.RetrievalDocument{}, fmt.Errorf("missing front matter fence")
	}
	rest := text[len(fence):]
	end := strings.Index(rest, fence)
	if end < 0 {
		return domain.RetrievalDocument{}, fmt.Errorf("unterminated front matter")
	}
	header := rest[:end]
	body := strings.TrimPrefix(rest[end+len(fence):], "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return domain.RetrievalDocument{}, fmt.Errorf("front matter: %w", err)
	}

	searchWeight := 0.7
	if fm.SearchWeight != nil {
		searchWeight = *fm.SearchWeight
	}

	keywords := make(map[string]struct{}, len(fm.Keywords))
	for _, k := range fm.Keywords {
		keywords[strings.ToLower(k)] = struct{}{}
	}
	moduleTypes := make(map[string]struct{}, len(fm.ModuleTypes))
	for _, m := range fm.ModuleTypes {
		moduleTypes[strings.ToLower(m)] = struct{}{}
	}

	priority := domain.Priority(fm.Priority)
	switch priority {
	case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
	default:
		priority = domain.PriorityMedium
	}

	title := fm.Title
	if title == "" {
		title = id
	}

	return domain.RetrievalDocument{
		ID:           id,
		Title:        title,
		Path:         path,
		Domain:       fm.Domain,
		Priority:     priority,
		Keywords:     keywords,
		ModuleTypes:  moduleTypes,
		SearchWeight: searchWeight,
		Content:      strings.TrimRight(body, "\n"),
	}, nil
}
