// Package retrieval scores a fixed markdown corpus against agent queries
// and assembles a character-budgeted context block (spec §4.3). It is
// adapted from the dashboard's memory-recall engine (internal/memory in
// the teacher), which scored stored conversation documents by tag overlap
// against a live SQLite-backed store; here the corpus is loaded once at
// startup and never mutated, and scoring targets firmware design
// documents instead of chat history.
package retrieval

import (
	"sort"
	"strings"

	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/logging"
)

const (
	weightKeyword  = 0.40
	weightDomain   = 0.30
	weightPriority = 0.15
	weightSearch   = 0.15

	moduleTypeMismatchPenalty = 0.5

	// DefaultTokenBudget is the default context budget in tokens; it is
	// converted at charsPerToken characters per token, so 2,000 tokens
	// allow 8,000 characters.
	DefaultTokenBudget = 2000
	charsPerToken      = 4
)

// Engine holds the loaded corpus and answers scored queries against it.
// It is immutable after construction and safe for concurrent lock-free
// reads (spec §5).
type Engine struct {
	docs []domain.RetrievalDocument
	log  *logging.Logger
}

// New builds an Engine from an already-loaded corpus. An empty or nil
// corpus is valid: queries against it simply return no documents (spec
// §4.3 "absent corpus yields an empty result, never an error").
func New(docs []domain.RetrievalDocument) *Engine {
	sorted := append([]domain.RetrievalDocument(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Engine{docs: sorted, log: logging.New("retrieval")}
}

// Documents returns every loaded corpus document, sorted by ID, for
// GET /api/docs/rag's plain enumeration (no scoring involved).
func (e *Engine) Documents() []domain.RetrievalDocument {
	out := make([]domain.RetrievalDocument, len(e.docs))
	copy(out, e.docs)
	return out
}

// Query scores every document against q and returns up to q.TopK ranked
// (doc_id, score) pairs. Ties are broken by priority, then by document id.
func (e *Engine) Query(q domain.RetrievalQuery) []domain.ScoredDocument {
	if len(e.docs) == 0 {
		return nil
	}

	terms := queryTerms(q.Text)
	scored := make([]domain.ScoredDocument, 0, len(e.docs))
	for _, d := range e.docs {
		score := scoreDocument(d, terms, q.ModuleType)
		scored = append(scored, domain.ScoredDocument{DocID: d.ID, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		pi, pj := e.priorityOf(scored[i].DocID), e.priorityOf(scored[j].DocID)
		if pi != pj {
			return domain.PriorityWeight(pi) > domain.PriorityWeight(pj)
		}
		return scored[i].DocID < scored[j].DocID
	})

	topK := q.TopK
	if topK <= 0 || topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK]
}

// Assemble runs Query and concatenates the winning documents' text under
// a separator line, truncating at q.TokenBudget characters (falling back
// to DefaultTokenBudget) without ever splitting inside a paragraph. It
// returns the assembled context and the ids of any documents that scored
// but were dropped for budget reasons.
func (e *Engine) Assemble(q domain.RetrievalQuery) (context string, omitted []string) {
	budget := q.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget * charsPerToken
	}

	ranked := e.Query(q)
	var b strings.Builder
	for _, sd := range ranked {
		doc, ok := e.docByID(sd.DocID)
		if !ok {
			continue
		}
		addition := doc.Content
		sep := ""
		if b.Len() > 0 {
			sep = "\n\n---\n\n"
		}
		if b.Len()+len(sep)+len(addition) > budget {
			omitted = append(omitted, sd.DocID)
			continue
		}
		b.WriteString(sep)
		b.WriteString(addition)
	}
	return b.String(), omitted
}

func (e *Engine) docByID(id string) (domain.RetrievalDocument, bool) {
	i := sort.Search(len(e.docs), func(i int) bool { return e.docs[i].ID >= id })
	if i < len(e.docs) && e.docs[i].ID == id {
		return e.docs[i], true
	}
	return domain.RetrievalDocument{}, false
}

func (e *Engine) priorityOf(id string) domain.Priority {
	doc, ok := e.docByID(id)
	if !ok {
		return domain.PriorityLow
	}
	return doc.Priority
}

func scoreDocument(d domain.RetrievalDocument, terms []string, moduleType string) float64 {
	keywordOverlap := overlapRatio(terms, d.Keywords)
	domainMatch := 0.0
	for _, t := range terms {
		if t == strings.ToLower(d.Domain) {
			domainMatch = 1.0
			break
		}
	}

	score := weightKeyword*keywordOverlap +
		weightDomain*domainMatch +
		weightPriority*domain.PriorityWeight(d.Priority) +
		weightSearch*d.SearchWeight

	if moduleType != "" && !matchesModuleType(d, moduleType) {
		score *= moduleTypeMismatchPenalty
	}
	return score
}

func matchesModuleType(d domain.RetrievalDocument, moduleType string) bool {
	if _, ok := d.ModuleTypes["all"]; ok {
		return true
	}
	_, ok := d.ModuleTypes[strings.ToLower(moduleType)]
	return ok
}

func overlapRatio(terms []string, keywords map[string]struct{}) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if _, ok := keywords[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// queryTerms lower-cases and splits q on whitespace/hyphens into a
// deduplicated term set, matching the corpus's lower-cased, hyphenated
// keyword convention (spec §4.3).
func queryTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ','
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".;:!?()\"'")
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
