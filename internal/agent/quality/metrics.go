package quality

import (
	"regexp"
	"strings"
)

// staticMetrics is the set of numbers the quality agent computes locally,
// without invoking the LM, per spec §4.5.4.
type staticMetrics struct {
	TotalLOC              int
	AvgFunctionLength     float64
	MaxNesting            int
	MagicNumberCount      int
	BannedPatternCount    int
	CommentDensity        float64
	ApproxCyclomatic      int
	BannedPatternMessages []string
}

var (
	functionStartPattern = regexp.MustCompile(`(?m)^[A-Za-z_][A-Za-z0-9_ \*]*\s+\w+\s*\([^;{]*\)\s*\{`)
	magicNumberPattern   = regexp.MustCompile(`(?:[^A-Za-z0-9_.]|^)(\d{2,}|\d+\.\d+)(?:[^A-Za-z0-9_.]|$)`)
	decisionPattern      = regexp.MustCompile(`\b(if|for|while|case|\&\&|\|\|)\b`)
	bannedPatterns       = []struct {
		label   string
		pattern *regexp.Regexp
	}{
		{"dynamic allocation", regexp.MustCompile(`\b(malloc|calloc|realloc|free)\s*\(`)},
		{"goto", regexp.MustCompile(`\bgoto\b`)},
		{"unbounded loop", regexp.MustCompile(`\bwhile\s*\(\s*1\s*\)`)},
	}
)

// computeStaticMetrics analyzes concatenated module source text. It is
// deliberately conservative: it scans text rather than parsing a full C
// grammar, matching the "counted without invoking LM" scope of spec §4.5.4.
func computeStaticMetrics(sources []string) staticMetrics {
	var m staticMetrics
	var totalFunctionLines, functionCount int

	for _, src := range sources {
		lines := strings.Split(src, "\n")
		m.TotalLOC += countNonBlankLines(lines)

		commentLines := countCommentLines(lines)
		if len(lines) > 0 {
			m.CommentDensity += float64(commentLines)
		}

		for _, bp := range bannedPatterns {
			if n := len(bp.pattern.FindAllString(src, -1)); n > 0 {
				m.BannedPatternCount += n
				m.BannedPatternMessages = append(m.BannedPatternMessages, bp.label)
			}
		}

		m.MagicNumberCount += len(magicNumberPattern.FindAllString(src, -1))
		m.ApproxCyclomatic += len(decisionPattern.FindAllString(src, -1)) + 1

		nesting := maxNestingDepth(src)
		if nesting > m.MaxNesting {
			m.MaxNesting = nesting
		}

		starts := functionStartPattern.FindAllStringIndex(src, -1)
		for i, loc := range starts {
			end := len(src)
			if i+1 < len(starts) {
				end = starts[i+1][0]
			}
			body := src[loc[0]:end]
			functionCount++
			totalFunctionLines += strings.Count(body, "\n")
		}
	}

	if functionCount > 0 {
		m.AvgFunctionLength = float64(totalFunctionLines) / float64(functionCount)
	}
	if m.TotalLOC > 0 {
		m.CommentDensity = m.CommentDensity / float64(m.TotalLOC)
	}
	return m
}

func countNonBlankLines(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func countCommentLines(lines []string) int {
	n := 0
	inBlock := false
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if inBlock {
			n++
			if strings.Contains(t, "*/") {
				inBlock = false
			}
			continue
		}
		if strings.HasPrefix(t, "//") {
			n++
			continue
		}
		if strings.HasPrefix(t, "/*") {
			n++
			if !strings.Contains(t, "*/") {
				inBlock = true
			}
		}
	}
	return n
}

// maxNestingDepth approximates brace nesting depth, a reasonable proxy
// for control-flow nesting in C.
func maxNestingDepth(src string) int {
	depth, max := 0, 0
	for _, r := range src {
		switch r {
		case '{':
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
