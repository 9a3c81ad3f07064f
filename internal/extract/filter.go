package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Filter is the line-level pollution filter applied to the markdown produced
// by structural extraction. It only drops whole lines or rewrites heading
// links; retained lines keep their leading and trailing whitespace untouched
// so code-block indentation survives.
type Filter struct {
	patterns        []string
	caseInsensitive bool
	lowered         []string
}

var (
	imageLine = regexp.MustCompile(`^\s*!\[[^\]]*\]\([^)]*\)\s*$`)
	titleLink = regexp.MustCompile(`^([ \t]*)(#{1,6})\s*\[([^\]]*)\]\([^)]*\)`)
)

// DefaultPatterns is the built-in navigation-chrome blacklist. Lines
// containing any of these substrings are dropped. Operators can replace the
// table via FILTER_PATTERNS_FILE without a code change.
func DefaultPatterns() []string {
	return []string{
		"Skip Navigation",
		"global-nav",
		"Search Developer",
		"To navigate the symbols",
		"Select a technology",
		"Select a language",
		"symbols match your search",
	}
}

type patternsFile struct {
	CaseInsensitive bool     `yaml:"case_insensitive"`
	Patterns        []string `yaml:"patterns"`
}

// NewFilter builds a filter from the given pattern table.
func NewFilter(patterns []string, caseInsensitive bool) *Filter {
	f := &Filter{patterns: patterns, caseInsensitive: caseInsensitive}
	if caseInsensitive {
		f.lowered = make([]string, len(patterns))
		for i, p := range patterns {
			f.lowered[i] = strings.ToLower(p)
		}
	}
	return f
}

// LoadFilter reads a YAML pattern table from path. An empty path yields the
// default table.
func LoadFilter(path string) (*Filter, error) {
	if path == "" {
		return NewFilter(DefaultPatterns(), false), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}
	var pf patternsFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse pattern file: %w", err)
	}
	if len(pf.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file %s defines no patterns", path)
	}
	return NewFilter(pf.Patterns, pf.CaseInsensitive), nil
}

// Apply runs the line-level stages in order: substring blacklist, image
// strip, see-also truncation, title-link unlink. Each stage is a fixed point
// on its own output, so Apply(Apply(md)) == Apply(md).
func (f *Filter) Apply(markdown string) string {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if f.polluted(line) {
			continue
		}
		if imageLine.MatchString(line) {
			continue
		}
		if isSeeAlso(line) {
			break
		}
		if m := titleLink.FindStringSubmatch(line); m != nil {
			line = m[1] + m[2] + " " + m[3] + line[len(m[0]):]
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

func (f *Filter) polluted(line string) bool {
	if f.caseInsensitive {
		lower := strings.ToLower(line)
		for _, p := range f.lowered {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
	for _, p := range f.patterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func isSeeAlso(line string) bool {
	return strings.Contains(strings.ToLower(line), "see also")
}
