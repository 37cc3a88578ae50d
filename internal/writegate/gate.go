package writegate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/pland/internal/artifact"
)

// Violation is one rule failure, with enough location detail for the
// synthesizer to fix it without guessing.
type Violation struct {
	Rule      string   `json:"rule"`
	Category  Category `json:"category"`
	Message   string   `json:"message"`
	Locations []string `json:"locations,omitempty"`
}

func (v Violation) String() string {
	if len(v.Locations) == 0 {
		return fmt.Sprintf("[%s] %s: %s", v.Category, v.Rule, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", v.Category, v.Rule, v.Message, strings.Join(v.Locations, ", "))
}

// Report is the gate's verdict on one artifact. All failing rules are
// reported, not just the first, so a caller can fix everything before
// retrying.
type Report struct {
	Accepted   bool        `json:"accepted"`
	Violations []Violation `json:"violations,omitempty"`
}

// evidenceRefPattern matches the inline [ref: ...] markers that plan
// artifacts use to tie claims back to context-store evidence.
var evidenceRefPattern = regexp.MustCompile(`\[ref:\s*[^\]]+\]`)

// Gate validates artifacts against one immutable rule set.
type Gate struct {
	rules *RuleSet
}

// New creates a gate. The rule set must already be compiled.
func New(rules *RuleSet) *Gate {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Gate{rules: rules}
}

// Validate checks the artifact against every applicable rule. Pure and
// deterministic; the caller decides whether to persist.
func (g *Gate) Validate(a artifact.Artifact) Report {
	var violations []Violation

	violations = append(violations, g.checkStructural(a)...)
	violations = append(violations, g.checkProhibited(a)...)
	violations = append(violations, g.checkShape(a)...)
	violations = append(violations, g.checkCrossRef(a)...)

	return Report{Accepted: len(violations) == 0, Violations: violations}
}

func (g *Gate) checkStructural(a artifact.Artifact) []Violation {
	var out []Violation
	sections := sectionHeadings(a.Content)

	for _, rule := range g.rules.Structural {
		if rule.Kind != a.Kind {
			continue
		}
		index := make(map[string]int, len(sections))
		for i, s := range sections {
			if _, seen := index[s]; !seen {
				index[s] = i
			}
		}

		var missing []string
		for _, want := range rule.Sections {
			if _, ok := index[want]; !ok {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			out = append(out, Violation{
				Rule:      "required_sections",
				Category:  CategoryStructural,
				Message:   fmt.Sprintf("missing required sections: %s", strings.Join(missing, ", ")),
				Locations: missing,
			})
		}

		if rule.Ordered && len(missing) == 0 {
			prev := -1
			for _, want := range rule.Sections {
				pos := index[want]
				if pos < prev {
					out = append(out, Violation{
						Rule:     "section_order",
						Category: CategoryStructural,
						Message:  fmt.Sprintf("section %q is out of order", want),
					})
					break
				}
				prev = pos
			}
		}
	}
	return out
}

func (g *Gate) checkProhibited(a artifact.Artifact) []Violation {
	var out []Violation
	lines := strings.Split(a.Content, "\n")

	for _, rule := range g.rules.Prohibited {
		if !kindMatches(rule.AppliesTo, a.Kind) {
			continue
		}
		var locations []string
		for i, line := range lines {
			if rule.re.MatchString(line) {
				locations = append(locations, fmt.Sprintf("line %d", i+1))
			}
		}
		if len(locations) > 0 {
			out = append(out, Violation{
				Rule:      rule.Name,
				Category:  CategoryProhibited,
				Message:   fmt.Sprintf("prohibited pattern %q found", rule.Pattern),
				Locations: locations,
			})
		}
	}
	return out
}

func (g *Gate) checkShape(a artifact.Artifact) []Violation {
	var out []Violation
	for _, rule := range g.rules.Shape {
		if rule.Kind != a.Kind {
			continue
		}
		rows := tableDataRows(a.Content)
		if rows > rule.MaxRows {
			out = append(out, Violation{
				Rule:     rule.Name,
				Category: CategoryShape,
				Message: fmt.Sprintf("table has %d data rows, limit is %d; split content across artifacts instead of truncating",
					rows, rule.MaxRows),
			})
		}
	}
	return out
}

func (g *Gate) checkCrossRef(a artifact.Artifact) []Violation {
	var out []Violation
	refs := evidenceRefPattern.FindAllStringIndex(a.Content, -1)

	for _, rule := range g.rules.CrossRef {
		if rule.Kind != a.Kind {
			continue
		}
		if rule.RequireRefs && len(refs) == 0 {
			out = append(out, Violation{
				Rule:     "evidence_refs_required",
				Category: CategoryCrossRef,
				Message:  "artifact carries no [ref: ...] evidence references",
			})
		}
		if rule.ForbidRefs && len(refs) > 0 {
			locations := make([]string, 0, len(refs))
			for _, span := range refs {
				locations = append(locations, fmt.Sprintf("line %d", lineOf(a.Content, span[0])))
			}
			out = append(out, Violation{
				Rule:      "evidence_refs_forbidden",
				Category:  CategoryCrossRef,
				Message:   "audience-portable artifact must not embed evidence references",
				Locations: locations,
			})
		}
	}
	return out
}

// sectionHeadings returns "## " heading texts in document order.
func sectionHeadings(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			out = append(out, strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")))
		}
	}
	return out
}

// tableDataRows counts data rows across all pipe tables: the first row
// of each contiguous table block is its header, separator rows do not
// count.
func tableDataRows(content string) int {
	count := 0
	inTable := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") {
			inTable = false
			continue
		}
		if isSeparatorRow(trimmed) {
			continue
		}
		if !inTable {
			inTable = true // header row
			continue
		}
		count++
	}
	return count
}

func isSeparatorRow(line string) bool {
	for _, r := range line {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return true
}

func kindMatches(kinds []artifact.Kind, k artifact.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func lineOf(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}
