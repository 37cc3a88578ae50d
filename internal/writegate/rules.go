// Package writegate validates finished artifacts against a declarative
// rule set before they may be persisted. Validation is a pure function
// of content and rules: no clock, no I/O, identical input always yields
// identical output.
package writegate

import (
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/pland/internal/artifact"
)

// Category names the independent rule families the gate evaluates.
type Category string

const (
	CategoryStructural Category = "structural"
	CategoryProhibited Category = "prohibited"
	CategoryShape      Category = "shape"
	CategoryCrossRef   Category = "crossref"
)

// StructuralRule requires sections to be present, optionally in order.
type StructuralRule struct {
	Kind     artifact.Kind `koanf:"kind"`
	Sections []string      `koanf:"sections"`
	Ordered  bool          `koanf:"ordered"`
}

// ProhibitedRule rejects content matching a pattern.
type ProhibitedRule struct {
	Name      string          `koanf:"name"`
	Pattern   string          `koanf:"pattern"`
	AppliesTo []artifact.Kind `koanf:"applies_to"`

	re *regexp.Regexp
}

// ShapeRule bounds table size. Oversized tables must be split into
// multiple artifacts by the synthesizer, never truncated by the gate.
type ShapeRule struct {
	Name    string        `koanf:"name"`
	Kind    artifact.Kind `koanf:"kind"`
	MaxRows int           `koanf:"max_rows"`
}

// CrossRefRule requires or forbids evidence refs per artifact kind.
type CrossRefRule struct {
	Kind        artifact.Kind `koanf:"kind"`
	RequireRefs bool          `koanf:"require_refs"`
	ForbidRefs  bool          `koanf:"forbid_refs"`
}

// RuleSet is the full declarative gate configuration. Immutable once
// compiled; hot reloads swap the whole value.
type RuleSet struct {
	Structural []StructuralRule `koanf:"structural"`
	Prohibited []ProhibitedRule `koanf:"prohibited"`
	Shape      []ShapeRule      `koanf:"shape"`
	CrossRef   []CrossRefRule   `koanf:"crossref"`
}

// Compile validates the rule set and compiles its patterns. Must be
// called before the rule set is handed to a gate.
func (rs *RuleSet) Compile() error {
	for i := range rs.Prohibited {
		p := &rs.Prohibited[i]
		if p.Name == "" {
			return fmt.Errorf("prohibited rule %d has no name", i)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("prohibited rule %q: %w", p.Name, err)
		}
		p.re = re
	}
	for i, s := range rs.Shape {
		if s.Name == "" {
			return fmt.Errorf("shape rule %d has no name", i)
		}
		if s.MaxRows <= 0 {
			return fmt.Errorf("shape rule %q: max_rows must be positive", s.Name)
		}
	}
	for i, c := range rs.CrossRef {
		if c.RequireRefs && c.ForbidRefs {
			return fmt.Errorf("crossref rule %d both requires and forbids refs", i)
		}
	}
	return nil
}

// DefaultRuleSet returns the built-in rules used when no rule file is
// configured: plan artifacts are structured, reference-bearing and free
// of embedded markup; summaries carry no refs.
func DefaultRuleSet() *RuleSet {
	rs := &RuleSet{
		Structural: []StructuralRule{
			{
				Kind:     artifact.KindTestPlan,
				Sections: []string{"Overview", "Environment", "Test Steps", "Risks"},
				Ordered:  true,
			},
			{
				Kind:     artifact.KindSummary,
				Sections: []string{"Overview"},
			},
		},
		Prohibited: []ProhibitedRule{
			{
				Name:      "no_embedded_markup",
				Pattern:   `<[a-zA-Z][^>]*>`,
				AppliesTo: []artifact.Kind{artifact.KindTestPlan, artifact.KindSummary},
			},
		},
		Shape: []ShapeRule{
			{Name: "max_table_rows", Kind: artifact.KindTestPlan, MaxRows: 40},
		},
		CrossRef: []CrossRefRule{
			{Kind: artifact.KindTestPlan, RequireRefs: true},
			{Kind: artifact.KindSummary, ForbidRefs: true},
		},
	}
	if err := rs.Compile(); err != nil {
		// The built-in rules are static; a compile failure here is a bug.
		panic(err)
	}
	return rs
}
