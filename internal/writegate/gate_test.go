package writegate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pland/internal/artifact"
)

func validPlan() artifact.Artifact {
	return artifact.Artifact{
		Kind: artifact.KindTestPlan,
		Content: strings.Join([]string{
			"## Overview",
			"Validates the upgrade path. [ref: context:work_item.title]",
			"",
			"## Environment",
			"Component version 2.14. [ref: commit:abc123]",
			"",
			"## Test Steps",
			"| Step | Action | Expected |",
			"| --- | --- | --- |",
			"| 1 | upgrade | success |",
			"| 2 | rollback | clean |",
			"",
			"## Risks",
			"Rollback window is tight. [ref: doc:upgrade.md]",
		}, "\n"),
	}
}

func TestValidate_AcceptsValidPlan(t *testing.T) {
	g := New(DefaultRuleSet())

	report := g.Validate(validPlan())

	assert.True(t, report.Accepted)
	assert.Empty(t, report.Violations)
}

func TestValidate_MissingSectionsReported(t *testing.T) {
	g := New(DefaultRuleSet())
	a := artifact.Artifact{
		Kind:    artifact.KindTestPlan,
		Content: "## Overview\nsomething [ref: doc:x.md]\n",
	}

	report := g.Validate(a)

	require.False(t, report.Accepted)
	var found *Violation
	for i := range report.Violations {
		if report.Violations[i].Rule == "required_sections" {
			found = &report.Violations[i]
		}
	}
	require.NotNil(t, found)
	assert.ElementsMatch(t, []string{"Environment", "Test Steps", "Risks"}, found.Locations)
}

func TestValidate_SectionOrderEnforced(t *testing.T) {
	g := New(DefaultRuleSet())
	a := validPlan()
	// Swap Environment after Test Steps.
	a.Content = strings.Replace(a.Content, "## Environment", "## EnvTmp", 1)
	a.Content = strings.Replace(a.Content, "## Risks", "## Environment\nmoved\n\n## Risks", 1)
	a.Content = strings.Replace(a.Content, "## EnvTmp", "## Ignored", 1)

	report := g.Validate(a)

	require.False(t, report.Accepted)
	rules := violationRules(report)
	assert.Contains(t, rules, "section_order")
}

func TestValidate_ProhibitedMarkupAllLocations(t *testing.T) {
	g := New(DefaultRuleSet())
	a := validPlan()
	a.Content += "\n<b>bold</b>\nplain\n<i>italic</i>"

	report := g.Validate(a)

	require.False(t, report.Accepted)
	var v *Violation
	for i := range report.Violations {
		if report.Violations[i].Rule == "no_embedded_markup" {
			v = &report.Violations[i]
		}
	}
	require.NotNil(t, v)
	assert.Len(t, v.Locations, 2, "every offending line is reported, not just the first")
}

func TestValidate_TableRowLimit(t *testing.T) {
	rs := DefaultRuleSet()
	rs.Shape[0].MaxRows = 3
	g := New(rs)

	a := validPlan()
	var rows []string
	for i := 0; i < 5; i++ {
		rows = append(rows, fmt.Sprintf("| %d | step | ok |", i+3))
	}
	a.Content = strings.Replace(a.Content, "| 2 | rollback | clean |",
		"| 2 | rollback | clean |\n"+strings.Join(rows, "\n"), 1)

	report := g.Validate(a)

	require.False(t, report.Accepted)
	assert.Contains(t, violationRules(report), "max_table_rows")
}

func TestValidate_SeparatorAndHeaderNotCounted(t *testing.T) {
	rs := DefaultRuleSet()
	rs.Shape[0].MaxRows = 2
	g := New(rs)

	report := g.Validate(validPlan()) // table has exactly 2 data rows

	assert.True(t, report.Accepted)
}

func TestValidate_PlanRequiresRefs(t *testing.T) {
	g := New(DefaultRuleSet())
	a := validPlan()
	a.Content = evidenceRefPattern.ReplaceAllString(a.Content, "")

	report := g.Validate(a)

	require.False(t, report.Accepted)
	assert.Contains(t, violationRules(report), "evidence_refs_required")
}

func TestValidate_SummaryForbidsRefs(t *testing.T) {
	g := New(DefaultRuleSet())
	a := artifact.Artifact{
		Kind:    artifact.KindSummary,
		Content: "## Overview\nAll good. [ref: doc:internal.md]\n",
	}

	report := g.Validate(a)

	require.False(t, report.Accepted)
	assert.Contains(t, violationRules(report), "evidence_refs_forbidden")

	a.Content = "## Overview\nAll good.\n"
	assert.True(t, g.Validate(a).Accepted)
}

func TestValidate_AllViolationsReportedTogether(t *testing.T) {
	g := New(DefaultRuleSet())
	a := artifact.Artifact{
		Kind:    artifact.KindTestPlan,
		Content: "## Overview\n<div>markup</div>\n",
	}

	report := g.Validate(a)

	require.False(t, report.Accepted)
	rules := violationRules(report)
	assert.Contains(t, rules, "required_sections")
	assert.Contains(t, rules, "no_embedded_markup")
	assert.Contains(t, rules, "evidence_refs_required")
}

func TestValidate_Deterministic(t *testing.T) {
	g := New(DefaultRuleSet())
	a := validPlan()
	a.Content += "\n<span>x</span>"

	first := g.Validate(a)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Validate(a))
	}
}

func TestLoadRules_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  structural:
    - kind: test_plan
      sections: ["Overview", "Steps"]
      ordered: true
  prohibited:
    - name: no_html
      pattern: '<[a-zA-Z][^>]*>'
      applies_to: [test_plan]
  shape:
    - name: max_rows
      kind: test_plan
      max_rows: 10
  crossref:
    - kind: test_plan
      require_refs: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rs.Structural, 1)
	assert.Equal(t, []string{"Overview", "Steps"}, rs.Structural[0].Sections)
	require.Len(t, rs.Prohibited, 1)
	require.Len(t, rs.Shape, 1)
	assert.Equal(t, 10, rs.Shape[0].MaxRows)

	g := New(rs)
	report := g.Validate(artifact.Artifact{
		Kind:    artifact.KindTestPlan,
		Content: "## Overview\nok [ref: doc:a.md]\n\n## Steps\nfine\n",
	})
	assert.True(t, report.Accepted)
}

func TestLoadRules_BadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  prohibited:
    - name: broken
      pattern: '['
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadRules(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCompile_RejectsContradictoryCrossRef(t *testing.T) {
	rs := &RuleSet{
		CrossRef: []CrossRefRule{{Kind: artifact.KindTestPlan, RequireRefs: true, ForbidRefs: true}},
	}
	assert.Error(t, rs.Compile())
}

func violationRules(r Report) []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Rule)
	}
	return out
}
