package writegate

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxRuleFileSize bounds rule file reads; gate rules are small.
const maxRuleFileSize = 1 << 20

// LoadRules reads and compiles a YAML rule file. The file holds the
// rule categories under a top-level "rules" key:
//
//	rules:
//	  structural:
//	    - kind: test_plan
//	      sections: ["Overview", "Environment", "Test Steps", "Risks"]
//	      ordered: true
//	  prohibited:
//	    - name: no_embedded_markup
//	      pattern: '<[a-zA-Z][^>]*>'
//	      applies_to: [test_plan, summary]
//	  shape:
//	    - name: max_table_rows
//	      kind: test_plan
//	      max_rows: 40
//	  crossref:
//	    - kind: test_plan
//	      require_refs: true
//	    - kind: summary
//	      forbid_refs: true
func LoadRules(path string) (*RuleSet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rule file: %w", err)
	}
	if info.Size() > maxRuleFileSize {
		return nil, fmt.Errorf("rule file too large: %d bytes (max %d)", info.Size(), maxRuleFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	var rs RuleSet
	if err := k.Unmarshal("rules", &rs); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if err := rs.Compile(); err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}
	return &rs, nil
}
