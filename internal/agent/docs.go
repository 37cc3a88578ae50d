package agent

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// DocAgent inventories a documentation tree: markdown files and their
// top-level headings. Evidence refs are doc:<relative-path> anchors that
// the evidence resolver can check against the filesystem.
type DocAgent struct {
	root string
}

// NewDocAgent creates a doc agent rooted at the given directory.
func NewDocAgent(root string) *DocAgent {
	return &DocAgent{root: root}
}

// ID implements Runner.
func (d *DocAgent) ID() string { return "docs" }

// Run implements Runner.
func (d *DocAgent) Run(ctx context.Context, _ *contextstore.Snapshot) (*Result, error) {
	var (
		titles []string
		refs   []string
	)
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			rel = path
		}
		title := firstHeading(path)
		if title == "" {
			title = rel
		}
		titles = append(titles, title)
		refs = append(refs, "doc:"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk docs %s: %w", d.root, err)
	}
	if len(refs) == 0 {
		return &Result{Status: StatusPartial, Payload: "no documentation found"}, nil
	}

	entries := []contextstore.Entry{
		{FieldPath: "docs.count", Value: len(refs), Confidence: 1.0, EvidenceRefs: refs},
		{FieldPath: "docs.index", Value: strings.Join(titles, "\n"), Confidence: 0.9, EvidenceRefs: refs},
	}

	return &Result{
		Status:       StatusSuccess,
		Payload:      fmt.Sprintf("%d documents under %s", len(refs), d.root),
		Entries:      entries,
		EvidenceRefs: refs,
	}, nil
}

// firstHeading returns the first markdown heading in the file, without
// the leading hashes. Empty when the file has none.
func firstHeading(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}
