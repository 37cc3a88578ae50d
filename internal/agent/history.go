package agent

import (
	"context"
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// HistoryAgent mines recent commit history from a local repository clone.
// Each reported fact references the commits it was derived from.
type HistoryAgent struct {
	repoPath   string
	maxCommits int
}

// NewHistoryAgent creates a history agent over the repository at repoPath.
// maxCommits bounds how far back it looks; zero means 50.
func NewHistoryAgent(repoPath string, maxCommits int) *HistoryAgent {
	if maxCommits <= 0 {
		maxCommits = 50
	}
	return &HistoryAgent{repoPath: repoPath, maxCommits: maxCommits}
}

// ID implements Runner.
func (h *HistoryAgent) ID() string { return "history" }

// Run implements Runner.
func (h *HistoryAgent) Run(ctx context.Context, _ *contextstore.Snapshot) (*Result, error) {
	repo, err := git.PlainOpen(h.repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", h.repoPath, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var (
		summaries []string
		refs      []string
		authors   = map[string]struct{}{}
		count     int
	)
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if count >= h.maxCommits {
			return storer.ErrStop
		}
		count++
		short := c.Hash.String()[:8]
		subject := strings.SplitN(strings.TrimSpace(c.Message), "\n", 2)[0]
		summaries = append(summaries, fmt.Sprintf("%s %s", short, subject))
		refs = append(refs, "commit:"+c.Hash.String())
		authors[c.Author.Name] = struct{}{}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("walk log: %w", err)
	}
	if count == 0 {
		return &Result{Status: StatusPartial, Payload: "empty history"}, nil
	}

	entries := []contextstore.Entry{
		{FieldPath: "history.head", Value: head.Hash().String(), Confidence: 1.0, EvidenceRefs: refs[:1]},
		{FieldPath: "history.recent_commits", Value: strings.Join(summaries, "\n"), Confidence: 0.9, EvidenceRefs: refs},
		{FieldPath: "history.commit_count", Value: count, Confidence: 0.9, EvidenceRefs: refs},
		{FieldPath: "history.author_count", Value: len(authors), Confidence: 0.8, EvidenceRefs: refs},
	}

	return &Result{
		Status:       StatusSuccess,
		Payload:      fmt.Sprintf("%d commits from %s", count, h.repoPath),
		Entries:      entries,
		EvidenceRefs: refs,
	}, nil
}
