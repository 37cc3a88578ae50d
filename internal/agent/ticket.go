package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// TicketAgent investigates the work item itself: it fetches the backing
// GitHub issue and turns its requirements-relevant fields into context
// entries, each carrying the issue URL as evidence.
type TicketAgent struct {
	client *github.Client
	owner  string
	repo   string
	number int
}

// NewTicketAgent creates a ticket agent for one issue. Pass a client from
// github.NewClient(nil).WithAuthToken(token) for private repositories.
func NewTicketAgent(client *github.Client, owner, repo string, number int) *TicketAgent {
	return &TicketAgent{client: client, owner: owner, repo: repo, number: number}
}

// ID implements Runner.
func (t *TicketAgent) ID() string { return "ticket" }

// Run implements Runner.
func (t *TicketAgent) Run(ctx context.Context, _ *contextstore.Snapshot) (*Result, error) {
	issue, _, err := t.client.Issues.Get(ctx, t.owner, t.repo, t.number)
	if err != nil {
		return nil, fmt.Errorf("fetch issue %s/%s#%d: %w", t.owner, t.repo, t.number, err)
	}

	ref := issue.GetHTMLURL()
	if ref == "" {
		ref = fmt.Sprintf("ticket:%s/%s#%d", t.owner, t.repo, t.number)
	}
	refs := []string{ref}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	entries := []contextstore.Entry{
		{FieldPath: "work_item.title", Value: issue.GetTitle(), Confidence: 1.0, EvidenceRefs: refs},
		{FieldPath: "work_item.state", Value: issue.GetState(), Confidence: 1.0, EvidenceRefs: refs},
	}
	if body := strings.TrimSpace(issue.GetBody()); body != "" {
		entries = append(entries, contextstore.Entry{
			FieldPath: "work_item.description", Value: body, Confidence: 1.0, EvidenceRefs: refs,
		})
	}
	if len(labels) > 0 {
		entries = append(entries, contextstore.Entry{
			FieldPath: "work_item.labels", Value: strings.Join(labels, ","), Confidence: 1.0, EvidenceRefs: refs,
		})
	}

	return &Result{
		Status:       StatusSuccess,
		Payload:      issue.GetTitle(),
		Entries:      entries,
		EvidenceRefs: refs,
	}, nil
}
