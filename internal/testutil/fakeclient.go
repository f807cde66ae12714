// Package testutil provides a hand-rolled fake hostclient.Client for unit
// tests across internal/detector, internal/advancer, and
// internal/orchestrator, following SPEC_FULL §8's "table-driven fakes for
// the hostclient.Client interface, no live network calls" testing contract.
package testutil

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentpipeline/orchestrator/internal/hostclient"
)

// FakeClient is an in-memory stand-in for hostclient.Client. Every field is
// exported so a test can seed exactly the state it needs and inspect what
// the code under test mutated.
type FakeClient struct {
	Issues    map[int]*hostclient.Issue
	Comments  map[int][]hostclient.Comment
	PRs       map[int]*hostclient.PullRequest
	Timelines map[int][]hostclient.TimelineEvent
	SubIssues map[int][]hostclient.SubIssue
	Files     map[int][]string
	Contents  map[string]string
	Reviews   map[int][]hostclient.Review
	Items     []hostclient.ProjectItem

	MergedPRs    map[int]string // number -> merge commit SHA
	ClosedIssues map[int]bool
	Assignees    map[int][]string
	ItemStatus   map[string]string

	MergeErr error

	nextComment int64
}

// NewFakeClient constructs an empty FakeClient ready to be seeded.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Issues:       map[int]*hostclient.Issue{},
		Comments:     map[int][]hostclient.Comment{},
		PRs:          map[int]*hostclient.PullRequest{},
		Timelines:    map[int][]hostclient.TimelineEvent{},
		SubIssues:    map[int][]hostclient.SubIssue{},
		Files:        map[int][]string{},
		Contents:     map[string]string{},
		Reviews:      map[int][]hostclient.Review{},
		MergedPRs:    map[int]string{},
		ClosedIssues: map[int]bool{},
		Assignees:    map[int][]string{},
		ItemStatus:   map[string]string{},
	}
}

func (f *FakeClient) ListProjectItems(ctx context.Context, projectID string) ([]hostclient.ProjectItem, error) {
	return f.Items, nil
}

func (f *FakeClient) UpdateItemStatus(ctx context.Context, projectID, itemID, statusFieldID, optionID string) error {
	f.ItemStatus[itemID] = optionID
	for i := range f.Items {
		if f.Items[i].ItemID == itemID {
			f.Items[i].Status = optionID
		}
	}
	return nil
}

func (f *FakeClient) GetIssue(ctx context.Context, owner, repo string, number int) (*hostclient.Issue, error) {
	issue, ok := f.Issues[number]
	if !ok {
		return nil, hostclient.ErrNotFound
	}
	cp := *issue
	cp.Assignees = append([]string(nil), f.Assignees[number]...)
	return &cp, nil
}

func (f *FakeClient) ListComments(ctx context.Context, owner, repo string, number int) ([]hostclient.Comment, error) {
	return append([]hostclient.Comment(nil), f.Comments[number]...), nil
}

func (f *FakeClient) UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error {
	if issue, ok := f.Issues[number]; ok {
		issue.Body = body
	}
	return nil
}

func (f *FakeClient) UpdateIssueState(ctx context.Context, owner, repo string, number int, state string) error {
	if issue, ok := f.Issues[number]; ok {
		issue.State = state
	}
	if state == "closed" {
		f.ClosedIssues[number] = true
	}
	return nil
}

func (f *FakeClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.nextComment++
	f.Comments[number] = append(f.Comments[number], hostclient.Comment{ID: f.nextComment, Body: body})
	return nil
}

func (f *FakeClient) CreateSubIssue(ctx context.Context, owner, repo string, parent int, title, body string) (*hostclient.SubIssue, error) {
	number := 10000 + len(f.SubIssues[parent])
	si := hostclient.SubIssue{Number: number, Title: title, State: "open"}
	f.SubIssues[parent] = append(f.SubIssues[parent], si)
	f.Issues[number] = &hostclient.Issue{Number: number, Title: title, Body: body, State: "open"}
	return &si, nil
}

func (f *FakeClient) ListSubIssues(ctx context.Context, owner, repo string, parent int) ([]hostclient.SubIssue, error) {
	return append([]hostclient.SubIssue(nil), f.SubIssues[parent]...), nil
}

func (f *FakeClient) ListLinkedPRs(ctx context.Context, owner, repo string, issueNumber int) ([]hostclient.PullRequest, error) {
	var out []hostclient.PullRequest
	for _, pr := range f.PRs {
		out = append(out, *pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *FakeClient) GetPR(ctx context.Context, owner, repo string, number int) (*hostclient.PullRequest, error) {
	pr, ok := f.PRs[number]
	if !ok {
		return nil, hostclient.ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (f *FakeClient) GetPRTimeline(ctx context.Context, owner, repo string, number int) ([]hostclient.TimelineEvent, error) {
	return append([]hostclient.TimelineEvent(nil), f.Timelines[number]...), nil
}

func (f *FakeClient) GetPRFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	return append([]string(nil), f.Files[number]...), nil
}

func (f *FakeClient) GetFileContents(ctx context.Context, owner, repo, path, ref string) (string, error) {
	content, ok := f.Contents[path]
	if !ok {
		return "", hostclient.ErrNotFound
	}
	return content, nil
}

func (f *FakeClient) MarkPRReady(ctx context.Context, owner, repo string, number int) error {
	if pr, ok := f.PRs[number]; ok {
		pr.Draft = false
	}
	return nil
}

func (f *FakeClient) MergePR(ctx context.Context, owner, repo string, number int, commitHeadline string) (string, error) {
	if f.MergeErr != nil {
		return "", f.MergeErr
	}
	pr, ok := f.PRs[number]
	if !ok {
		return "", hostclient.ErrNotFound
	}
	sha := fmt.Sprintf("merged-%d", number)
	pr.State = "closed"
	pr.MergedSHA = sha
	f.MergedPRs[number] = sha
	return sha, nil
}

func (f *FakeClient) UpdatePRBase(ctx context.Context, owner, repo string, number int, base string) error {
	if pr, ok := f.PRs[number]; ok {
		pr.BaseRef = base
	}
	return nil
}

func (f *FakeClient) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	return nil
}

func (f *FakeClient) LinkPRToIssue(ctx context.Context, owner, repo string, prNumber, issueNumber int) error {
	if pr, ok := f.PRs[prNumber]; ok {
		pr.Body += fmt.Sprintf("\n\nCloses #%d\n", issueNumber)
	}
	return nil
}

func (f *FakeClient) AssignBot(ctx context.Context, owner, repo string, req hostclient.AssignBotRequest, botLogin string) error {
	already, _ := f.IsBotAssigned(ctx, owner, repo, req.IssueNumber, botLogin)
	if already {
		if err := f.UnassignBot(ctx, owner, repo, req.IssueNumber, botLogin); err != nil {
			return err
		}
	}
	f.Assignees[req.IssueNumber] = append(f.Assignees[req.IssueNumber], botLogin)
	return f.CreateComment(ctx, owner, repo, req.IssueNumber, req.Instructions)
}

func (f *FakeClient) UnassignBot(ctx context.Context, owner, repo string, issueNumber int, botLogin string) error {
	var remaining []string
	for _, a := range f.Assignees[issueNumber] {
		if a != botLogin {
			remaining = append(remaining, a)
		}
	}
	f.Assignees[issueNumber] = remaining
	return nil
}

func (f *FakeClient) IsBotAssigned(ctx context.Context, owner, repo string, issueNumber int, botLogin string) (bool, error) {
	for _, a := range f.Assignees[issueNumber] {
		if a == botLogin {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeClient) RequestCodeReview(ctx context.Context, owner, repo string, prNumber int, reviewerLogin string) error {
	f.Reviews[prNumber] = append(f.Reviews[prNumber], hostclient.Review{Author: reviewerLogin, State: "PENDING"})
	return nil
}

func (f *FakeClient) HasCodeReview(ctx context.Context, owner, repo string, prNumber int, reviewerLogin string) (bool, error) {
	for _, r := range f.Reviews[prNumber] {
		if r.Author == reviewerLogin {
			return true, nil
		}
	}
	return false, nil
}

var _ hostclient.Client = (*FakeClient)(nil)
