// Package hostclient is the Orchestrator's typed view of the Host API
// (GitHub): issues, comments, pull requests, reviews, branches, and project
// board fields, all wrapped in the rate-limit-aware retry policy from
// SPEC_FULL §4.1. It is the leaf dependency every other package consumes
// through the narrow Client interface below, cutting the cyclic-import risk
// flagged in the design notes.
package hostclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/pkg/errors"
)

// Client is the full set of Host operations the Orchestrator needs.
// Implementations must be safe to share across goroutines even though, per
// §5, only the poll loop goroutine is expected to call it in practice.
type Client interface {
	ListProjectItems(ctx context.Context, projectID string) ([]ProjectItem, error)
	UpdateItemStatus(ctx context.Context, projectID, itemID, fieldName, optionName string) error

	GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)
	UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error
	UpdateIssueState(ctx context.Context, owner, repo string, number int, state string) error
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
	CreateSubIssue(ctx context.Context, owner, repo string, parent int, title, body string) (*SubIssue, error)
	ListSubIssues(ctx context.Context, owner, repo string, parent int) ([]SubIssue, error)

	ListLinkedPRs(ctx context.Context, owner, repo string, issueNumber int) ([]PullRequest, error)
	GetPR(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetPRTimeline(ctx context.Context, owner, repo string, number int) ([]TimelineEvent, error)
	GetPRFiles(ctx context.Context, owner, repo string, number int) ([]string, error)
	GetFileContents(ctx context.Context, owner, repo, path, ref string) (string, error)

	MarkPRReady(ctx context.Context, owner, repo string, number int) error
	MergePR(ctx context.Context, owner, repo string, number int, commitHeadline string) (string, error)
	UpdatePRBase(ctx context.Context, owner, repo string, number int, base string) error
	DeleteBranch(ctx context.Context, owner, repo, branch string) error
	LinkPRToIssue(ctx context.Context, owner, repo string, prNumber, issueNumber int) error

	AssignBot(ctx context.Context, owner, repo string, req AssignBotRequest, botLogin string) error
	UnassignBot(ctx context.Context, owner, repo string, issueNumber int, botLogin string) error
	IsBotAssigned(ctx context.Context, owner, repo string, issueNumber int, botLogin string) (bool, error)

	RequestCodeReview(ctx context.Context, owner, repo string, prNumber int, reviewerLogin string) error
	HasCodeReview(ctx context.Context, owner, repo string, prNumber int, reviewerLogin string) (bool, error)
}

// clientImpl implements Client over go-github, following the wrapper shape
// of the teacher's ghclient.clientImpl.
type clientImpl struct {
	gh      *github.Client
	token   string
	graphQL string
	http    *http.Client
	retry   *retrier
}

// Option configures a Client at construction time.
type Option func(*clientImpl)

// WithHTTPClient overrides the HTTP client used for GraphQL requests and for
// constructing the go-github REST client. Primarily for tests, to point at
// an httptest.Server.
func WithHTTPClient(h *http.Client) Option {
	return func(c *clientImpl) {
		c.http = h
		base := c.gh.BaseURL
		c.gh = github.NewClient(h).WithAuthToken(c.token)
		c.gh.BaseURL = base
	}
}

// WithBaseURL overrides the REST and GraphQL base URLs, for tests.
func WithBaseURL(restBaseURL, graphQLURL string) Option {
	return func(c *clientImpl) {
		if u, err := url.Parse(restBaseURL); err == nil {
			c.gh.BaseURL = u
		}
		c.graphQL = graphQLURL
	}
}

// NewClient creates a Host Client authenticated with a personal access
// token. Requests share one HTTP client with a bounded timeout per §5.
func NewClient(token string, opts ...Option) Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	c := &clientImpl{
		token:   token,
		graphQL: "https://api.github.com/graphql",
		http:    httpClient,
		retry:   newRetrier(),
	}
	c.gh = github.NewClient(c.http).WithAuthToken(token)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithGitHub builds a Client from an already-configured
// *github.Client, used in tests to inject a client pointing at an
// httptest.Server (mirroring the teacher's ghclient.NewClientWithGitHub).
func NewClientWithGitHub(gh *github.Client, graphQLURL string) Client {
	return &clientImpl{
		gh:      gh,
		graphQL: graphQLURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   newRetrier(),
	}
}

// reassignPause is how long AssignBot waits after unassigning the Bot
// before re-assigning it with a new tag, per SPEC_FULL §4.1's assignment
// contract ("pauses briefly to let the Host propagate the change").
const reassignPause = 2 * time.Second

func (c *clientImpl) sleep(ctx context.Context, d time.Duration) error {
	return c.retry.sleep(ctx, d)
}

func (c *clientImpl) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var issue *github.Issue
	err := c.retry.do(ctx, func() (*github.Response, error) {
		var apiErr error
		var resp *github.Response
		issue, resp, apiErr = c.gh.Issues.Get(ctx, owner, repo, number)
		return resp, apiErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get issue %s/%s#%d", owner, repo, number)
	}
	return toIssue(issue), nil
}

func (c *clientImpl) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	var all []Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page []*github.IssueComment
		var resp *github.Response
		err := c.retry.do(ctx, func() (*github.Response, error) {
			var apiErr error
			page, resp, apiErr = c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
			return resp, apiErr
		})
		if err != nil {
			return nil, errors.Wrapf(err, "list comments %s/%s#%d", owner, repo, number)
		}
		for _, comment := range page {
			all = append(all, toComment(comment))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *clientImpl) UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error {
	err := c.retry.do(ctx, func() (*github.Response, error) {
		_, resp, apiErr := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{Body: github.Ptr(body)})
		return resp, apiErr
	})
	return errors.Wrapf(err, "update issue body %s/%s#%d", owner, repo, number)
}

func (c *clientImpl) UpdateIssueState(ctx context.Context, owner, repo string, number int, state string) error {
	err := c.retry.do(ctx, func() (*github.Response, error) {
		_, resp, apiErr := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{State: github.Ptr(state)})
		return resp, apiErr
	})
	return errors.Wrapf(err, "update issue state %s/%s#%d", owner, repo, number)
}

func (c *clientImpl) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	err := c.retry.do(ctx, func() (*github.Response, error) {
		_, resp, apiErr := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.Ptr(body)})
		return resp, apiErr
	})
	return errors.Wrapf(err, "create comment %s/%s#%d", owner, repo, number)
}

// CreateSubIssue creates a new issue with agentTitle used verbatim as its
// title (no "[<agent>]" prefix is added here) and links it as a sub-issue of
// parent. The link itself goes over the sub-issues REST surface
// raw, following the teacher's graphqlMarkReady precedent of dropping to a
// direct HTTP call for an endpoint go-github's typed client doesn't cover.
func (c *clientImpl) CreateSubIssue(ctx context.Context, owner, repo string, parent int, agentTitle, body string) (*SubIssue, error) {
	var issue *github.Issue
	err := c.retry.do(ctx, func() (*github.Response, error) {
		var apiErr error
		var resp *github.Response
		issue, resp, apiErr = c.gh.Issues.Create(ctx, owner, repo, &github.IssueRequest{
			Title: github.Ptr(agentTitle),
			Body:  github.Ptr(body),
		})
		return resp, apiErr
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create sub-issue for %s/%s#%d", owner, repo, parent)
	}

	if err := c.linkSubIssue(ctx, owner, repo, parent, issue.GetID()); err != nil {
		return nil, errors.Wrapf(err, "link sub-issue %d to parent #%d", issue.GetNumber(), parent)
	}

	agent := parseAgentPrefix(issue.GetTitle())
	return &SubIssue{Number: issue.GetNumber(), Agent: agent, Title: issue.GetTitle(), State: issue.GetState()}, nil
}

func (c *clientImpl) ListSubIssues(ctx context.Context, owner, repo string, parent int) ([]SubIssue, error) {
	var raw []subIssueNode
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/sub_issues", owner, repo, parent)
	if err := c.restGet(ctx, path, &raw); err != nil {
		return nil, errors.Wrapf(err, "list sub-issues for %s/%s#%d", owner, repo, parent)
	}
	out := make([]SubIssue, 0, len(raw))
	for _, n := range raw {
		out = append(out, SubIssue{Number: n.Number, Title: n.Title, State: n.State, Agent: parseAgentPrefix(n.Title)})
	}
	return out, nil
}

// parseAgentPrefix extracts <agent> from a "[<agent>] <title>" sub-issue
// title, per SPEC_FULL §6/§4.3 step 4. Returns "" if the title doesn't
// follow the contract.
func parseAgentPrefix(title string) string {
	if !strings.HasPrefix(title, "[") {
		return ""
	}
	end := strings.Index(title, "]")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(title[1:end])
}

func toIssue(i *github.Issue) *Issue {
	if i == nil {
		return nil
	}
	assignees := make([]string, 0, len(i.Assignees))
	for _, a := range i.Assignees {
		assignees = append(assignees, a.GetLogin())
	}
	return &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		Assignees: assignees,
	}
}

func toComment(c *github.IssueComment) Comment {
	return Comment{
		ID:        c.GetID(),
		Body:      c.GetBody(),
		Author:    c.GetUser().GetLogin(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}
