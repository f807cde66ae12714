package hostclient

import "time"

// Issue is the subset of a Host issue the Orchestrator cares about.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Assignees []string
}

// Comment is a single comment on an issue or PR.
type Comment struct {
	ID        int64
	Body      string
	Author    string
	CreatedAt time.Time
}

// PullRequest is the subset of a Host PR the Orchestrator cares about.
type PullRequest struct {
	Number    int
	NodeID    string
	Title     string
	Body      string
	HeadRef   string
	HeadSHA   string
	BaseRef   string
	Author    string
	Draft     bool
	State     string
	MergedSHA string
}

// TimelineEventKind discriminates the PR/issue timeline events the detector
// inspects.
type TimelineEventKind string

const (
	TimelineWorkFinished    TimelineEventKind = "work_finished"
	TimelineReviewRequested TimelineEventKind = "review_requested"
	TimelineCrossReferenced TimelineEventKind = "cross_referenced"
)

// TimelineEvent is a single entry from a PR's or issue's event timeline.
type TimelineEvent struct {
	Kind        TimelineEventKind
	Actor       string
	CreatedAt   time.Time
	SourcePR    int
	SourceIssue int
}

// Review is a single PR review.
type Review struct {
	Author string
	State  string
}

// ProjectItem is one row of a project board, as returned by
// list_project_items.
type ProjectItem struct {
	ItemID      string
	IssueNumber int
	Status      string
}

// SubIssue is a Host issue linked as a child of a parent issue, whose title
// carries a "[<agent>] " prefix per the tracking contract.
type SubIssue struct {
	Number int
	Agent  string
	Title  string
	State  string
}

// AssignBotRequest carries everything needed to assign the Bot to an issue
// for one pipeline step.
type AssignBotRequest struct {
	IssueNumber  int
	AgentTag     string
	BaseBranch   string
	Instructions string
}
