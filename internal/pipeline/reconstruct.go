package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
)

// doneMarker reports whether comment body carries the durable completion
// marker for agent.
func doneMarker(body, agent string) bool {
	return strings.Contains(body, agent+": Done!")
}

// Reconstruct rebuilds a Pipeline for issueNumber from Host state, following
// the five steps of the reconstruction contract: scan comments for durable
// Done markers (stopping at the first gap), locate the main branch from
// linked PRs, map sub-issues to agents, and capture the main PR's current
// head SHA as the pipeline's assigned SHA. claimedChildPRs records any
// already-merged child PR found for a completed agent, so the advancer never
// re-attempts a merge reconstruction already knows happened.
func Reconstruct(
	ctx context.Context,
	client hostclient.Client,
	claimedChildPRs *cache.Set,
	owner, repo string,
	issueNumber int,
	projectID, status string,
	agents []string,
	botLogin string,
) (*Pipeline, error) {
	issue, err := client.GetIssue(ctx, owner, repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("reconstruct issue #%d: %w", issueNumber, err)
	}

	comments, err := client.ListComments(ctx, owner, repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("reconstruct issue #%d comments: %w", issueNumber, err)
	}

	var completed []string
	for _, agent := range agents {
		done := false
		for _, c := range comments {
			if doneMarker(c.Body, agent) {
				done = true
				break
			}
		}
		if !done {
			break
		}
		completed = append(completed, agent)
	}

	linkedPRs, err := client.ListLinkedPRs(ctx, owner, repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("reconstruct issue #%d linked PRs: %w", issueNumber, err)
	}

	p := &Pipeline{
		IssueID:      issueNumber,
		ProjectID:    projectID,
		Status:       status,
		Agents:       agents,
		CurrentIndex: len(completed),
		Completed:    completed,
		SubIssues:    map[string]int{},
	}
	_ = issue

	mainPR := selectMainPR(linkedPRs, botLogin)
	if mainPR != nil {
		// Linked is only true if at least one agent's durable Done marker
		// already fired: that's the only proof first-PR capture actually
		// ran, as opposed to this being the first agent's own PR sitting
		// open, not yet captured.
		p.MainBranch = MainBranch{Name: mainPR.HeadRef, PRID: mainPR.Number, HeadSHA: mainPR.HeadSHA, Linked: len(completed) > 0}
		p.AssignedSHA = mainPR.HeadSHA
	}

	subIssues, err := client.ListSubIssues(ctx, owner, repo, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("reconstruct issue #%d sub-issues: %w", issueNumber, err)
	}
	for _, si := range subIssues {
		if si.Agent != "" {
			p.SubIssues[si.Agent] = si.Number
		}
	}

	claimMergedChildPRs(claimedChildPRs, issueNumber, completed, mainPR, linkedPRs)

	return p, nil
}

// selectMainPR picks the first open/draft PR authored by the Bot, matching
// the reconstruction contract's "first open/draft Bot-authored PR" rule.
// Among ties, the lowest PR number is preferred (earliest opened).
func selectMainPR(prs []hostclient.PullRequest, botLogin string) *hostclient.PullRequest {
	var candidates []hostclient.PullRequest
	for _, pr := range prs {
		if pr.Author != botLogin {
			continue
		}
		if pr.State != "open" {
			continue
		}
		candidates = append(candidates, pr)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Number < candidates[j].Number })
	return &candidates[0]
}

// claimMergedChildPRs attributes already-merged, non-main PRs to completed
// agents on a best-effort basis: the first completed agent is assumed to own
// the main PR itself (no separate child PR to claim), and each subsequent
// completed agent is zipped, in PR-number order, against the merged PRs that
// remain. This is advisory bookkeeping only (see cache.Caches.ClaimedChildPRs
// doc) — losing or mis-attributing an entry here costs a redundant merge
// attempt next tick, never incorrect pipeline state.
func claimMergedChildPRs(claimed *cache.Set, issueNumber int, completed []string, mainPR *hostclient.PullRequest, linkedPRs []hostclient.PullRequest) {
	if len(completed) <= 1 {
		return
	}

	var merged []hostclient.PullRequest
	for _, pr := range linkedPRs {
		if pr.MergedSHA == "" {
			continue
		}
		if mainPR != nil && pr.Number == mainPR.Number {
			continue
		}
		merged = append(merged, pr)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Number < merged[j].Number })

	childAgents := completed[1:]
	for i, agent := range childAgents {
		if i >= len(merged) {
			break
		}
		claimed.Add(fmt.Sprintf("%d:%d:%s", issueNumber, merged[i].Number, agent))
	}
}
