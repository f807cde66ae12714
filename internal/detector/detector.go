// Package detector implements the Completion Detector: the three-tier
// scheme (durable marker, fresh PR/timeline signal, commit+disengagement)
// that decides whether the active agent on an issue has finished, grounded
// on copilot_polling/completion.py and pr_detection.py in original_source/.
package detector

import (
	"context"
	"strconv"
	"strings"

	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/logging"
	"github.com/agentpipeline/orchestrator/internal/pipeline"
)

var log = logging.New("detector")

// Result reports the detector's verdict for one (issue, agent) pair.
type Result struct {
	// Done reports whether the agent is considered finished.
	Done bool

	// Failed reports Tier C's false-positive guard: the Bot disengaged
	// without producing a new commit. The Orchestrator logs this but does
	// NOT advance — there is no artifact to attribute.
	Failed bool

	// Tier names which tier produced the verdict, for logging only.
	Tier string
}

// Detector decides agent completion from Host signals.
type Detector struct {
	client            hostclient.Client
	systemMarkedReady *cache.Set
	botLogin          string
}

// New constructs a Detector. systemMarkedReady is the shared cache the
// Advancer populates when it converts a PR draft->ready itself (status
// transition to the review status), so Tier B doesn't mistake the
// Orchestrator's own action for agent-driven completion.
func New(client hostclient.Client, systemMarkedReady *cache.Set, botLogin string) *Detector {
	return &Detector{client: client, systemMarkedReady: systemMarkedReady, botLogin: botLogin}
}

// doneMarkerBody reports whether body carries the durable completion marker
// for agent: the literal substring "<agent>: Done!".
func doneMarkerBody(body, agent string) bool {
	return strings.Contains(body, agent+": Done!")
}

// IsComplete evaluates all three tiers in order for agent on issueNumber,
// returning true from the first tier that fires. isFirstAgent selects
// between Tier B's "main PR" and "child PR" code paths, per SPEC_FULL §4.4.
// defaultBranch is the platform's default branch, accepted alongside the
// main branch as a Tier B child-PR base per §6 (a child PR pending
// re-target by the Advancer still counts).
func (d *Detector) IsComplete(ctx context.Context, owner, repo string, issueNumber int, agent string, isFirstAgent bool, pipe *pipeline.Pipeline, defaultBranch string) (Result, error) {
	done, err := d.tierA(ctx, owner, repo, issueNumber, agent, pipe)
	if err != nil {
		return Result{}, err
	}
	if done {
		return Result{Done: true, Tier: "A"}, nil
	}

	done, err = d.tierB(ctx, owner, repo, issueNumber, agent, isFirstAgent, pipe, defaultBranch)
	if err != nil {
		return Result{}, err
	}
	if done {
		return Result{Done: true, Tier: "B"}, nil
	}

	return d.tierC(ctx, owner, repo, issueNumber, agent, isFirstAgent, pipe)
}

// HasDoneMarker reports whether the durable "<agent>: Done!" marker has
// already been posted for agent, so Phase 0 artifact posting never posts it
// twice. It is the same check Tier A performs internally, exported for that
// one extra caller.
func (d *Detector) HasDoneMarker(ctx context.Context, owner, repo string, issueNumber int, agent string, pipe *pipeline.Pipeline) (bool, error) {
	return d.tierA(ctx, owner, repo, issueNumber, agent, pipe)
}

// tierA checks for the "<agent>: Done!" comment on the parent issue
// (preferred) or the agent's sub-issue (legacy fallback).
func (d *Detector) tierA(ctx context.Context, owner, repo string, issueNumber int, agent string, pipe *pipeline.Pipeline) (bool, error) {
	comments, err := d.client.ListComments(ctx, owner, repo, issueNumber)
	if err != nil {
		return false, err
	}
	for _, c := range comments {
		if doneMarkerBody(c.Body, agent) {
			return true, nil
		}
	}

	subIssue, ok := pipe.SubIssues[agent]
	if !ok {
		return false, nil
	}
	subComments, err := d.client.ListComments(ctx, owner, repo, subIssue)
	if err != nil {
		return false, err
	}
	for _, c := range subComments {
		if doneMarkerBody(c.Body, agent) {
			return true, nil
		}
	}
	return false, nil
}

// tierB inspects Bot-authored PRs for a fresh completion signal: the main PR
// for the first agent, or a child PR targeting the main branch for
// subsequent agents.
func (d *Detector) tierB(ctx context.Context, owner, repo string, issueNumber int, agent string, isFirstAgent bool, pipe *pipeline.Pipeline, defaultBranch string) (bool, error) {
	prs, err := d.client.ListLinkedPRs(ctx, owner, repo, issueNumber)
	if err != nil {
		return false, err
	}

	var candidates []hostclient.PullRequest
	for _, pr := range prs {
		if pr.Author != d.botLogin {
			continue
		}
		if isFirstAgent {
			candidates = append(candidates, pr)
			continue
		}
		// Subsequent agents: only child PRs targeting the main branch (or
		// the default branch, pending re-target by the Advancer) count.
		if pr.Number == pipe.MainBranch.PRID {
			continue
		}
		if (pipe.MainBranch.Name != "" && pr.BaseRef == pipe.MainBranch.Name) || pr.BaseRef == defaultBranch {
			candidates = append(candidates, pr)
		}
	}

	for _, pr := range candidates {
		if !pr.Draft {
			if d.systemMarkedReady.Contains(strconv.Itoa(pr.Number)) {
				continue
			}
			return true, nil
		}

		events, err := d.client.GetPRTimeline(ctx, owner, repo, pr.Number)
		if err != nil {
			return false, err
		}
		for _, ev := range events {
			// Events at or before pipeline.StartedAt are stale, left over
			// from a prior agent's run on the same PR.
			if !ev.CreatedAt.After(pipe.StartedAt) {
				continue
			}
			switch {
			case ev.Kind == hostclient.TimelineWorkFinished:
				return true, nil
			case ev.Kind == hostclient.TimelineReviewRequested && ev.Actor == d.botLogin:
				return true, nil
			}
		}
	}
	return false, nil
}

// tierC confirms completion for a subsequent agent working directly on the
// main PR branch (no child PR, no timeline events) by requiring BOTH a new
// commit on the main PR and Bot disengagement. If the SHA is unchanged but
// the Bot has disengaged, the agent is reported Failed: a false-positive
// guard, per the Open Question's resolution, that deliberately returns
// false rather than advancing.
func (d *Detector) tierC(ctx context.Context, owner, repo string, issueNumber int, agent string, isFirstAgent bool, pipe *pipeline.Pipeline) (Result, error) {
	if isFirstAgent || pipe.MainBranch.PRID == 0 {
		return Result{}, nil
	}

	mainPR, err := d.client.GetPR(ctx, owner, repo, pipe.MainBranch.PRID)
	if err != nil {
		return Result{}, err
	}

	assigned, err := d.client.IsBotAssigned(ctx, owner, repo, issueNumber, d.botLogin)
	if err != nil {
		return Result{}, err
	}

	shaChanged := mainPR.HeadSHA != "" && mainPR.HeadSHA != pipe.AssignedSHA

	if shaChanged && !assigned {
		return Result{Done: true, Tier: "C"}, nil
	}

	if !shaChanged && !assigned {
		log.Warn("agent disengaged with no new commit, treating as failed (not advancing)",
			"issue", issueNumber, "agent", agent)
		return Result{Failed: true, Tier: "C"}, nil
	}

	return Result{}, nil
}
