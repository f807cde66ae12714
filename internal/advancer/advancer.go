// Package advancer implements the Pipeline Advancer: the atomic "agent X
// done" unit of work from SPEC_FULL §4.5 (tracking-table update, sub-issue
// close, child-PR merge safety net, event publication, next-agent
// assignment or status transition), grounded on
// copilot_polling/pipeline.py's _advance_pipeline/_process_pipeline_completion
// and the teacher's merge-before-notify ordering in reviewloop.go's
// startReviewLoop.
package advancer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/config"
	"github.com/agentpipeline/orchestrator/internal/eventbus"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/logging"
	"github.com/agentpipeline/orchestrator/internal/pipeline"
	"github.com/agentpipeline/orchestrator/internal/tracking"
)

var log = logging.New("advancer")

// ErrMergeConflict is returned when the agent's child PR merge (or base
// retarget) was rejected by the Host. Per §4.5/§7, this aborts the current
// advance: the poll will retry on the next tick rather than trust a Done
// state the merge didn't actually produce.
var ErrMergeConflict = errors.New("advancer: child PR merge conflict, advance aborted")

// Advancer drives completed-agent bookkeeping, merges, and status
// transitions. It owns no pipeline state itself beyond the Store it is
// constructed with, per the single-goroutine ownership rule in §5.
type Advancer struct {
	client hostclient.Client
	store  *pipeline.Store
	caches *cache.Caches
	bus    *eventbus.Bus
	bot    string
	now    func() time.Time
}

// New constructs an Advancer.
func New(client hostclient.Client, store *pipeline.Store, caches *cache.Caches, bus *eventbus.Bus, botLogin string, now func() time.Time) *Advancer {
	if now == nil {
		now = time.Now
	}
	return &Advancer{client: client, store: store, caches: caches, bus: bus, bot: botLogin, now: now}
}

func pendingKey(issue int, agent string) string {
	return fmt.Sprintf("%d:%s", issue, agent)
}

func claimedKey(issue, pr int, agent string) string {
	return fmt.Sprintf("%d:%d:%s", issue, pr, agent)
}

// IsAssignmentPending reports whether agent was assigned to issue within the
// configured grace period, so Phase 5 recovery never races a just-issued
// assignment it hasn't observed the effects of yet.
func (a *Advancer) IsAssignmentPending(issue int, agent string) bool {
	return a.caches.PendingAssignments.Recent(pendingKey(issue, agent))
}

// Advance runs the full 7-step "agent X done" sequence for agent on pipe,
// assuming the caller has already confirmed agent's completion (Tier A has
// fired). itemID is the project item node ID for pipe.IssueID, needed for
// UpdateItemStatus calls during a status transition.
func (a *Advancer) Advance(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, cfg *config.ProjectConfig, itemID, agent string) error {
	// Step 2: update the tracking table (idempotent, safe to repeat even
	// if Phase 0 or a prior tick already applied it).
	issue, err := a.client.GetIssue(ctx, owner, repo, pipe.IssueID)
	if err != nil {
		return errors.Wrapf(err, "advance %s/%s#%d agent %s: get issue", owner, repo, pipe.IssueID, agent)
	}
	if newBody := tracking.MarkDone(issue.Body, agent); newBody != issue.Body {
		if err := a.client.UpdateIssueBody(ctx, owner, repo, pipe.IssueID, newBody); err != nil {
			return errors.Wrapf(err, "advance %s/%s#%d agent %s: update tracking table", owner, repo, pipe.IssueID, agent)
		}
	}

	// Step 3: close the agent's sub-issue, if any.
	if subIssue, ok := pipe.SubIssues[agent]; ok {
		if err := a.client.UpdateIssueState(ctx, owner, repo, subIssue, "closed"); err != nil {
			return errors.Wrapf(err, "advance %s/%s#%d agent %s: close sub-issue", owner, repo, pipe.IssueID, agent)
		}
		a.markSubIssueDoneOnBoard(ctx, cfg, subIssue)
	}

	// Step 4: merge safety net (or first-PR capture). Aborts the whole
	// advance on failure, per §4.5/§7 — no Completed/CurrentIndex mutation
	// has happened yet, so the next tick retries cleanly.
	if err := a.MergeChildPR(ctx, owner, repo, pipe, cfg, agent); err != nil {
		return err
	}

	// Step 1 (committed only now that the merge step has succeeded):
	// append to completed, advance the index, clear the pending-assignment
	// entry, refresh started_at.
	pipe.Completed = append(pipe.Completed, agent)
	pipe.CurrentIndex++
	pipe.StartedAt = a.now()
	a.caches.PendingAssignments.Clear(pendingKey(pipe.IssueID, agent))

	// Step 5: publish agent_completed.
	nextAgent, hasNext := pipe.CurrentAgent()
	a.bus.Publish(ctx, eventbus.Event{
		Kind: eventbus.KindAgentCompleted, ProjectID: pipe.ProjectID, Issue: pipe.IssueID,
		Agent: agent, Status: pipe.Status, NextAgent: nextAgent,
	})

	// Step 6/7: assign the next agent, or transition the pipeline's status.
	if hasNext {
		return a.assign(ctx, owner, repo, pipe, cfg, nextAgent)
	}

	a.store.Delete(pipe.IssueID)
	return a.Transition(ctx, owner, repo, pipe, cfg, itemID)
}

// markSubIssueDoneOnBoard sets a sub-issue's project-board status to "Done"
// on a best-effort basis: sub-issues are not guaranteed to be tracked on the
// same project board as their parent, so a missing item is "nothing to do,"
// not an error.
func (a *Advancer) markSubIssueDoneOnBoard(ctx context.Context, cfg *config.ProjectConfig, subIssue int) {
	items, err := a.client.ListProjectItems(ctx, cfg.ProjectID)
	if err != nil {
		log.Debug("list project items for sub-issue board status failed", "error", err)
		return
	}
	for _, item := range items {
		if item.IssueNumber != subIssue {
			continue
		}
		if err := a.client.UpdateItemStatus(ctx, cfg.ProjectID, item.ItemID, "Status", "Done"); err != nil {
			log.Debug("set sub-issue board status to Done failed", "sub_issue", subIssue, "error", err)
		}
		return
	}
}

// selectBotPR picks the first open PR authored by the Bot, lowest number
// first, matching the "first open/draft PR" rule used for first-PR capture
// and main-branch reconstruction alike.
func selectBotPR(prs []hostclient.PullRequest, botLogin string) *hostclient.PullRequest {
	var best *hostclient.PullRequest
	for i := range prs {
		pr := prs[i]
		if pr.Author != botLogin || pr.State != "open" {
			continue
		}
		if best == nil || pr.Number < best.Number {
			cp := pr
			best = &cp
		}
	}
	return best
}

// selectChildPR picks the open Bot-authored PR for this issue that isn't the
// main PR itself, targeting either the main branch already or the platform
// default branch (pending re-target), matching §6's "accept either, retarget
// before merging" contract.
func selectChildPR(prs []hostclient.PullRequest, botLogin string, mainBranch pipeline.MainBranch, defaultBranch string) *hostclient.PullRequest {
	var best *hostclient.PullRequest
	for i := range prs {
		pr := prs[i]
		if pr.Author != botLogin || pr.State != "open" {
			continue
		}
		if pr.Number == mainBranch.PRID {
			continue
		}
		if pr.BaseRef != mainBranch.Name && pr.BaseRef != defaultBranch {
			continue
		}
		if best == nil || pr.Number < best.Number {
			cp := pr
			best = &cp
		}
	}
	return best
}

// MergeChildPR implements §4.5 step 4. When first-PR capture has not run
// yet (MainBranch.Linked is false), this is the first-PR-capture path instead (no merge needed:
// the first agent's PR *is* the main PR). Otherwise it finds, retargets if
// necessary, and squash-merges agent's child PR, claiming it in
// ClaimedChildPRs so a later tick never double-merges. It is exported so
// Phase 0 (artifact posting) can run the same safety net ahead of the full
// Advance, since both paths share the ClaimedChildPRs idempotency guard.
func (a *Advancer) MergeChildPR(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, cfg *config.ProjectConfig, agent string) error {
	prs, err := a.client.ListLinkedPRs(ctx, owner, repo, pipe.IssueID)
	if err != nil {
		return errors.Wrapf(err, "merge safety net %s/%s#%d: list linked PRs", owner, repo, pipe.IssueID)
	}

	if !pipe.MainBranch.Linked {
		mainPR := selectBotPR(prs, a.bot)
		if mainPR == nil {
			return nil
		}
		pipe.MainBranch = pipeline.MainBranch{Name: mainPR.HeadRef, PRID: mainPR.Number, HeadSHA: mainPR.HeadSHA, Linked: true}
		pipe.AssignedSHA = mainPR.HeadSHA
		return errors.Wrapf(
			a.client.LinkPRToIssue(ctx, owner, repo, mainPR.Number, pipe.IssueID),
			"merge safety net %s/%s#%d: link main PR", owner, repo, pipe.IssueID,
		)
	}

	childPR := selectChildPR(prs, a.bot, pipe.MainBranch, cfg.DefaultBranch)
	if childPR == nil {
		return nil
	}

	key := claimedKey(pipe.IssueID, childPR.Number, agent)
	if a.caches.ClaimedChildPRs.Contains(key) {
		return nil
	}

	if childPR.BaseRef != pipe.MainBranch.Name {
		if err := a.client.UpdatePRBase(ctx, owner, repo, childPR.Number, pipe.MainBranch.Name); err != nil {
			return errors.Wrapf(ErrMergeConflict, "retarget child PR %s/%s#%d: %v", owner, repo, childPR.Number, err)
		}
	}

	headline := fmt.Sprintf("Merge %s changes into %s", agent, pipe.MainBranch.Name)
	sha, err := a.client.MergePR(ctx, owner, repo, childPR.Number, headline)
	if err != nil {
		return errors.Wrapf(ErrMergeConflict, "squash-merge child PR %s/%s#%d: %v", owner, repo, childPR.Number, err)
	}

	a.caches.ClaimedChildPRs.Add(key)
	pipe.MainBranch.HeadSHA = sha
	pipe.AssignedSHA = sha

	if err := a.client.DeleteBranch(ctx, owner, repo, childPR.HeadRef); err != nil {
		log.Warn("delete merged child branch failed", "branch", childPR.HeadRef, "error", err)
	}
	return nil
}

// AssignAgent is the exported form of assign, used by Phase 5 recovery to
// re-assign an agent the Host silently dropped (unassigned with no matching
// draft PR, or never actually dispatched).
func (a *Advancer) AssignAgent(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, cfg *config.ProjectConfig, agent string) error {
	return a.assign(ctx, owner, repo, pipe, cfg, agent)
}

// assign assigns agent to pipe's issue, records a pending-assignment
// cache entry to gate Phase 5 recovery during the grace period, marks the
// tracking table row active, and publishes agent_assigned.
func (a *Advancer) assign(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, cfg *config.ProjectConfig, agent string) error {
	base := cfg.DefaultBranch
	if pipe.MainBranch.Name != "" {
		base = pipe.MainBranch.Name
	}

	issue, err := a.client.GetIssue(ctx, owner, repo, pipe.IssueID)
	if err != nil {
		return errors.Wrapf(err, "assign %s/%s#%d agent %s: get issue", owner, repo, pipe.IssueID, agent)
	}
	comments, err := a.client.ListComments(ctx, owner, repo, pipe.IssueID)
	if err != nil {
		return errors.Wrapf(err, "assign %s/%s#%d agent %s: list comments", owner, repo, pipe.IssueID, agent)
	}

	req := hostclient.AssignBotRequest{
		IssueNumber:  pipe.IssueID,
		AgentTag:     agent,
		BaseBranch:   base,
		Instructions: BuildInstructions(agent, issue, comments),
	}
	if err := a.client.AssignBot(ctx, owner, repo, req, a.bot); err != nil {
		return errors.Wrapf(err, "assign %s/%s#%d agent %s", owner, repo, pipe.IssueID, agent)
	}
	a.caches.PendingAssignments.Mark(pendingKey(pipe.IssueID, agent))

	if newBody := tracking.MarkActive(issue.Body, agent); newBody != issue.Body {
		if err := a.client.UpdateIssueBody(ctx, owner, repo, pipe.IssueID, newBody); err != nil {
			return errors.Wrapf(err, "assign %s/%s#%d agent %s: mark tracking active", owner, repo, pipe.IssueID, agent)
		}
	}

	a.bus.Publish(ctx, eventbus.Event{
		Kind: eventbus.KindAgentAssigned, ProjectID: pipe.ProjectID, Issue: pipe.IssueID,
		Agent: agent, Status: pipe.Status, NextAgent: agent,
	})
	return nil
}

// Transition implements §4.5's status-transition step: advance the issue to
// the next configured status, converting the main PR draft->ready and
// requesting code review when landing on the review status, and applying
// pass-through when a status has no configured agents. The loop is bounded
// by the configured status sequence length so a misconfigured cycle can
// never spin forever.
func (a *Advancer) Transition(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, cfg *config.ProjectConfig, itemID string) error {
	current := pipe.Status
	for i := 0; i <= len(cfg.Statuses); i++ {
		next := cfg.NextStatus(current)
		if next == "" {
			a.bus.Publish(ctx, eventbus.Event{
				Kind: eventbus.KindStatusUpdated, ProjectID: pipe.ProjectID, Issue: pipe.IssueID,
				From: current, To: "", TriggeredBy: "advancer",
			})
			return nil
		}

		if err := a.client.UpdateItemStatus(ctx, cfg.ProjectID, itemID, "Status", next); err != nil {
			return errors.Wrapf(err, "transition %s/%s#%d to %s", owner, repo, pipe.IssueID, next)
		}
		a.bus.Publish(ctx, eventbus.Event{
			Kind: eventbus.KindStatusUpdated, ProjectID: pipe.ProjectID, Issue: pipe.IssueID,
			From: current, To: next, TriggeredBy: "advancer",
		})

		if next == cfg.ReviewStatus && pipe.MainBranch.PRID != 0 {
			if err := a.client.MarkPRReady(ctx, owner, repo, pipe.MainBranch.PRID); err != nil {
				log.Warn("mark main PR ready for review failed", "pr", pipe.MainBranch.PRID, "error", err)
			} else {
				a.caches.SystemMarkedReady.Add(strconv.Itoa(pipe.MainBranch.PRID))
			}
			if cfg.CodeReviewBotLogin != "" {
				if err := a.client.RequestCodeReview(ctx, owner, repo, pipe.MainBranch.PRID, cfg.CodeReviewBotLogin); err != nil {
					log.Warn("request code review failed", "pr", pipe.MainBranch.PRID, "error", err)
				}
			}
		}

		agents := cfg.AgentsForStatus(next)
		if len(agents) == 0 {
			current = next
			continue
		}

		newPipe := &pipeline.Pipeline{
			IssueID:     pipe.IssueID,
			ProjectID:   pipe.ProjectID,
			Status:      next,
			Agents:      agents,
			SubIssues:   pipe.SubIssues,
			MainBranch:  pipe.MainBranch,
			AssignedSHA: pipe.MainBranch.HeadSHA,
			StartedAt:   a.now(),
		}
		a.store.Put(newPipe)
		return a.assign(ctx, owner, repo, newPipe, cfg, agents[0])
	}
	return errors.Errorf("transition %s/%s#%d: status sequence did not terminate", owner, repo, pipe.IssueID)
}
