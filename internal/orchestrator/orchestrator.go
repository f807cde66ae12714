// Package orchestrator implements the poll loop: the top-level driver that
// ties the Host Client, Pipeline State Store, Completion Detector, and
// Pipeline Advancer together into the six-phase tick described in
// SPEC_FULL §4.6, grounded on the teacher's pollAgentStatuses/janitorSweep
// cadence in poller.go and copilot_polling/polling_loop.py's phase ordering
// in original_source/.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/agentpipeline/orchestrator/internal/advancer"
	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/config"
	"github.com/agentpipeline/orchestrator/internal/detector"
	"github.com/agentpipeline/orchestrator/internal/eventbus"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/logging"
	"github.com/agentpipeline/orchestrator/internal/pipeline"
	"github.com/agentpipeline/orchestrator/internal/tracking"
)

var log = logging.New("orchestrator")

const (
	reviewRequestedCapacity   = 200
	reviewRequestedEvictCount = 100
)

// TickResult summarizes one poll tick's work, returned from Tick and logged
// by Run so a caller (or a future "status" CLI subcommand) can observe
// progress without reading log lines.
type TickResult struct {
	Alias string

	ArtifactsPosted  int
	Advanced         int
	Recovered        int
	ReviewsRequested int

	Errors    int
	LastError error
}

// Orchestrator drives one (project, credentials) poll loop, per spec.md §6.
// It owns the Pipeline Store and soft caches for this project exclusively;
// per §5, only the goroutine that calls Tick may touch them.
type Orchestrator struct {
	alias   string
	project *config.ProjectConfig

	client hostclient.Client
	store  *pipeline.Store
	caches *cache.Caches
	det    *detector.Detector
	adv    *advancer.Advancer
	bus    *eventbus.Bus

	botLogin        string
	reviewRequested *cache.Set
	now             func() time.Time
}

// New constructs an Orchestrator for one project alias. bus may be shared
// across several Orchestrators (one per project) since it owns no pipeline
// state of its own.
func New(
	alias string,
	project *config.ProjectConfig,
	client hostclient.Client,
	bus *eventbus.Bus,
	botLogin string,
	assignmentGracePeriod, recoveryCooldown time.Duration,
	now func() time.Time,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	store := pipeline.New()
	caches := cache.New(assignmentGracePeriod, recoveryCooldown)
	return &Orchestrator{
		alias:           alias,
		project:         project,
		client:          client,
		store:           store,
		caches:          caches,
		det:             detector.New(client, caches.SystemMarkedReady, botLogin),
		adv:             advancer.New(client, store, caches, bus, botLogin, now),
		bus:             bus,
		botLogin:        botLogin,
		reviewRequested: cache.NewSet(reviewRequestedCapacity, reviewRequestedEvictCount),
		now:             now,
	}
}

// Run ticks every interval until ctx is cancelled, logging each TickResult.
// It never returns except when ctx is done, mirroring the teacher's
// scheduler-driven pollAgentStatuses callback adapted to an explicit loop
// since this process has no plugin host to schedule it for us.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res := o.Tick(ctx)
		if res.LastError != nil {
			log.Error("tick completed with errors",
				"alias", o.alias, "errors", res.Errors, "last_error", res.LastError)
		} else {
			log.Info("tick completed",
				"alias", o.alias, "advanced", res.Advanced, "recovered", res.Recovered,
				"artifacts_posted", res.ArtifactsPosted, "reviews_requested", res.ReviewsRequested)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs the full six-phase sweep once. A phase's failure on one issue
// never aborts the others: errors are recorded on the result and the tick
// continues, since each issue's state machine is independent.
func (o *Orchestrator) Tick(ctx context.Context) TickResult {
	res := TickResult{Alias: o.alias}
	owner, repo := o.project.Owner, o.project.Repo

	items, err := o.client.ListProjectItems(ctx, o.project.ProjectID)
	if err != nil {
		res.Errors++
		res.LastError = errors.Wrap(err, "list project items")
		return res
	}

	// Phase 0: post any artifacts and durable Done markers for agents whose
	// completion hasn't been recorded yet, ahead of the per-status sweeps
	// below so Phase 1-3 always sees a fresh marker if one just landed this
	// same tick.
	o.phase0ArtifactPosting(ctx, owner, repo, items, &res)

	// Phases 1-3: sweep every status with configured agents, in configured
	// order, except the review status itself (Phase 4 owns that one).
	for _, status := range o.project.Statuses {
		if status.Name == o.project.ReviewStatus || len(status.Agents) == 0 {
			continue
		}
		o.phaseStatusSweep(ctx, owner, repo, status.Name, items, &res)
	}

	// Phase 4: request code review once a main PR is sitting in the review
	// status.
	o.phase4CodeReview(ctx, owner, repo, items, &res)

	// Phase 5: recover pipelines the Host silently dropped (unassigned bot,
	// no draft PR, no Done marker).
	o.phase5Recovery(ctx, owner, repo, items, &res)

	return res
}

// phase0ArtifactPosting reconstructs (or reuses) the pipeline for every item
// sitting in a status with configured agents, and for each one's current
// agent checks for a fresh completion signal (Tier B/C) that hasn't yet
// produced a durable Done marker. It merges the agent's child PR first (so
// the marker is never posted ahead of the merge that makes it true), posts
// any configured artifacts to the agent's sub-issue, and finally posts the
// marker itself — all before the per-status sweep below re-evaluates the
// same agent and actually advances the pipeline.
func (o *Orchestrator) phase0ArtifactPosting(ctx context.Context, owner, repo string, items []hostclient.ProjectItem, res *TickResult) {
	for _, item := range items {
		agents := o.project.AgentsForStatus(item.Status)
		if len(agents) == 0 {
			continue
		}

		pipe, err := o.store.GetOrReconstruct(
			ctx, o.client, o.caches.ClaimedChildPRs,
			owner, repo, item.IssueNumber,
			o.project.ProjectID, item.Status, agents,
			o.botLogin, o.now,
		)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "phase 0 reconstruct issue #%d", item.IssueNumber)
			continue
		}

		agent, ok := pipe.CurrentAgent()
		if !ok {
			continue
		}
		isFirst := !pipe.MainBranch.Linked

		verdict, err := o.det.IsComplete(ctx, owner, repo, pipe.IssueID, agent, isFirst, pipe, o.project.DefaultBranch)
		if err != nil {
			res.Errors++
			res.LastError = err
			continue
		}
		if !verdict.Done || verdict.Tier == "A" {
			// Either no fresh signal yet, or the marker is already posted
			// (Tier A fired) — nothing for Phase 0 to do either way.
			continue
		}

		if err := o.adv.MergeChildPR(ctx, owner, repo, pipe, o.project, agent); err != nil {
			log.Warn("phase 0 merge safety net failed, deferring completion marker to next tick",
				"issue", pipe.IssueID, "agent", agent, "error", err)
			res.Errors++
			res.LastError = err
			continue
		}

		if o.postArtifacts(ctx, owner, repo, pipe, agent, res) {
			res.ArtifactsPosted++
		}

		if err := o.client.CreateComment(ctx, owner, repo, pipe.IssueID, agent+": Done!"); err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "post done marker issue #%d agent %s", pipe.IssueID, agent)
		}
	}
}

// postArtifacts posts the configured artifact files from agent's PR diff as
// comments on its sub-issue, deduplicated via PostedOutputs so a later tick
// never reposts the same file twice. Returns whether it did any posting
// work this call, purely for TickResult's counter.
func (o *Orchestrator) postArtifacts(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, agent string, res *TickResult) bool {
	artifacts := o.project.ArtifactsForStatus(pipe.Status)
	subIssue, hasSub := pipe.SubIssues[agent]
	if len(artifacts) == 0 || !hasSub || pipe.MainBranch.PRID == 0 {
		return false
	}

	key := fmt.Sprintf("%d:%s:%d", pipe.IssueID, agent, pipe.MainBranch.PRID)
	if o.caches.PostedOutputs.Contains(key) {
		return false
	}

	files, err := o.client.GetPRFiles(ctx, owner, repo, pipe.MainBranch.PRID)
	if err != nil {
		res.Errors++
		res.LastError = errors.Wrapf(err, "list PR files issue #%d", pipe.IssueID)
		return false
	}

	wanted := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		wanted[a] = true
	}

	posted := false
	for _, f := range files {
		if !wanted[f] {
			continue
		}
		content, err := o.client.GetFileContents(ctx, owner, repo, f, pipe.MainBranch.HeadSHA)
		if err != nil {
			log.Warn("fetch artifact contents failed", "issue", pipe.IssueID, "file", f, "error", err)
			continue
		}
		body := fmt.Sprintf("**%s** (posted by %s)\n\n```\n%s\n```", f, agent, content)
		if err := o.client.CreateComment(ctx, owner, repo, subIssue, body); err != nil {
			log.Warn("post artifact comment failed", "issue", pipe.IssueID, "file", f, "error", err)
			continue
		}
		posted = true
	}
	o.caches.PostedOutputs.Add(key)
	return posted
}

// phaseStatusSweep reconciles every project item currently sitting in
// status: reconstructing (or reusing) its pipeline, checking the current
// agent's completion via the Detector, and advancing on a positive verdict.
// A pre-existing pipeline always wins over the board's current status — see
// Store.GetOrReconstruct — so an issue the Bot moved early keeps running the
// pipeline it actually started under, per §4.6's "accept the move" rule.
func (o *Orchestrator) phaseStatusSweep(ctx context.Context, owner, repo, status string, items []hostclient.ProjectItem, res *TickResult) {
	for _, item := range items {
		if item.Status != status {
			continue
		}

		pipe, err := o.store.GetOrReconstruct(
			ctx, o.client, o.caches.ClaimedChildPRs,
			owner, repo, item.IssueNumber,
			o.project.ProjectID, status, o.project.AgentsForStatus(status),
			o.botLogin, o.now,
		)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "reconstruct issue #%d", item.IssueNumber)
			continue
		}

		if pipe.Complete() {
			o.store.Delete(pipe.IssueID)
			if err := o.adv.Transition(ctx, owner, repo, pipe, o.project, item.ItemID); err != nil {
				res.Errors++
				res.LastError = errors.Wrapf(err, "transition issue #%d", item.IssueNumber)
			}
			continue
		}

		agent, _ := pipe.CurrentAgent()
		isFirst := !pipe.MainBranch.Linked

		verdict, err := o.det.IsComplete(ctx, owner, repo, item.IssueNumber, agent, isFirst, pipe, o.project.DefaultBranch)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "detect completion issue #%d agent %s", item.IssueNumber, agent)
			continue
		}
		if verdict.Failed {
			log.Warn("agent appears disengaged with no new commit; leaving pipeline for next tick",
				"issue", item.IssueNumber, "agent", agent)
			continue
		}
		if !verdict.Done {
			continue
		}

		if err := o.adv.Advance(ctx, owner, repo, pipe, o.project, item.ItemID, agent); err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "advance issue #%d agent %s", item.IssueNumber, agent)
			continue
		}
		res.Advanced++
	}
}

// selectReviewPR picks the lowest-numbered open Bot-authored PR for Phase 4's
// code-review request, mirroring selectBotPR's tie-break rule.
func selectReviewPR(prs []hostclient.PullRequest, botLogin string) *hostclient.PullRequest {
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

// phase4CodeReview requests a code review on the main PR for every issue
// sitting in the configured review status, once per PR (cached in
// reviewRequested so a pending review isn't re-requested every tick).
func (o *Orchestrator) phase4CodeReview(ctx context.Context, owner, repo string, items []hostclient.ProjectItem, res *TickResult) {
	if o.project.CodeReviewBotLogin == "" {
		return
	}
	for _, item := range items {
		if item.Status != o.project.ReviewStatus {
			continue
		}

		prs, err := o.client.ListLinkedPRs(ctx, owner, repo, item.IssueNumber)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "list linked PRs issue #%d", item.IssueNumber)
			continue
		}
		pr := selectReviewPR(prs, o.botLogin)
		if pr == nil {
			continue
		}

		key := strconv.Itoa(pr.Number)
		if o.reviewRequested.Contains(key) {
			continue
		}

		has, err := o.client.HasCodeReview(ctx, owner, repo, pr.Number, o.project.CodeReviewBotLogin)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "check code review PR #%d", pr.Number)
			continue
		}
		if has {
			o.reviewRequested.Add(key)
			continue
		}

		if err := o.client.RequestCodeReview(ctx, owner, repo, pr.Number, o.project.CodeReviewBotLogin); err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "request code review PR #%d", pr.Number)
			continue
		}
		o.reviewRequested.Add(key)
		res.ReviewsRequested++
	}
}

// hasOpenBotWork reports whether a Bot-authored open PR already exists for
// pipe's issue: the main PR itself for the first agent, or a child PR
// targeting the main branch (or the default branch, pending re-target) for
// subsequent agents. Shared by Phase 5 recovery to decide whether a missing
// assignment is actually a problem or just a PR the Bot already opened.
func (o *Orchestrator) hasOpenBotWork(ctx context.Context, owner, repo string, pipe *pipeline.Pipeline, isFirst bool) (bool, error) {
	prs, err := o.client.ListLinkedPRs(ctx, owner, repo, pipe.IssueID)
	if err != nil {
		return false, err
	}
	for _, pr := range prs {
		if pr.Author != o.botLogin || pr.State != "open" {
			continue
		}
		if isFirst {
			return true, nil
		}
		if pr.Number != pipe.MainBranch.PRID && (pr.BaseRef == pipe.MainBranch.Name || pr.BaseRef == o.project.DefaultBranch) {
			return true, nil
		}
	}
	return false, nil
}

// phase5Recovery re-assigns an agent the Host silently dropped: the tracking
// table still shows it active, but the Bot assignment or a matching open
// PR is missing, and no Done marker landed in between. Gated by
// RecoveryLastAttempt so a genuinely slow agent isn't hammered with
// repeated re-assignments, per §4.6's recovery cooldown.
func (o *Orchestrator) phase5Recovery(ctx context.Context, owner, repo string, items []hostclient.ProjectItem, res *TickResult) {
	terminal := ""
	if n := len(o.project.Statuses); n > 0 {
		terminal = o.project.Statuses[n-1].Name
	}

	for _, item := range items {
		if item.Status == "" || item.Status == terminal {
			continue
		}

		pipe, ok := o.store.Get(item.IssueNumber)
		if !ok {
			// No in-memory pipeline yet: the next per-status sweep will
			// reconstruct one. Recovery only acts on pipelines it already
			// has enough context (main branch, sub-issues) to re-assign.
			continue
		}

		issue, err := o.client.GetIssue(ctx, owner, repo, item.IssueNumber)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "get issue #%d for recovery", item.IssueNumber)
			continue
		}
		active, ok := tracking.CurrentActive(issue.Body)
		if !ok {
			continue
		}
		agent := active.Agent

		key := strconv.Itoa(item.IssueNumber)
		if o.caches.RecoveryLastAttempt.Recent(key) || o.adv.IsAssignmentPending(item.IssueNumber, agent) {
			continue
		}

		done, err := o.det.HasDoneMarker(ctx, owner, repo, item.IssueNumber, agent, pipe)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "check done marker issue #%d", item.IssueNumber)
			continue
		}
		if done {
			continue
		}

		var missing []string
		assigned, err := o.client.IsBotAssigned(ctx, owner, repo, item.IssueNumber, o.botLogin)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "check bot assignment issue #%d", item.IssueNumber)
			continue
		}
		if !assigned {
			missing = append(missing, "assignment")
		}

		isFirst := !pipe.MainBranch.Linked
		hasWork, err := o.hasOpenBotWork(ctx, owner, repo, pipe, isFirst)
		if err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "check open bot work issue #%d", item.IssueNumber)
			continue
		}
		if !hasWork {
			missing = append(missing, "draft_pr")
		}

		if len(missing) == 0 {
			continue
		}

		log.Warn("recovering stalled agent", "issue", item.IssueNumber, "agent", agent, "missing", missing)
		if err := o.adv.AssignAgent(ctx, owner, repo, pipe, o.project, agent); err != nil {
			res.Errors++
			res.LastError = errors.Wrapf(err, "re-assign issue #%d agent %s", item.IssueNumber, agent)
			continue
		}
		o.caches.RecoveryLastAttempt.Mark(key)
		o.bus.Publish(ctx, eventbus.Event{
			Kind: eventbus.KindRecovery, ProjectID: pipe.ProjectID, Issue: item.IssueNumber,
			Agent: agent, Missing: missing,
		})
		res.Recovered++
	}
}
