package cache

import "time"

// Capacity/eviction constants for the three unbounded-growth sets that are not
// gated by a time window. Sized generously relative to a typical pipeline's
// lifetime so eviction only ever discards genuinely stale entries.
const (
	postedOutputsCapacity   = 500
	postedOutputsEvictCount = 250

	claimedChildPRsCapacity   = 500
	claimedChildPRsEvictCount = 250

	systemMarkedReadyCapacity   = 200
	systemMarkedReadyEvictCount = 100
)

// Caches bundles the Orchestrator's five soft caches behind one value, so a
// poll loop takes a single *Caches dependency instead of five.
type Caches struct {
	// PostedOutputs remembers "issue:agent:pr" triples whose completion
	// comment has already been posted, so a tick never double-posts.
	PostedOutputs *Set

	// ClaimedChildPRs remembers "issue:pr:agent" triples for child PRs
	// already attributed to a finished agent, so a later agent cannot
	// re-claim a PR that was already merged on another agent's behalf.
	ClaimedChildPRs *Set

	// SystemMarkedReady remembers "pr" entries the Orchestrator itself
	// converted from draft to ready, so completion detection does not
	// mistake its own action for agent-driven completion.
	SystemMarkedReady *Set

	// PendingAssignments gates re-assignment of an agent that was just
	// assigned, keyed by "issue:agent", for AssignmentGracePeriod.
	PendingAssignments *Timestamps

	// RecoveryLastAttempt gates repeated recovery attempts, keyed by
	// issue number, for RecoveryCooldown.
	RecoveryLastAttempt *Timestamps
}

// New constructs a Caches with the given grace period and recovery cooldown
// windows (see config.Config.AssignmentGracePeriodSeconds and
// RecoveryCooldownSeconds).
func New(assignmentGracePeriod, recoveryCooldown time.Duration) *Caches {
	return &Caches{
		PostedOutputs:       NewSet(postedOutputsCapacity, postedOutputsEvictCount),
		ClaimedChildPRs:     NewSet(claimedChildPRsCapacity, claimedChildPRsEvictCount),
		SystemMarkedReady:   NewSet(systemMarkedReadyCapacity, systemMarkedReadyEvictCount),
		PendingAssignments:  NewTimestamps(assignmentGracePeriod),
		RecoveryLastAttempt: NewTimestamps(recoveryCooldown),
	}
}
