package detector

import (
	"context"
	"testing"
	"time"

	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/pipeline"
	"github.com/agentpipeline/orchestrator/internal/testutil"
	"github.com/stretchr/testify/require"
)

const botLogin = "copilot-bot"

func TestTierADurableMarker(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Comments[42] = []hostclient.Comment{{Body: "speckit.specify: Done!"}}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{IssueID: 42, StartedAt: time.Now()}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.specify", true, pipe, "main")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "A", res.Tier)
}

func TestTierBMainPRReadyForReview(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, Draft: false, HeadRef: "copilot/fix-42"}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{IssueID: 42, StartedAt: time.Now()}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.specify", true, pipe, "main")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "B", res.Tier)
}

func TestTierBSystemMarkedReadyIgnored(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, Draft: false}

	ready := cache.NewSet(10, 5)
	ready.Add("100")
	d := New(fc, ready, botLogin)
	pipe := &pipeline.Pipeline{IssueID: 42, StartedAt: time.Now()}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.specify", true, pipe, "main")
	require.NoError(t, err)
	require.False(t, res.Done)
}

func TestTierBDraftWorkFinishedEvent(t *testing.T) {
	fc := testutil.NewFakeClient()
	started := time.Now()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, Draft: true}
	fc.Timelines[100] = []hostclient.TimelineEvent{
		{Kind: hostclient.TimelineWorkFinished, CreatedAt: started.Add(time.Minute)},
	}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{IssueID: 42, StartedAt: started}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.specify", true, pipe, "main")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "B", res.Tier)
}

func TestTierBStaleEventDiscarded(t *testing.T) {
	fc := testutil.NewFakeClient()
	started := time.Now()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, Draft: true}
	fc.Timelines[100] = []hostclient.TimelineEvent{
		{Kind: hostclient.TimelineWorkFinished, CreatedAt: started.Add(-time.Minute)},
	}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{IssueID: 42, StartedAt: started}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.specify", true, pipe, "main")
	require.NoError(t, err)
	require.False(t, res.Done)
}

func TestTierBChildPRForSubsequentAgent(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.PRs[101] = &hostclient.PullRequest{Number: 101, Author: botLogin, Draft: false, BaseRef: "copilot/fix-42"}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{
		IssueID:    42,
		StartedAt:  time.Now(),
		MainBranch: pipeline.MainBranch{Name: "copilot/fix-42", PRID: 100},
	}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.plan", false, pipe, "main")
	require.NoError(t, err)
	require.True(t, res.Done)
}

func TestTierBChildPRPendingRetargetToDefaultBranch(t *testing.T) {
	fc := testutil.NewFakeClient()
	// Agent C's PR #101 still targets the platform default branch; the
	// Advancer hasn't re-targeted it to the main branch yet. Per SPEC_FULL
	// §4.4/§6, this must still count as a completion candidate.
	fc.PRs[101] = &hostclient.PullRequest{Number: 101, Author: botLogin, Draft: false, BaseRef: "main"}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{
		IssueID:    7,
		StartedAt:  time.Now(),
		MainBranch: pipeline.MainBranch{Name: "copilot/fix-7", PRID: 100, Linked: true},
	}

	res, err := d.IsComplete(context.Background(), "o", "r", 7, "speckit.tasks", false, pipe, "main")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "B", res.Tier)
}

func TestTierCCommitAndDisengagement(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, HeadSHA: "new-sha"}
	// Bot not assigned (Assignees map has no entry for 42).

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{
		IssueID:     42,
		StartedAt:   time.Now(),
		MainBranch:  pipeline.MainBranch{Name: "copilot/fix-42", PRID: 100},
		AssignedSHA: "old-sha",
	}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.plan", false, pipe, "main")
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, "C", res.Tier)
}

func TestTierCAmbiguousReturnsFalseFailed(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, HeadSHA: "same-sha"}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{
		IssueID:     42,
		StartedAt:   time.Now(),
		MainBranch:  pipeline.MainBranch{Name: "copilot/fix-42", PRID: 100},
		AssignedSHA: "same-sha",
	}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.plan", false, pipe, "main")
	require.NoError(t, err)
	require.False(t, res.Done)
	require.True(t, res.Failed)
}

func TestTierCStillAssignedNoVerdict(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, HeadSHA: "new-sha"}
	fc.Assignees[42] = []string{botLogin}

	d := New(fc, cache.NewSet(10, 5), botLogin)
	pipe := &pipeline.Pipeline{
		IssueID:     42,
		StartedAt:   time.Now(),
		MainBranch:  pipeline.MainBranch{Name: "copilot/fix-42", PRID: 100},
		AssignedSHA: "old-sha",
	}

	res, err := d.IsComplete(context.Background(), "o", "r", 42, "speckit.plan", false, pipe, "main")
	require.NoError(t, err)
	require.False(t, res.Done)
	require.False(t, res.Failed)
}
