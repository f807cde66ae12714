package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentpipeline/orchestrator/internal/config"
	"github.com/agentpipeline/orchestrator/internal/eventbus"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/testutil"
)

const botLogin = "copilot-bot"

func fixedNow() func() time.Time {
	t := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func testProject() *config.ProjectConfig {
	return &config.ProjectConfig{
		Owner: "acme", Repo: "widgets", ProjectID: "PVT_1", DefaultBranch: "main",
		ReviewStatus:       "In Review",
		CodeReviewBotLogin: "review-bot",
		Statuses: []config.StatusConfig{
			{Name: "Backlog", Agents: []string{"speckit.specify"}},
			{Name: "In Progress", Agents: []string{"speckit.implement"}},
			{Name: "In Review"},
			{Name: "Done"},
		},
	}
}

func newTestOrchestrator(fc *testutil.FakeClient) (*Orchestrator, *eventbus.Bus) {
	bus := eventbus.New(16)
	o := New("acme", testProject(), fc, bus, botLogin, 120*time.Second, 300*time.Second, fixedNow())
	return o, bus
}

func TestTickAdvancesFirstAgentOnFreshPRSignal(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[1] = &hostclient.Issue{Number: 1, Title: "Add widget", Body: "| speckit.specify | Backlog | ⏳ active |"}
	fc.Items = []hostclient.ProjectItem{{ItemID: "item-1", IssueNumber: 1, Status: "Backlog"}}
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, State: "open", Draft: false, HeadRef: "copilot/fix-1", HeadSHA: "sha1"}

	o, _ := newTestOrchestrator(fc)
	res := o.Tick(context.Background())

	require.Nil(t, res.LastError)
	require.Equal(t, 1, res.Advanced)
	require.Contains(t, fc.PRs[100].Body, "Closes #1")
	require.Equal(t, "In Progress", fc.ItemStatus["item-1"])
	require.Contains(t, fc.Assignees[1], botLogin)
}

func TestTickPhase0PostsDoneMarkerAheadOfSweep(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[2] = &hostclient.Issue{Number: 2, Title: "Fix bug", Body: "| speckit.specify | Backlog | ⏳ active |"}
	fc.Items = []hostclient.ProjectItem{{ItemID: "item-2", IssueNumber: 2, Status: "Backlog"}}
	fc.PRs[200] = &hostclient.PullRequest{Number: 200, Author: botLogin, State: "open", Draft: false, HeadRef: "copilot/fix-2", HeadSHA: "sha2"}

	o, _ := newTestOrchestrator(fc)
	res := o.Tick(context.Background())

	require.Nil(t, res.LastError)
	require.Equal(t, 1, res.Advanced)

	found := false
	for _, c := range fc.Comments[2] {
		if c.Body == "speckit.specify: Done!" {
			found = true
		}
	}
	require.True(t, found, "expected Phase 0 to post the durable Done marker")
}

func TestTickPhase4RequestsCodeReviewOnce(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[3] = &hostclient.Issue{Number: 3, Title: "Ship it", Body: "body"}
	fc.Items = []hostclient.ProjectItem{{ItemID: "item-3", IssueNumber: 3, Status: "In Review"}}
	fc.PRs[300] = &hostclient.PullRequest{Number: 300, Author: botLogin, State: "open", Draft: false}

	o, _ := newTestOrchestrator(fc)

	res1 := o.Tick(context.Background())
	require.Nil(t, res1.LastError)
	require.Equal(t, 1, res1.ReviewsRequested)
	require.Len(t, fc.Reviews[300], 1)

	res2 := o.Tick(context.Background())
	require.Nil(t, res2.LastError)
	require.Equal(t, 0, res2.ReviewsRequested, "a pending review should not be re-requested")
	require.Len(t, fc.Reviews[300], 1)
}

func TestTickPhase5RecoversDroppedAssignment(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[4] = &hostclient.Issue{Number: 4, Title: "Flaky feature", Body: "| speckit.specify | Backlog | ⏳ active |"}
	fc.Items = []hostclient.ProjectItem{{ItemID: "item-4", IssueNumber: 4, Status: "Backlog"}}
	// No open PR, no bot assignment: the agent was silently dropped.

	o, bus := newTestOrchestrator(fc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(8)
	go func() { _ = bus.Run(ctx) }()

	// Phase 0 reconstructs the pipeline (no PR yet, so no completion signal)
	// in the same tick Phase 5 notices the tracking table's active row has
	// neither a Bot assignment nor a draft PR behind it, and recovers it.
	res := o.Tick(context.Background())
	require.Nil(t, res.LastError)
	require.Equal(t, 0, res.Advanced)
	require.Equal(t, 1, res.Recovered)
	require.Contains(t, fc.Assignees[4], botLogin)

	// Recovery re-runs the normal assignment, which publishes agent_assigned
	// before the recovery event itself.
	assignedEvt := requireEvent(t, ch)
	require.Equal(t, eventbus.KindAgentAssigned, assignedEvt.Kind)

	evt := requireEvent(t, ch)
	require.Equal(t, eventbus.KindRecovery, evt.Kind)
	require.Equal(t, "speckit.specify", evt.Agent)
	require.Contains(t, evt.Missing, "assignment")
	require.Contains(t, evt.Missing, "draft_pr")
}

func requireEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return eventbus.Event{}
	}
}
