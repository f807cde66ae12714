package advancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/config"
	"github.com/agentpipeline/orchestrator/internal/eventbus"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/pipeline"
	"github.com/agentpipeline/orchestrator/internal/testutil"
)

const botLogin = "copilot-bot"

func fixedNow() func() time.Time {
	t := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func testConfig() *config.ProjectConfig {
	return &config.ProjectConfig{
		Owner: "acme", Repo: "widgets", ProjectID: "PVT_1", DefaultBranch: "main",
		ReviewStatus:       "In Review",
		CodeReviewBotLogin: "review-bot",
		Statuses: []config.StatusConfig{
			{Name: "Backlog", Agents: []string{"speckit.specify", "speckit.plan"}},
			{Name: "Ready", Agents: nil},
			{Name: "In Progress", Agents: []string{"speckit.implement"}},
			{Name: "In Review"},
			{Name: "Done"},
		},
	}
}

func setupAdvancer(fc *testutil.FakeClient) (*Advancer, *eventbus.Bus, *pipeline.Store, *cache.Caches) {
	store := pipeline.New()
	caches := cache.New(120*time.Second, 300*time.Second)
	bus := eventbus.New(16)
	return New(fc, store, caches, bus, botLogin, fixedNow()), bus, store, caches
}

func TestAdvanceFirstAgentCapturesMainPRAndAssignsNext(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[42] = &hostclient.Issue{Number: 42, Title: "Fix the thing", Body: "| speckit.specify | Backlog | ⏳ active |"}
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, State: "open", HeadRef: "copilot/fix-42", HeadSHA: "sha1"}

	a, bus, store, _ := setupAdvancer(fc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(8)
	go func() { _ = bus.Run(ctx) }()

	pipe := &pipeline.Pipeline{
		IssueID: 42, ProjectID: "PVT_1", Status: "Backlog",
		Agents: []string{"speckit.specify", "speckit.plan"}, CurrentIndex: 0,
		SubIssues: map[string]int{},
	}
	store.Put(pipe)

	err := a.Advance(context.Background(), "acme", "widgets", pipe, testConfig(), "item-42", "speckit.specify")
	require.NoError(t, err)

	require.Equal(t, []string{"speckit.specify"}, pipe.Completed)
	require.Equal(t, 1, pipe.CurrentIndex)
	require.Equal(t, 100, pipe.MainBranch.PRID)
	require.Equal(t, "copilot/fix-42", pipe.MainBranch.Name)
	require.Contains(t, fc.PRs[100].Body, "Closes #42")
	require.Contains(t, fc.Assignees[42], botLogin)

	evt := requireEvent(t, ch)
	require.Equal(t, eventbus.KindAgentCompleted, evt.Kind)
	evt2 := requireEvent(t, ch)
	require.Equal(t, eventbus.KindAgentAssigned, evt2.Kind)
	require.Equal(t, "speckit.plan", evt2.Agent)
}

func TestAdvanceChildPRMergeConflictAborts(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[7] = &hostclient.Issue{Number: 7, Title: "Issue 7", Body: "body"}
	fc.PRs[100] = &hostclient.PullRequest{Number: 100, Author: botLogin, State: "open", HeadRef: "copilot/fix-7"}
	fc.PRs[101] = &hostclient.PullRequest{Number: 101, Author: botLogin, State: "open", HeadRef: "feature-c", BaseRef: "copilot/fix-7"}
	fc.MergeErr = errors.New("merge rejected")

	a, _, store, caches := setupAdvancer(fc)

	pipe := &pipeline.Pipeline{
		IssueID: 7, ProjectID: "PVT_1", Status: "In Progress",
		Agents: []string{"speckit.implement"}, CurrentIndex: 0,
		SubIssues:  map[string]int{},
		MainBranch: pipeline.MainBranch{Name: "copilot/fix-7", PRID: 100, Linked: true},
	}
	store.Put(pipe)

	err := a.Advance(context.Background(), "acme", "widgets", pipe, testConfig(), "item-7", "speckit.implement")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMergeConflict)

	require.Empty(t, pipe.Completed)
	require.Equal(t, 0, pipe.CurrentIndex)
	require.False(t, caches.ClaimedChildPRs.Contains(claimedKey(7, 101, "speckit.implement")))
}

func TestAdvancePassThroughStatusWithNoAgents(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[9] = &hostclient.Issue{Number: 9, Title: "Issue 9", Body: "body"}
	fc.Items = []hostclient.ProjectItem{{ItemID: "item-9", IssueNumber: 9, Status: "Backlog"}}
	fc.PRs[200] = &hostclient.PullRequest{Number: 200, Author: botLogin, State: "open", HeadRef: "copilot/fix-9"}

	a, bus, store, _ := setupAdvancer(fc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(8)
	go func() { _ = bus.Run(ctx) }()

	pipe := &pipeline.Pipeline{
		IssueID: 9, ProjectID: "PVT_1", Status: "Backlog",
		Agents: []string{"speckit.specify", "speckit.plan"}, CurrentIndex: 1,
		Completed:  []string{"speckit.specify"},
		SubIssues:  map[string]int{},
		MainBranch: pipeline.MainBranch{Name: "copilot/fix-9", PRID: 200, Linked: true},
	}
	store.Put(pipe)

	err := a.Advance(context.Background(), "acme", "widgets", pipe, testConfig(), "item-9", "speckit.plan")
	require.NoError(t, err)

	newPipe, ok := store.Get(9)
	require.True(t, ok)
	require.Equal(t, "In Progress", newPipe.Status)
	require.Equal(t, []string{"speckit.implement"}, newPipe.Agents)

	requireEventOfKind(t, ch, eventbus.KindAgentCompleted)
	statusEvt := requireEventOfKind(t, ch, eventbus.KindStatusUpdated)
	require.Equal(t, "Backlog", statusEvt.From)
	require.Equal(t, "Ready", statusEvt.To)

	assignedEvt := requireEventOfKind(t, ch, eventbus.KindAgentAssigned)
	require.Equal(t, "speckit.implement", assignedEvt.Agent)
	require.Equal(t, "In Progress", fc.ItemStatus["item-9"])
}

func TestTransitionCarriesSubIssuesForward(t *testing.T) {
	fc := testutil.NewFakeClient()
	fc.Issues[9] = &hostclient.Issue{Number: 9, Title: "Issue 9", Body: "body"}
	fc.Items = []hostclient.ProjectItem{{ItemID: "item-9", IssueNumber: 9, Status: "Ready"}}
	fc.PRs[200] = &hostclient.PullRequest{Number: 200, Author: botLogin, State: "open", HeadRef: "copilot/fix-9"}

	a, _, store, _ := setupAdvancer(fc)

	pipe := &pipeline.Pipeline{
		IssueID: 9, ProjectID: "PVT_1", Status: "Backlog",
		Agents: []string{"speckit.specify", "speckit.plan"}, CurrentIndex: 2,
		Completed:  []string{"speckit.specify", "speckit.plan"},
		SubIssues:  map[string]int{"speckit.specify": 901, "speckit.plan": 902},
		MainBranch: pipeline.MainBranch{Name: "copilot/fix-9", PRID: 200, Linked: true},
	}

	err := a.Transition(context.Background(), "acme", "widgets", pipe, testConfig(), "item-9")
	require.NoError(t, err)

	newPipe, ok := store.Get(9)
	require.True(t, ok)
	require.Equal(t, "In Progress", newPipe.Status)
	require.Equal(t, map[string]int{"speckit.specify": 901, "speckit.plan": 902}, newPipe.SubIssues)
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

func requireEventOfKind(t *testing.T, ch <-chan eventbus.Event, kind eventbus.Kind) eventbus.Event {
	t.Helper()
	for i := 0; i < 6; i++ {
		e := requireEvent(t, ch)
		if e.Kind == kind {
			return e
		}
	}
	t.Fatalf("never saw event of kind %s", kind)
	return eventbus.Event{}
}
