package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentpipeline/orchestrator/internal/cache"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"golang.org/x/sync/singleflight"
)

// Store is the Orchestrator's in-memory pipeline map: issue_id -> *Pipeline.
// Ownership is exclusive to the poll loop goroutine per the single-threaded
// cooperative model (§5), so the map itself carries no mutex. The embedded
// singleflight.Group exists only to collapse a theoretical second caller
// (e.g. an inspection CLI subcommand) racing the poll loop on
// GetOrReconstruct for the same issue; it does not change the no-mutex
// invariant on the map, since only the poll loop ever mutates entries after
// they land.
type Store struct {
	pipelines map[int]*Pipeline
	recon     singleflight.Group
}

// New constructs an empty Store.
func New() *Store {
	return &Store{pipelines: make(map[int]*Pipeline)}
}

// Get returns the pipeline for issueNumber, if the store already holds one.
func (s *Store) Get(issueNumber int) (*Pipeline, bool) {
	p, ok := s.pipelines[issueNumber]
	return p, ok
}

// Put installs or replaces the pipeline for its IssueID.
func (s *Store) Put(p *Pipeline) {
	s.pipelines[p.IssueID] = p
}

// Delete removes a pipeline, e.g. once it has completed and its issue has
// transitioned out of the owning status.
func (s *Store) Delete(issueNumber int) {
	delete(s.pipelines, issueNumber)
}

// All returns every pipeline currently held, ordered by issue number for
// deterministic iteration across ticks.
func (s *Store) All() []*Pipeline {
	out := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueID < out[j].IssueID })
	return out
}

// GetOrReconstruct returns the stored pipeline for issueNumber, reconstructing
// it from Host state on first sight (or after a restart). Reconstruction is
// idempotent up to StartedAt, which is stamped fresh on every reconstruction
// — see scenario L1.
func (s *Store) GetOrReconstruct(
	ctx context.Context,
	client hostclient.Client,
	claimedChildPRs *cache.Set,
	owner, repo string,
	issueNumber int,
	projectID, status string,
	agents []string,
	botLogin string,
	now func() time.Time,
) (*Pipeline, error) {
	if p, ok := s.Get(issueNumber); ok {
		return p, nil
	}

	key := fmt.Sprintf("%s/%s#%d", owner, repo, issueNumber)
	v, err, _ := s.recon.Do(key, func() (interface{}, error) {
		if p, ok := s.Get(issueNumber); ok {
			return p, nil
		}
		p, err := Reconstruct(ctx, client, claimedChildPRs, owner, repo, issueNumber, projectID, status, agents, botLogin)
		if err != nil {
			return nil, err
		}
		p.StartedAt = now()
		s.Put(p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pipeline), nil
}
