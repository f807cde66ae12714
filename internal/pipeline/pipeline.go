// Package pipeline holds the in-memory per-issue Pipeline record and the
// Store that owns it, plus the reconstruction logic that rebuilds a Pipeline
// from the Host's durable state after a restart or on first sight of an
// issue.
package pipeline

import "time"

// MainBranch identifies the branch every agent in a pipeline commits to, and
// the main PR that carries it. Linked records whether the Advancer has
// actually run first-PR capture (posted the "Closes #n" link) for this PR,
// as distinct from merely knowing the PR exists: reconstruction can observe
// a first agent's own open PR well before that agent has finished and
// capture has run, so PRID != 0 alone is not a reliable "already captured"
// signal.
type MainBranch struct {
	Name    string
	PRID    int
	HeadSHA string
	Linked  bool
}

// Pipeline is a fully declared, per-issue record of pipeline progress, with
// no dynamic attributes. Reconstruct builds it from Host state; after that,
// callers such as the advancer update its exported fields directly.
type Pipeline struct {
	IssueID   int
	ProjectID string
	Status    string

	Agents       []string
	CurrentIndex int
	Completed    []string

	StartedAt time.Time

	// SubIssues maps an agent tag to its per-agent tracking sub-issue
	// number.
	SubIssues map[string]int

	MainBranch  MainBranch
	AssignedSHA string
}

// CurrentAgent returns the agent tag the pipeline is presently waiting on,
// and whether the pipeline has one (false once every agent has completed).
func (p *Pipeline) CurrentAgent() (string, bool) {
	if p.CurrentIndex >= len(p.Agents) {
		return "", false
	}
	return p.Agents[p.CurrentIndex], true
}

// Complete reports whether every configured agent has completed.
func (p *Pipeline) Complete() bool {
	return p.CurrentIndex >= len(p.Agents)
}

// Clone returns a deep-enough copy of p for safe handoff across the single
// poll-loop goroutine boundary (e.g. into the event bus), since slices/maps
// are reference types.
func (p *Pipeline) Clone() *Pipeline {
	cp := *p
	cp.Agents = append([]string(nil), p.Agents...)
	cp.Completed = append([]string(nil), p.Completed...)
	cp.SubIssues = make(map[string]int, len(p.SubIssues))
	for k, v := range p.SubIssues {
		cp.SubIssues[k] = v
	}
	return &cp
}
