// Package config loads and validates the Orchestrator's per-project
// configuration: poll timings, the Bot login, status columns and per-status
// agent tags. It holds no GitHub credentials.
package config

import "fmt"

// StatusConfig describes one status column in a project's pipeline sequence.
type StatusConfig struct {
	// Name is the Host's project-board status/column name, e.g. "Backlog".
	Name string `toml:"name"`

	// Agents is the ordered list of agent tags that run while an issue sits
	// in this status. An empty list marks this status as pass-through.
	Agents []string `toml:"agents"`

	// Artifacts lists the expected artifact filenames to look for in a
	// completed agent's PR diff, posted as comments on the agent's sub-issue.
	Artifacts []string `toml:"artifacts"`
}

// ProjectConfig is the full per-project pipeline configuration.
type ProjectConfig struct {
	// Owner/Repo identify the GitHub repository used for every issue of the
	// project; there is no per-issue override.
	Owner string `toml:"owner"`
	Repo  string `toml:"repo"`

	// ProjectID is the GitHub Projects v2 node ID.
	ProjectID string `toml:"project_id"`

	// DefaultBranch is the platform's default branch (e.g. "main"), used as
	// the base branch for the first agent in a pipeline.
	DefaultBranch string `toml:"default_branch"`

	// Statuses is the ordered status sequence the state machine walks
	// through, e.g. Backlog -> Ready -> In Progress -> In Review -> Done.
	Statuses []StatusConfig `toml:"status"`

	// ReviewStatus is the status name that triggers draft->ready conversion
	// and a code-review request (Phase 4), e.g. "In Review".
	ReviewStatus string `toml:"review_status"`

	// CodeReviewBotLogin is the GitHub login whose review satisfies Phase 4.
	CodeReviewBotLogin string `toml:"code_review_bot_login"`
}

// Config is the top-level Orchestrator configuration.
type Config struct {
	// PollIntervalSeconds is the poll loop tick interval (§4.6 default 60).
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// AssignmentGracePeriodSeconds suppresses re-assignment immediately
	// after assigning an agent (§4.6 default 120).
	AssignmentGracePeriodSeconds int `toml:"assignment_grace_period_seconds"`

	// RecoveryCooldownSeconds gates repeated recovery attempts per issue
	// (§4.6 default 300).
	RecoveryCooldownSeconds int `toml:"recovery_cooldown_seconds"`

	// BotAssigneeLogin is the Host account the Orchestrator assigns/unassigns
	// to drive agent work (the "Bot" in spec.md's glossary).
	BotAssigneeLogin string `toml:"bot_assignee_login"`

	// Projects maps a short alias to its per-project configuration. One poll
	// loop runs per (project, credentials) tuple per spec.md §6.
	Projects map[string]ProjectConfig `toml:"project"`
}

// Validate checks that required configuration is present and well-formed.
// Grounded on the teacher's configuration.IsValid.
func (c *Config) Validate() error {
	if c.PollIntervalSeconds < 10 {
		return fmt.Errorf("poll_interval_seconds must be at least 10, got %d", c.PollIntervalSeconds)
	}
	if c.BotAssigneeLogin == "" {
		return fmt.Errorf("bot_assignee_login is required")
	}
	if len(c.Projects) == 0 {
		return fmt.Errorf("at least one [project.<alias>] section is required")
	}
	for alias, p := range c.Projects {
		if err := p.validate(alias); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProjectConfig) validate(alias string) error {
	if p.Owner == "" || p.Repo == "" {
		return fmt.Errorf("project %q: owner and repo are required", alias)
	}
	if p.ProjectID == "" {
		return fmt.Errorf("project %q: project_id is required", alias)
	}
	if len(p.Statuses) == 0 {
		return fmt.Errorf("project %q: at least one [[project.%s.status]] is required", alias, alias)
	}
	if p.ReviewStatus == "" {
		return fmt.Errorf("project %q: review_status is required", alias)
	}
	seen := make(map[string]bool, len(p.Statuses))
	for _, s := range p.Statuses {
		if s.Name == "" {
			return fmt.Errorf("project %q: status entries must have a name", alias)
		}
		if seen[s.Name] {
			return fmt.Errorf("project %q: duplicate status %q", alias, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// AgentsForStatus returns the configured agent tags for a status name, or nil
// if the status is unknown or pass-through (no configured agents).
func (p *ProjectConfig) AgentsForStatus(status string) []string {
	for _, s := range p.Statuses {
		if s.Name == status {
			return s.Agents
		}
	}
	return nil
}

// ArtifactsForStatus returns the expected artifact filenames for a status.
func (p *ProjectConfig) ArtifactsForStatus(status string) []string {
	for _, s := range p.Statuses {
		if s.Name == status {
			return s.Artifacts
		}
	}
	return nil
}

// NextStatus returns the status immediately following the given one in the
// configured sequence, or "" if it is the last.
func (p *ProjectConfig) NextStatus(status string) string {
	for i, s := range p.Statuses {
		if s.Name == status && i+1 < len(p.Statuses) {
			return p.Statuses[i+1].Name
		}
	}
	return ""
}
