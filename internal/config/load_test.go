package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFullTOML = `
poll_interval_seconds = 45
bot_assignee_login = "agent-bot"

[project.acme]
owner = "acme-corp"
repo = "widgets"
project_id = "PVT_xyz"
default_branch = "main"
review_status = "In Review"
code_review_bot_login = "coderabbitai"

[[project.acme.status]]
name = "Backlog"

[[project.acme.status]]
name = "Ready"
agents = ["planner"]

[[project.acme.status]]
name = "In Progress"
agents = ["implementer", "tester"]
artifacts = ["PLAN.md"]
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFromFile_ValidFull(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromFile(writeTemp(t, validFullTOML))
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.PollIntervalSeconds)
	assert.Equal(t, defaultAssignmentGracePeriodSeconds, cfg.AssignmentGracePeriodSeconds)
	assert.Equal(t, defaultRecoveryCooldownSeconds, cfg.RecoveryCooldownSeconds)

	require.Contains(t, cfg.Projects, "acme")
	p := cfg.Projects["acme"]
	assert.Equal(t, "acme-corp", p.Owner)
	assert.Equal(t, "widgets", p.Repo)
	require.Len(t, p.Statuses, 3)
	assert.Equal(t, []string{"implementer", "tester"}, p.AgentsForStatus("In Progress"))
	assert.Equal(t, "In Progress", p.NextStatus("Ready"))
	assert.Equal(t, "", p.NextStatus("In Progress"))
}

func TestLoadFromFile_PollIntervalTooLow(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromFile(writeTemp(t, `
poll_interval_seconds = 1
bot_assignee_login = "agent-bot"

[project.acme]
owner = "acme-corp"
repo = "widgets"
project_id = "PVT_xyz"
review_status = "In Review"

[[project.acme.status]]
name = "Backlog"
`))
	require.NoError(t, err)
	assert.Equal(t, defaultPollIntervalSeconds, cfg.PollIntervalSeconds)
}

func TestLoadFromFile_MissingBotLogin(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(writeTemp(t, `
[project.acme]
owner = "acme-corp"
repo = "widgets"
project_id = "PVT_xyz"
review_status = "In Review"

[[project.acme.status]]
name = "Backlog"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_assignee_login")
}

func TestLoadFromFile_DuplicateStatus(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(writeTemp(t, `
bot_assignee_login = "agent-bot"

[project.acme]
owner = "acme-corp"
repo = "widgets"
project_id = "PVT_xyz"
review_status = "In Review"

[[project.acme.status]]
name = "Backlog"

[[project.acme.status]]
name = "Backlog"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate status")
}

func TestLoadFromFile_MalformedTOML(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(writeTemp(t, "this is not [ valid toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestLoadFromFile_UnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile(writeTemp(t, `
bot_assignee_login = "agent-bot"
mystery_field = true

[project.acme]
owner = "acme-corp"
repo = "widgets"
project_id = "PVT_xyz"
review_status = "In Review"

[[project.acme.status]]
name = "Backlog"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestLoadFromFile_NonExistentFile(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile("/nonexistent/path/orchestrator.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestFindConfigFile_InCurrentDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("bot_assignee_login = \"x\"\n"), 0o644))

	found, err := FindConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, configPath, found)
}

func TestFindConfigFile_InParentDir(t *testing.T) {
	t.Parallel()
	parent := t.TempDir()
	child := filepath.Join(parent, "sub", "deep")
	require.NoError(t, os.MkdirAll(child, 0o755))

	configPath := filepath.Join(parent, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("bot_assignee_login = \"x\"\n"), 0o644))

	found, err := FindConfigFile(child)
	require.NoError(t, err)
	assert.Equal(t, configPath, found)
}

func TestFindConfigFile_NotFound(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	found, err := FindConfigFile(dir)
	require.NoError(t, err)
	assert.Empty(t, found)
}
