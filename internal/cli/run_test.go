package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipeline/orchestrator/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		PollIntervalSeconds:          60,
		AssignmentGracePeriodSeconds: 120,
		RecoveryCooldownSeconds:      300,
		BotAssigneeLogin:             "copilot-bot",
		Projects: map[string]config.ProjectConfig{
			"widgets": {Owner: "acme", Repo: "widgets", ProjectID: "PVT_1", ReviewStatus: "In Review"},
			"gadgets": {Owner: "acme", Repo: "gadgets", ProjectID: "PVT_2", ReviewStatus: "In Review"},
		},
	}
}

func TestSelectedAliasesAll(t *testing.T) {
	aliases, err := selectedAliases(testConfig(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"gadgets", "widgets"}, aliases)
}

func TestSelectedAliasesOne(t *testing.T) {
	aliases, err := selectedAliases(testConfig(), "widgets")
	require.NoError(t, err)
	assert.Equal(t, []string{"widgets"}, aliases)
}

func TestSelectedAliasesUnknown(t *testing.T) {
	_, err := selectedAliases(testConfig(), "nonexistent")
	require.Error(t, err)
}
