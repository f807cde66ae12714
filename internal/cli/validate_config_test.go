package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTOML = `
poll_interval_seconds = 45
bot_assignee_login = "copilot-bot"

[project.widgets]
owner = "acme"
repo = "widgets"
project_id = "PVT_1"
review_status = "In Review"

[[project.widgets.status]]
name = "Backlog"
agents = ["speckit.specify"]

[[project.widgets.status]]
name = "In Review"
`

func withConfigFile(t *testing.T, content string) func() {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	prev := flagConfig
	flagConfig = path
	return func() { flagConfig = prev }
}

func TestValidateConfigCmdSuccess(t *testing.T) {
	restore := withConfigFile(t, validTOML)
	defer restore()

	cmd := &cobra.Command{RunE: validateConfigCmd.RunE}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Configuration OK")
	assert.Contains(t, out.String(), "widgets: acme/widgets")
}

func TestValidateConfigCmdInvalid(t *testing.T) {
	restore := withConfigFile(t, `poll_interval_seconds = 45`)
	defer restore()

	cmd := &cobra.Command{RunE: validateConfigCmd.RunE}
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "Configuration invalid")
}
