package cli

import (
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpipeline/orchestrator/internal/buildinfo"
)

// captureStdout runs fn with os.Stdout redirected to a pipe and returns
// everything written to it. version.go writes straight to os.Stdout rather
// than cmd.OutOrStdout(), matching the teacher's own version command, so
// tests have to intercept the file descriptor instead of cmd's writer.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestVersionCmdText(t *testing.T) {
	versionJSON = false
	cmd := &cobra.Command{RunE: versionCmd.RunE}

	out := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "orchestrator v")
}

func TestVersionCmdJSON(t *testing.T) {
	versionJSON = true
	defer func() { versionJSON = false }()
	cmd := &cobra.Command{RunE: versionCmd.RunE}

	out := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})

	var info buildinfo.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info.Version)
}
