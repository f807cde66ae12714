// Package cli assembles the orchestrator binary's command tree, grounded on
// Raven's cmd/raven + internal/cli layering: a root command carrying global
// flags, with run/validate-config/version as subcommands below it.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/agentpipeline/orchestrator/internal/logging"
)

// Global flag values accessible to all subcommands.
var (
	flagVerbose  bool
	flagQuiet    bool
	flagJSONLogs bool
	flagConfig   string
	flagNoColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Poll-loop driver for a multi-agent AI coding pipeline",
	Long: `orchestrator polls a Host project board and drives issues through a
configured sequence of AI coding agents: assigning the next agent, detecting
completion from PR/commit signals, merging agent hand-offs, and recovering
assignments the Host silently dropped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("verbose") && os.Getenv("ORCHESTRATOR_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("ORCHESTRATOR_QUIET") != "" {
			flagQuiet = true
		}
		if !cmd.Flags().Changed("json-logs") && os.Getenv("ORCHESTRATOR_LOG_FORMAT") == "json" {
			flagJSONLogs = true
		}
		if !cmd.Flags().Changed("no-color") && (os.Getenv("NO_COLOR") != "" || os.Getenv("ORCHESTRATOR_NO_COLOR") != "") {
			flagNoColor = true
		}

		logging.Setup(flagVerbose, flagQuiet, flagJSONLogs)

		if flagNoColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) output (env: ORCHESTRATOR_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: ORCHESTRATOR_QUIET)")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "Emit structured JSON log lines (env: ORCHESTRATOR_LOG_FORMAT=json)")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to orchestrator.toml (default: search upward from cwd)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output (env: ORCHESTRATOR_NO_COLOR, NO_COLOR)")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
