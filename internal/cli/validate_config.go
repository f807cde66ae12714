package cli

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate orchestrator.toml without starting the poll loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path, cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(out, styleErr.Render("Configuration invalid:"))
			fmt.Fprintf(out, "  %s\n", err)
			return err
		}

		fmt.Fprintln(out, styleHeader.Render("Configuration OK"))
		fmt.Fprintf(out, "  file: %s\n", path)
		fmt.Fprintf(out, "  poll_interval_seconds: %d\n", cfg.PollIntervalSeconds)
		fmt.Fprintf(out, "  assignment_grace_period_seconds: %d\n", cfg.AssignmentGracePeriodSeconds)
		fmt.Fprintf(out, "  recovery_cooldown_seconds: %d\n", cfg.RecoveryCooldownSeconds)
		fmt.Fprintf(out, "  bot_assignee_login: %s\n", cfg.BotAssigneeLogin)

		aliases := make([]string, 0, len(cfg.Projects))
		for alias := range cfg.Projects {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		fmt.Fprintln(out, "  projects:")
		for _, alias := range aliases {
			p := cfg.Projects[alias]
			fmt.Fprintf(out, "    - %s: %s/%s (review_status=%q, statuses=%d)\n",
				alias, p.Owner, p.Repo, p.ReviewStatus, len(p.Statuses))
		}

		fmt.Fprintln(out, styleSuccess.Render("valid"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateConfigCmd)
}
