package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentpipeline/orchestrator/internal/config"
	"github.com/agentpipeline/orchestrator/internal/eventbus"
	"github.com/agentpipeline/orchestrator/internal/hostclient"
	"github.com/agentpipeline/orchestrator/internal/logging"
	"github.com/agentpipeline/orchestrator/internal/orchestrator"
)

const eventBusBufferSize = 256

var flagOnlyProject string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the poll loop for every configured project (or one, with --project)",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagOnlyProject, "project", "", "Only run the named [project.<alias>], instead of all of them")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token := os.Getenv("ORCHESTRATOR_HOST_TOKEN")
	if token == "" {
		return fmt.Errorf("ORCHESTRATOR_HOST_TOKEN must be set")
	}

	aliases, err := selectedAliases(cfg, flagOnlyProject)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New("cli")
	client := hostclient.NewClient(token)
	bus := eventbus.New(eventBusBufferSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return logEvents(gctx, bus, logger) })

	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	grace := time.Duration(cfg.AssignmentGracePeriodSeconds) * time.Second
	cooldown := time.Duration(cfg.RecoveryCooldownSeconds) * time.Second

	for _, alias := range aliases {
		project := cfg.Projects[alias]
		o := orchestrator.New(alias, &project, client, bus, cfg.BotAssigneeLogin, grace, cooldown, nil)
		logger.Info("starting poll loop", "project", alias, "owner", project.Owner, "repo", project.Repo, "interval", interval)
		g.Go(func() error { return o.Run(gctx, interval) })
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// selectedAliases returns the project aliases run should drive: either every
// configured project, or just the one named by --project.
func selectedAliases(cfg *config.Config, only string) ([]string, error) {
	if only != "" {
		if _, ok := cfg.Projects[only]; !ok {
			return nil, fmt.Errorf("unknown project alias %q", only)
		}
		return []string{only}, nil
	}
	aliases := make([]string, 0, len(cfg.Projects))
	for alias := range cfg.Projects {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases, nil
}

// logEvents drains the bus and logs every event, giving an operator tailing
// stderr visibility into agent hand-offs without a separate subscriber.
func logEvents(ctx context.Context, bus *eventbus.Bus, logger *log.Logger) error {
	ch, unsubscribe := bus.Subscribe(eventBusBufferSize)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-ch:
			logger.Info("event", "kind", e.Kind, "issue", e.Issue, "project", e.ProjectID,
				"agent", e.Agent, "next_agent", e.NextAgent, "from", e.From, "to", e.To, "missing", e.Missing)
		}
	}
}
