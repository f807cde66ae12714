// Command orchestrator drives the poll loop described in SPEC_FULL.md: it
// assigns agents, detects their completion, advances issues through a
// configured pipeline of statuses, and recovers assignments the Host
// silently dropped.
package main

import (
	"os"

	"github.com/agentpipeline/orchestrator/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
