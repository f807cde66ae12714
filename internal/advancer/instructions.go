package advancer

import (
	"fmt"
	"strings"

	"github.com/agentpipeline/orchestrator/internal/hostclient"
)

// BuildInstructions renders the human-readable instructions payload the
// Host Client sends along with an agent assignment, derived from the parent
// issue's title, body, and all comments, per SPEC_FULL §6's assignment
// contract.
func BuildInstructions(agent string, issue *hostclient.Issue, comments []hostclient.Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n\n", agent)
	fmt.Fprintf(&b, "# %s\n\n", issue.Title)
	if issue.Body != "" {
		b.WriteString(issue.Body)
		b.WriteString("\n")
	}
	if len(comments) > 0 {
		b.WriteString("\n## Discussion\n\n")
		for _, c := range comments {
			author := c.Author
			if author == "" {
				author = "unknown"
			}
			fmt.Fprintf(&b, "- %s: %s\n", author, c.Body)
		}
	}
	return b.String()
}
