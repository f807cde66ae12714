// Package tracking parses and edits the durable agent-status table embedded
// in an issue body: the source of truth for "which agent is in flight"
// across Orchestrator restarts.
package tracking

import (
	"regexp"
	"strings"
)

// State is one pipeline step's progress, rendered in the tracking table as
// a glyph.
type State int

const (
	Pending State = iota
	Active
	Done
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Done:
		return "done"
	default:
		return "pending"
	}
}

const (
	glyphDone    = "✅"
	glyphActive  = "⏳"
	glyphPending = "⬜"
)

func glyphFor(s State) string {
	switch s {
	case Active:
		return glyphActive
	case Done:
		return glyphDone
	default:
		return glyphPending
	}
}

func stateForGlyph(glyph string) (State, bool) {
	switch glyph {
	case glyphDone:
		return Done, true
	case glyphActive:
		return Active, true
	case glyphPending:
		return Pending, true
	default:
		return Pending, false
	}
}

// Step is one row of the tracking table.
type Step struct {
	Agent        string
	StatusColumn string
	State        State
}

// rowRe matches a three-cell markdown table row, tolerant of cosmetic
// whitespace around each cell, mirroring the teacher's composed-regex style
// in parser.Parse rather than a full table grammar.
var rowRe = regexp.MustCompile(`^\s*\|([^|]*)\|([^|]*)\|([^|]*)\|\s*$`)

var glyphRe = regexp.MustCompile(glyphDone + "|" + glyphActive + "|" + glyphPending)

// Parse extracts the ordered list of steps from an issue body's tracking
// table. Rows with no recognized glyph (header, separator, unrelated
// tables) are skipped.
func Parse(body string) []Step {
	var steps []Step
	for _, line := range strings.Split(body, "\n") {
		m := rowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		glyph := glyphRe.FindString(m[3])
		state, ok := stateForGlyph(glyph)
		if !ok {
			continue
		}
		agent := strings.TrimSpace(m[1])
		if agent == "" || strings.Trim(agent, "-") == "" {
			continue
		}
		steps = append(steps, Step{
			Agent:        agent,
			StatusColumn: strings.TrimSpace(m[2]),
			State:        state,
		})
	}
	return steps
}

// CurrentActive returns the step currently marked active, if any.
func CurrentActive(body string) (Step, bool) {
	for _, s := range Parse(body) {
		if s.State == Active {
			return s, true
		}
	}
	return Step{}, false
}

// NextPending returns the first step still pending, if any.
func NextPending(body string) (Step, bool) {
	for _, s := range Parse(body) {
		if s.State == Pending {
			return s, true
		}
	}
	return Step{}, false
}

// MarkActive transitions agent's row to active, first demoting any
// previously-active row to done (an agent can only become active once its
// predecessor has finished). Idempotent: re-marking an already-active agent
// with no other active row returns body unchanged. Surrounding markdown
// outside the edited cells is preserved byte-for-byte.
func MarkActive(body, agent string) string {
	return rewriteRows(body, func(s Step) (State, bool) {
		switch {
		case s.Agent == agent:
			return Active, s.State != Active
		case s.State == Active:
			return Done, true
		default:
			return s.State, false
		}
	})
}

// MarkDone transitions agent's row to done. Idempotent.
func MarkDone(body, agent string) string {
	return rewriteRows(body, func(s Step) (State, bool) {
		if s.Agent == agent {
			return Done, s.State != Done
		}
		return s.State, false
	})
}

// rewriteRows walks body line by line, calling decide for every recognized
// tracking row; decide returns the row's new state and whether it changed.
// Unmatched lines and unchanged rows are copied through untouched.
func rewriteRows(body string, decide func(Step) (State, bool)) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		idx := rowRe.FindStringSubmatchIndex(line)
		if idx == nil {
			continue
		}
		cell3 := line[idx[6]:idx[7]]
		glyph := glyphRe.FindString(cell3)
		state, ok := stateForGlyph(glyph)
		if !ok {
			continue
		}
		agent := strings.TrimSpace(line[idx[2]:idx[3]])
		if agent == "" {
			continue
		}
		step := Step{Agent: agent, StatusColumn: strings.TrimSpace(line[idx[4]:idx[5]]), State: state}

		newState, changed := decide(step)
		if !changed {
			continue
		}
		newCell := " " + glyphFor(newState) + " " + newState.String() + " "
		lines[i] = line[:idx[6]] + newCell + line[idx[7]:]
	}
	return strings.Join(lines, "\n")
}
