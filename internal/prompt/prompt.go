// Package prompt assembles the system prompt from the three memory
// tiers: long-term identity/behavior entries, the present-state block,
// and the bounded temporal history view.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miriadlabs/miriad/internal/memory"
	"github.com/miriadlabs/miriad/internal/store"
)

// Config carries everything the assembler renders. All fields are
// optional; missing tiers are simply omitted from the output.
type Config struct {
	// Identity and Behavior are the LTM entries with those slugs, when
	// they exist.
	Identity *store.Entry
	Behavior *store.Entry
	// Present is the current present-state row.
	Present store.Present
	// View is the shared temporal history view.
	View memory.View
	// Extra is appended verbatim at the end (compaction task
	// instructions, etc.).
	Extra string
}

const header = `You are a long-lived coding agent. Your memory persists across
sessions in three tiers: long-term entries, a present-state scratchpad,
and the conversation history below. Use your memory tools to keep all
three current.`

// Build produces the single system-prompt string.
func Build(cfg Config) string {
	var b strings.Builder
	b.WriteString(header)

	if cfg.Identity != nil {
		b.WriteString("\n\n# Identity\n")
		b.WriteString(cfg.Identity.Body)
	}
	if cfg.Behavior != nil {
		b.WriteString("\n\n# Behavior\n")
		b.WriteString(cfg.Behavior.Body)
	}

	b.WriteString("\n\n")
	b.WriteString(renderPresent(cfg.Present))

	if cfg.View.Rendering != "" {
		b.WriteString("\n\n# Recent history\n")
		b.WriteString(cfg.View.Rendering)
	}

	if cfg.Extra != "" {
		b.WriteString("\n\n")
		b.WriteString(cfg.Extra)
	}
	return b.String()
}

// FromStore loads all three memory tiers and assembles the prompt.
// The returned view is the same one rendered into the prompt, so
// callers (the compaction agent) can reuse its ValidIDs and totals.
func FromStore(s *store.Store, temporalBudget int, extra string) (string, memory.View, error) {
	msgs, err := s.GetMessages()
	if err != nil {
		return "", memory.View{}, err
	}
	sums, err := s.GetSummaries()
	if err != nil {
		return "", memory.View{}, err
	}
	present, err := s.GetPresent()
	if err != nil {
		return "", memory.View{}, err
	}

	cfg := Config{
		Present: present,
		View:    memory.Build(msgs, sums, temporalBudget),
		Extra:   extra,
	}
	// Identity and behavior entries are optional.
	if e, err := s.ReadEntry("identity"); err == nil {
		cfg.Identity = e
	}
	if e, err := s.ReadEntry("behavior"); err == nil {
		cfg.Behavior = e
	}

	return Build(cfg), cfg.View, nil
}

// renderPresent serializes the present state as a small tagged block so
// the model can quote it back when updating.
func renderPresent(p store.Present) string {
	var b strings.Builder
	b.WriteString("<present_state>\n")
	if p.Mission != "" {
		fmt.Fprintf(&b, "mission: %s\n", p.Mission)
	}
	if p.Status != "" {
		fmt.Fprintf(&b, "status: %s\n", p.Status)
	}
	if len(p.Tasks) > 0 {
		b.WriteString("tasks:\n")
		for _, t := range p.Tasks {
			line := fmt.Sprintf("- [%s] %s: %s", t.Status, t.ID, t.Content)
			if t.Status == store.TaskBlocked && t.BlockedReason != "" {
				line += " (blocked: " + t.BlockedReason + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	if p.Mission == "" && p.Status == "" && len(p.Tasks) == 0 {
		b.WriteString("(empty)\n")
	}
	b.WriteString("</present_state>")
	return b.String()
}

// TasksJSON renders the task list as compact JSON, used by the
// present_update_tasks tool description to show the expected shape.
func TasksJSON(tasks []store.Task) string {
	data, err := json.Marshal(tasks)
	if err != nil {
		return "[]"
	}
	return string(data)
}
