// Package memory builds the temporal view shared by the prompt
// assembler and the compaction agent. Keeping it as one pure function
// guarantees both consumers see identical history (and the compaction
// agent's prompt stays cache-friendly against the main agent's).
package memory

import (
	"fmt"
	"strings"

	"github.com/miriadlabs/miriad/internal/store"
)

// maxRenderedChars is the per-message truncation applied in renderings.
const maxRenderedChars = 500

// View is a bounded window over temporal memory.
type View struct {
	// Summaries are the active (non-subsumed) summaries, ascending.
	Summaries []store.Summary
	// Messages are the uncovered messages inside the token budget,
	// chronological order.
	Messages []store.Message
	// Rendering is the text form injected into prompts: summary lines
	// first, then [id:…]-prefixed messages.
	Rendering string
	// ValidIDs holds every id a compaction range may reference: all raw
	// message ids plus the start/end ids of all summaries.
	ValidIDs map[string]bool
	// UncompactedTokens is the estimate of what the next prompt costs.
	UncompactedTokens int
}

// Build selects the recent-history window: starting from the newest
// uncovered message, messages are included while the accumulated token
// estimate stays within budget, then reversed to chronological order.
// budget <= 0 means unbounded.
func Build(msgs []store.Message, sums []store.Summary, budget int) View {
	active := store.ActiveSummaries(sums)

	covered := func(id string) bool {
		for _, s := range active {
			if s.Covers(id) {
				return true
			}
		}
		return false
	}

	// Newest-first accumulation over uncovered messages.
	var window []store.Message
	used := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if covered(m.ID) {
			continue
		}
		if budget > 0 && used+m.Tokens > budget && len(window) > 0 {
			break
		}
		window = append(window, m)
		used += m.Tokens
	}
	// Reverse to chronological.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}

	valid := make(map[string]bool, len(msgs)+2*len(sums))
	for _, m := range msgs {
		valid[m.ID] = true
	}
	for _, s := range sums {
		valid[s.StartID] = true
		valid[s.EndID] = true
	}

	return View{
		Summaries:         active,
		Messages:          window,
		Rendering:         render(active, window),
		ValidIDs:          valid,
		UncompactedTokens: store.UncompactedTokens(msgs, sums),
	}
}

func render(sums []store.Summary, msgs []store.Message) string {
	var b strings.Builder
	for _, s := range sums {
		fmt.Fprintf(&b, "[summary from:%s to:%s] %s\n", s.StartID, s.EndID, truncate(s.Narrative))
		for _, obs := range s.KeyObservations {
			fmt.Fprintf(&b, "  - %s\n", truncate(obs))
		}
	}
	for _, m := range msgs {
		fmt.Fprintf(&b, "[id:%s] %s: %s\n", m.ID, roleName(m.Kind), truncate(m.Content))
	}
	return b.String()
}

func roleName(k store.MessageKind) string {
	switch k {
	case store.KindUser:
		return "user"
	case store.KindAssistant:
		return "assistant"
	case store.KindToolCall:
		return "tool_call"
	case store.KindToolResult:
		return "tool_result"
	}
	return string(k)
}

// truncate caps s at maxRenderedChars characters, not bytes, so a
// multi-byte rune at the boundary is never split into invalid UTF-8.
func truncate(s string) string {
	if len(s) <= maxRenderedChars {
		return s
	}
	r := []rune(s)
	if len(r) <= maxRenderedChars {
		return s
	}
	return string(r[:maxRenderedChars]) + "…"
}
