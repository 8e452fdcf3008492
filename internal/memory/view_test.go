package memory

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/miriadlabs/miriad/internal/store"
)

func msg(i, tokens int) store.Message {
	return store.Message{
		ID:      fmt.Sprintf("message_%03d", i),
		Kind:    store.KindUser,
		Content: fmt.Sprintf("content %d", i),
		Tokens:  tokens,
	}
}

func TestBuild_BudgetWindow(t *testing.T) {
	var msgs []store.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, msg(i, 100))
	}

	v := Build(msgs, nil, 350)
	// Newest-first accumulation: 9, 8, 7 fit (300); adding 6 would
	// exceed 350.
	if len(v.Messages) != 3 {
		t.Fatalf("window size = %d, want 3", len(v.Messages))
	}
	// Chronological order after reversal.
	want := []string{"message_007", "message_008", "message_009"}
	for i, m := range v.Messages {
		if m.ID != want[i] {
			t.Errorf("window[%d] = %q, want %q", i, m.ID, want[i])
		}
	}
}

func TestBuild_AlwaysIncludesNewestMessage(t *testing.T) {
	// A single oversized message still enters the window so the agent
	// never loses the most recent event.
	msgs := []store.Message{msg(0, 9999)}
	v := Build(msgs, nil, 100)
	if len(v.Messages) != 1 {
		t.Fatalf("window size = %d, want 1", len(v.Messages))
	}
}

func TestBuild_SkipsCoveredMessages(t *testing.T) {
	var msgs []store.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, msg(i, 10))
	}
	sums := []store.Summary{{
		ID: "summary_001", Order: 1,
		StartID: "message_000", EndID: "message_003",
		Narrative: "early work", Tokens: 7,
	}}

	v := Build(msgs, sums, 0)
	if len(v.Messages) != 2 {
		t.Fatalf("uncovered window = %d messages, want 2", len(v.Messages))
	}
	if v.Messages[0].ID != "message_004" {
		t.Errorf("first uncovered = %q, want message_004", v.Messages[0].ID)
	}
	if want := 2*10 + 7; v.UncompactedTokens != want {
		t.Errorf("uncompacted = %d, want %d", v.UncompactedTokens, want)
	}
}

func TestBuild_Rendering(t *testing.T) {
	msgs := []store.Message{
		{ID: "message_001", Kind: store.KindUser, Content: "hello", Tokens: 2},
		{ID: "message_002", Kind: store.KindAssistant, Content: "hi there", Tokens: 2},
	}
	sums := []store.Summary{{
		ID: "summary_001", Order: 1,
		StartID: "message_000", EndID: "message_000",
		Narrative:       "setup phase",
		KeyObservations: []string{"db initialized"},
		Tokens:          3,
	}}

	v := Build(msgs, sums, 0)
	r := v.Rendering
	if !strings.Contains(r, "[summary from:message_000 to:message_000] setup phase") {
		t.Errorf("missing summary line in rendering:\n%s", r)
	}
	if !strings.Contains(r, "- db initialized") {
		t.Errorf("missing observation line in rendering:\n%s", r)
	}
	if !strings.Contains(r, "[id:message_001] user: hello") {
		t.Errorf("missing user line in rendering:\n%s", r)
	}
	if !strings.Contains(r, "[id:message_002] assistant: hi there") {
		t.Errorf("missing assistant line in rendering:\n%s", r)
	}
	// Summary lines precede message lines.
	if strings.Index(r, "[summary") > strings.Index(r, "[id:") {
		t.Error("summaries must render before messages")
	}
}

func TestBuild_TruncatesLongContent(t *testing.T) {
	long := strings.Repeat("x", 800)
	msgs := []store.Message{{ID: "message_001", Kind: store.KindUser, Content: long, Tokens: 200}}
	v := Build(msgs, nil, 0)
	if strings.Contains(v.Rendering, long) {
		t.Error("rendering contains untruncated 800-char content")
	}
	if !strings.Contains(v.Rendering, "…") {
		t.Error("truncated rendering missing ellipsis")
	}
}

func TestBuild_TruncationKeepsRunesIntact(t *testing.T) {
	// A multi-byte rune sits across the 500-byte mark; truncation counts
	// characters, so the rendering must stay valid UTF-8.
	content := strings.Repeat("x", 499) + strings.Repeat("é", 10)
	msgs := []store.Message{{ID: "message_001", Kind: store.KindUser, Content: content, Tokens: 200}}
	v := Build(msgs, nil, 0)
	if !utf8.ValidString(v.Rendering) {
		t.Fatal("rendering is not valid UTF-8")
	}
	if !strings.Contains(v.Rendering, strings.Repeat("x", 499)+"é…") {
		t.Error("rendering does not keep the first 500 characters intact")
	}
}

func TestBuild_ValidIDs(t *testing.T) {
	msgs := []store.Message{msg(1, 5), msg(2, 5)}
	sums := []store.Summary{{
		ID: "summary_001", Order: 1,
		StartID: "message_000", EndID: "message_001", Tokens: 2,
	}}
	v := Build(msgs, sums, 0)

	for _, id := range []string{"message_001", "message_002", "message_000"} {
		if !v.ValidIDs[id] {
			t.Errorf("ValidIDs missing %q", id)
		}
	}
	if v.ValidIDs["summary_001"] {
		t.Error("summary id itself must not be a valid range endpoint")
	}
}
