package store

import (
	"fmt"
	"testing"
)

func seedMessages(t *testing.T, s *Store, n int, tokens int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("message_%03d", i)
		ids[i] = id
		err := s.AppendMessage(Message{
			ID:      id,
			Kind:    KindUser,
			Content: fmt.Sprintf("message body %d", i),
			Tokens:  tokens,
		})
		if err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	return ids
}

func TestAppendAndGetMessages_Ordered(t *testing.T) {
	s := openTestStore(t)
	ids := seedMessages(t, s, 5, 10)

	msgs, err := s.GetMessages()
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	for i, m := range msgs {
		if m.ID != ids[i] {
			t.Errorf("position %d: id %q, want %q", i, m.ID, ids[i])
		}
	}
}

func TestCreateSummary_RejectsInvertedRange(t *testing.T) {
	s := openTestStore(t)
	err := s.CreateSummary(Summary{
		ID: "summary_001", Order: 1,
		StartID: "message_005", EndID: "message_001",
		Narrative: "backwards", Tokens: 5,
	})
	if err == nil {
		t.Fatal("expected error for start > end")
	}
}

func TestEstimateUncompactedTokens(t *testing.T) {
	s := openTestStore(t)
	seedMessages(t, s, 10, 100) // 1000 tokens raw

	got, err := s.EstimateUncompactedTokens()
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got != 1000 {
		t.Fatalf("no summaries: estimate = %d, want 1000", got)
	}

	// Order-1 summary covering the first 6 messages at 50 tokens.
	if err := s.CreateSummary(Summary{
		ID: "summary_001", Order: 1,
		StartID: "message_000", EndID: "message_005",
		Narrative: "first six", Tokens: 50,
	}); err != nil {
		t.Fatalf("create summary: %v", err)
	}
	got, _ = s.EstimateUncompactedTokens()
	if want := 4*100 + 50; got != want {
		t.Fatalf("one summary: estimate = %d, want %d", got, want)
	}

	// Higher-order summary subsuming the first plus two more messages.
	if err := s.CreateSummary(Summary{
		ID: "summary_002", Order: 2,
		StartID: "message_000", EndID: "message_007",
		Narrative: "first eight", Tokens: 30,
	}); err != nil {
		t.Fatalf("create second summary: %v", err)
	}
	got, _ = s.EstimateUncompactedTokens()
	if want := 2*100 + 30; got != want {
		t.Fatalf("subsuming summary: estimate = %d, want %d", got, want)
	}
}

func TestActiveSummaries(t *testing.T) {
	tests := []struct {
		name string
		sums []Summary
		want []string // expected active ids
	}{
		{
			name: "no summaries",
			sums: nil,
			want: nil,
		},
		{
			name: "disjoint summaries both active",
			sums: []Summary{
				{ID: "summary_a", Order: 1, StartID: "message_000", EndID: "message_003"},
				{ID: "summary_b", Order: 1, StartID: "message_004", EndID: "message_007"},
			},
			want: []string{"summary_a", "summary_b"},
		},
		{
			name: "subsumed summary dropped",
			sums: []Summary{
				{ID: "summary_a", Order: 1, StartID: "message_002", EndID: "message_004"},
				{ID: "summary_b", Order: 2, StartID: "message_000", EndID: "message_005"},
			},
			want: []string{"summary_b"},
		},
		{
			name: "identical range keeps higher order",
			sums: []Summary{
				{ID: "summary_a", Order: 1, StartID: "message_000", EndID: "message_005"},
				{ID: "summary_b", Order: 2, StartID: "message_000", EndID: "message_005"},
			},
			want: []string{"summary_b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			active := ActiveSummaries(tt.sums)
			var got []string
			for _, a := range active {
				got = append(got, a.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("active = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("active[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSearchMessages_FTS(t *testing.T) {
	s := openTestStore(t)
	s.AppendMessage(Message{ID: "message_001", Kind: KindUser, Content: "deploy the staging cluster", Tokens: 6})
	s.AppendMessage(Message{ID: "message_002", Kind: KindAssistant, Content: "reading config files", Tokens: 4})

	msgs, err := s.SearchMessages("staging", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "message_001" {
		t.Fatalf("search result = %+v, want message_001", msgs)
	}
}

func TestLatestMessageID(t *testing.T) {
	s := openTestStore(t)
	if id, err := s.LatestMessageID(); err != nil || id != "" {
		t.Fatalf("empty log: (%q, %v)", id, err)
	}
	seedMessages(t, s, 3, 1)
	id, err := s.LatestMessageID()
	if err != nil || id != "message_002" {
		t.Fatalf("latest = (%q, %v), want message_002", id, err)
	}
}
