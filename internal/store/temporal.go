package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind enumerates temporal message kinds.
type MessageKind string

const (
	KindUser       MessageKind = "user"
	KindAssistant  MessageKind = "assistant"
	KindToolCall   MessageKind = "tool_call"
	KindToolResult MessageKind = "tool_result"
)

// Message is one append-only temporal event. Messages are never mutated
// or deleted; compaction only covers them with summaries.
type Message struct {
	ID        string
	Kind      MessageKind
	Content   string
	Tokens    int
	CreatedAt time.Time
}

// Summary covers an inclusive [StartID, EndID] range of temporal ids.
// Order 1 summarizes raw messages; order n+1 subsumes at least one
// order-n summary.
type Summary struct {
	ID              string
	Order           int
	StartID         string
	EndID           string
	Narrative       string
	KeyObservations []string
	Tags            []string
	Tokens          int
	CreatedAt       time.Time
}

// Subsumes reports whether other's range lies inside s's range.
func (s Summary) Subsumes(other Summary) bool {
	return s.StartID <= other.StartID && other.EndID <= s.EndID
}

// Covers reports whether the message id falls inside s's range.
func (s Summary) Covers(id string) bool {
	return s.StartID <= id && id <= s.EndID
}

// AppendMessage inserts a temporal message. The id must come from the
// identifier service; insertion order equals id order.
func (s *Store) AppendMessage(m Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO temporal_messages (id, kind, content, tokens, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, string(m.Kind), m.Content, m.Tokens, toMillis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append message %s: %w", m.ID, err)
	}
	return nil
}

// CreateSummary inserts a temporal summary.
func (s *Store) CreateSummary(sum Summary) error {
	if sum.StartID > sum.EndID {
		return fmt.Errorf("create summary: start id %q > end id %q", sum.StartID, sum.EndID)
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = s.Now()
	}
	obs, _ := json.Marshal(nonNil(sum.KeyObservations))
	tags, _ := json.Marshal(nonNil(sum.Tags))
	_, err := s.db.Exec(
		`INSERT INTO temporal_summaries (id, ord, start_id, end_id, narrative, key_observations, tags, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Order, sum.StartID, sum.EndID, sum.Narrative, string(obs), string(tags), sum.Tokens, toMillis(sum.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create summary %s: %w", sum.ID, err)
	}
	return nil
}

// GetMessages returns all raw messages ascending by id.
func (s *Store) GetMessages() ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, content, tokens, created_at FROM temporal_messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind string
		var created int64
		if err := rows.Scan(&m.ID, &kind, &m.Content, &m.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = MessageKind(kind)
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetSummaries returns all summaries ascending by id.
func (s *Store) GetSummaries() ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT id, ord, start_id, end_id, narrative, key_observations, tags, tokens, created_at
		 FROM temporal_summaries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("get summaries: %w", err)
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		var sum Summary
		var obs, tags string
		var created int64
		if err := rows.Scan(&sum.ID, &sum.Order, &sum.StartID, &sum.EndID, &sum.Narrative, &obs, &tags, &sum.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		json.Unmarshal([]byte(obs), &sum.KeyObservations)
		json.Unmarshal([]byte(tags), &sum.Tags)
		sum.CreatedAt = fromMillis(created)
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// ActiveSummaries returns the maximal set of non-overlapping
// highest-order summaries: those not subsumed by any other summary.
// When two summaries cover the identical range the higher order wins.
func ActiveSummaries(sums []Summary) []Summary {
	var active []Summary
	for i, s := range sums {
		subsumed := false
		for j, t := range sums {
			if i == j {
				continue
			}
			if !t.Subsumes(s) {
				continue
			}
			if s.Subsumes(t) {
				// Identical range: keep the higher order, tie-break on id.
				if t.Order > s.Order || (t.Order == s.Order && t.ID > s.ID) {
					subsumed = true
					break
				}
				continue
			}
			subsumed = true
			break
		}
		if !subsumed {
			active = append(active, s)
		}
	}
	return active
}

// EstimateUncompactedTokens returns the token estimate of the view a
// prompt would see: messages not covered by an active summary, plus the
// active summaries themselves.
func (s *Store) EstimateUncompactedTokens() (int, error) {
	msgs, err := s.GetMessages()
	if err != nil {
		return 0, err
	}
	sums, err := s.GetSummaries()
	if err != nil {
		return 0, err
	}
	return UncompactedTokens(msgs, sums), nil
}

// UncompactedTokens is the pure computation behind
// EstimateUncompactedTokens, shared with the memory view.
func UncompactedTokens(msgs []Message, sums []Summary) int {
	active := ActiveSummaries(sums)
	total := 0
	for _, sum := range active {
		total += sum.Tokens
	}
	for _, m := range msgs {
		covered := false
		for _, sum := range active {
			if sum.Covers(m.ID) {
				covered = true
				break
			}
		}
		if !covered {
			total += m.Tokens
		}
	}
	return total
}

// SearchMessages runs a full-text query over temporal message content
// and returns matching messages ascending by id.
func (s *Store) SearchMessages(query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT m.id, m.kind, m.content, m.tokens, m.created_at
		 FROM temporal_messages_fts f
		 JOIN temporal_messages m ON m.rowid = f.rowid
		 WHERE temporal_messages_fts MATCH ?
		 ORDER BY m.id ASC LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind string
		var created int64
		if err := rows.Scan(&m.ID, &kind, &m.Content, &m.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = MessageKind(kind)
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestMessageID returns the id of the newest message, or "" when the
// log is empty.
func (s *Store) LatestMessageID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM temporal_messages ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest message id: %w", err)
	}
	return id, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
