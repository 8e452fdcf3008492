package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/miriadlabs/miriad/internal/store"
)

// HistorySearchTool queries the full-text index over temporal messages,
// reaching past the bounded prompt window.
type HistorySearchTool struct {
	store *store.Store
}

func NewHistorySearchTool(s *store.Store) *HistorySearchTool {
	return &HistorySearchTool{store: s}
}

func (t *HistorySearchTool) Name() string { return "history_search" }
func (t *HistorySearchTool) Description() string {
	return "Full-text search over the complete conversation history, including messages outside the visible window"
}
func (t *HistorySearchTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"query": {Type: "string", Description: "Search text"},
		"limit": {Type: "integer", Description: "Maximum results (default 10)"},
	}, "query")
}

func (t *HistorySearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	limit := intArg(args["limit"])
	if limit <= 0 {
		limit = 10
	}

	msgs, err := t.store.SearchMessages(query, limit)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if len(msgs) == 0 {
		return NewResult("no matches")
	}

	var b strings.Builder
	for _, m := range msgs {
		content := m.Content
		// Truncate on runes so a multi-byte character at the boundary
		// survives intact.
		if r := []rune(content); len(r) > 300 {
			content = string(r[:300]) + "…"
		}
		fmt.Fprintf(&b, "[id:%s] %s: %s\n", m.ID, m.Kind, content)
	}
	return NewResult(strings.TrimRight(b.String(), "\n"))
}
