package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/miriadlabs/miriad/internal/store"
)

// Long-term memory tools. Mutations carry an expected_version so the
// model participates in the CAS protocol: a conflict comes back as a
// structured error payload it can re-read from.

func ltmError(err error) *Result {
	var ce *store.ConflictError
	switch {
	case errors.As(err, &ce):
		payload, _ := json.Marshal(map[string]interface{}{
			"error":    "version_conflict",
			"slug":     ce.Slug,
			"expected": ce.Expected,
			"actual":   ce.Actual,
		})
		return ErrorResult(string(payload)).WithError(err)
	case errors.Is(err, store.ErrArchived):
		return ErrorResult("entry is archived").WithError(err)
	case errors.Is(err, store.ErrNotFound):
		return ErrorResult("entry not found").WithError(err)
	case errors.Is(err, store.ErrDuplicate):
		return ErrorResult("an entry with that slug already exists").WithError(err)
	}
	return ErrorResult(err.Error()).WithError(err)
}

func renderEntry(e *store.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "slug: %s\npath: %s\nversion: %d\ntitle: %s\n", e.Slug, e.Path, e.Version, e.Title)
	if len(e.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(e.Tags, ", "))
	}
	if len(e.Links) > 0 {
		fmt.Fprintf(&b, "links: %s\n", strings.Join(e.Links, ", "))
	}
	b.WriteString("\n")
	b.WriteString(e.Body)
	return b.String()
}

func renderEntryList(entries []store.Entry) string {
	if len(entries) == 0 {
		return "no entries"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s (v%d) %s\n", e.Path, e.Version, e.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

type LTMCreateTool struct {
	store *store.Store
	actor store.Actor
}

func NewLTMCreateTool(s *store.Store, actor store.Actor) *LTMCreateTool {
	return &LTMCreateTool{store: s, actor: actor}
}

func (t *LTMCreateTool) Name() string { return "ltm_create" }
func (t *LTMCreateTool) Description() string {
	return "Create a long-term memory entry. Slug must be unique; parent_slug nests it in the hierarchy."
}
func (t *LTMCreateTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"slug":        {Type: "string", Description: "Unique slug (no slashes)"},
		"parent_slug": {Type: "string", Description: "Optional parent entry slug"},
		"title":       {Type: "string", Description: "Entry title"},
		"body":        {Type: "string", Description: "Entry body"},
		"tags":        {Type: "array", Items: &PropertyDef{Type: "string"}},
		"links":       {Type: "array", Items: &PropertyDef{Type: "string"}},
	}, "slug", "title", "body")
}

func (t *LTMCreateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slug, _ := args["slug"].(string)
	parent, _ := args["parent_slug"].(string)
	title, _ := args["title"].(string)
	body, _ := args["body"].(string)

	entry, err := t.store.CreateEntry(slug, parent, title, body,
		stringSlice(args["tags"]), stringSlice(args["links"]), t.actor)
	if err != nil {
		return ltmError(err)
	}
	return NewResult(fmt.Sprintf("created %s (version 1)", entry.Path))
}

type LTMReadTool struct {
	store *store.Store
}

func NewLTMReadTool(s *store.Store) *LTMReadTool { return &LTMReadTool{store: s} }

func (t *LTMReadTool) Name() string        { return "ltm_read" }
func (t *LTMReadTool) Description() string { return "Read a long-term memory entry by slug" }
func (t *LTMReadTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"slug": {Type: "string", Description: "Entry slug"},
	}, "slug")
}

func (t *LTMReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slug, _ := args["slug"].(string)
	entry, err := t.store.ReadEntry(slug)
	if err != nil {
		return ltmError(err)
	}
	return NewResult(renderEntry(entry))
}

type LTMUpdateTool struct {
	store *store.Store
	actor store.Actor
}

func NewLTMUpdateTool(s *store.Store, actor store.Actor) *LTMUpdateTool {
	return &LTMUpdateTool{store: s, actor: actor}
}

func (t *LTMUpdateTool) Name() string { return "ltm_update" }
func (t *LTMUpdateTool) Description() string {
	return "Replace an entry's body. expected_version must match the current version (read first)."
}
func (t *LTMUpdateTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"slug":             {Type: "string", Description: "Entry slug"},
		"body":             {Type: "string", Description: "New body"},
		"expected_version": {Type: "integer", Description: "Version the entry is expected to be at"},
	}, "slug", "body", "expected_version")
}

func (t *LTMUpdateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slug, _ := args["slug"].(string)
	body, _ := args["body"].(string)
	entry, err := t.store.UpdateEntry(slug, body, intArg(args["expected_version"]), t.actor)
	if err != nil {
		return ltmError(err)
	}
	return NewResult(fmt.Sprintf("updated %s to version %d", entry.Path, entry.Version))
}

type LTMUpdateTagsTool struct {
	store *store.Store
	actor store.Actor
}

func NewLTMUpdateTagsTool(s *store.Store, actor store.Actor) *LTMUpdateTagsTool {
	return &LTMUpdateTagsTool{store: s, actor: actor}
}

func (t *LTMUpdateTagsTool) Name() string { return "ltm_update_tags" }
func (t *LTMUpdateTagsTool) Description() string {
	return "Replace an entry's tags. expected_version must match the current version."
}
func (t *LTMUpdateTagsTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"slug":             {Type: "string", Description: "Entry slug"},
		"tags":             {Type: "array", Items: &PropertyDef{Type: "string"}},
		"expected_version": {Type: "integer", Description: "Version the entry is expected to be at"},
	}, "slug", "tags", "expected_version")
}

func (t *LTMUpdateTagsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slug, _ := args["slug"].(string)
	entry, err := t.store.UpdateEntryTags(slug, stringSlice(args["tags"]), intArg(args["expected_version"]), t.actor)
	if err != nil {
		return ltmError(err)
	}
	return NewResult(fmt.Sprintf("updated tags on %s (version %d)", entry.Path, entry.Version))
}

type LTMArchiveTool struct {
	store *store.Store
	actor store.Actor
}

func NewLTMArchiveTool(s *store.Store, actor store.Actor) *LTMArchiveTool {
	return &LTMArchiveTool{store: s, actor: actor}
}

func (t *LTMArchiveTool) Name() string { return "ltm_archive" }
func (t *LTMArchiveTool) Description() string {
	return "Archive an entry so it no longer appears in reads or searches. expected_version must match."
}
func (t *LTMArchiveTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"slug":             {Type: "string", Description: "Entry slug"},
		"expected_version": {Type: "integer", Description: "Version the entry is expected to be at"},
	}, "slug", "expected_version")
}

func (t *LTMArchiveTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	slug, _ := args["slug"].(string)
	if _, err := t.store.ArchiveEntry(slug, intArg(args["expected_version"]), t.actor); err != nil {
		return ltmError(err)
	}
	return NewResult(fmt.Sprintf("archived %s", slug))
}

type LTMChildrenTool struct {
	store *store.Store
}

func NewLTMChildrenTool(s *store.Store) *LTMChildrenTool { return &LTMChildrenTool{store: s} }

func (t *LTMChildrenTool) Name() string { return "ltm_children" }
func (t *LTMChildrenTool) Description() string {
	return "List child entries of a parent slug; omit parent_slug for root entries"
}
func (t *LTMChildrenTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"parent_slug": {Type: "string", Description: "Parent slug, empty for roots"},
	})
}

func (t *LTMChildrenTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	parent, _ := args["parent_slug"].(string)
	entries, err := t.store.GetChildren(parent)
	if err != nil {
		return ltmError(err)
	}
	return NewResult(renderEntryList(entries))
}

type LTMGlobTool struct {
	store *store.Store
}

func NewLTMGlobTool(s *store.Store) *LTMGlobTool { return &LTMGlobTool{store: s} }

func (t *LTMGlobTool) Name() string { return "ltm_glob" }
func (t *LTMGlobTool) Description() string {
	return "Find entries whose path matches a glob pattern, e.g. /projects/*"
}
func (t *LTMGlobTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"pattern":   {Type: "string", Description: "Path glob pattern"},
		"max_depth": {Type: "integer", Description: "Optional maximum path depth"},
	}, "pattern")
}

func (t *LTMGlobTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	entries, err := t.store.GlobEntries(pattern, intArg(args["max_depth"]))
	if err != nil {
		return ltmError(err)
	}
	return NewResult(renderEntryList(entries))
}

type LTMSearchTool struct {
	store *store.Store
}

func NewLTMSearchTool(s *store.Store) *LTMSearchTool { return &LTMSearchTool{store: s} }

func (t *LTMSearchTool) Name() string { return "ltm_search" }
func (t *LTMSearchTool) Description() string {
	return "Search entry titles and bodies; title matches rank above body matches"
}
func (t *LTMSearchTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"query":       {Type: "string", Description: "Search text"},
		"path_prefix": {Type: "string", Description: "Optional path prefix to limit the search"},
	}, "query")
}

func (t *LTMSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	prefix, _ := args["path_prefix"].(string)
	entries, err := t.store.SearchEntries(query, prefix)
	if err != nil {
		return ltmError(err)
	}
	return NewResult(renderEntryList(entries))
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intArg(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
