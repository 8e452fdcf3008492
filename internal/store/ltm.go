package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Actor identifies who performed an LTM mutation.
type Actor string

const (
	ActorMain        Actor = "main"
	ActorConsolidate Actor = "ltm-consolidate"
	ActorReflect     Actor = "ltm-reflect"
)

// Entry is one long-term memory entry. The materialized path is derived
// from the parent chain at creation time and never edited afterwards.
type Entry struct {
	Slug       string
	ParentSlug string // "" = root entry
	Path       string
	Title      string
	Body       string
	Tags       []string
	Links      []string
	Version    int
	CreatedBy  Actor
	UpdatedBy  Actor
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const ltmColumns = `slug, parent_slug, path, title, body, tags, links, version, created_by, updated_by, archived_at, created_at, updated_at`

// CreateEntry inserts a new LTM entry at version 1. The path is derived
// as parent.path + "/" + slug (root: "/" + slug). A duplicate slug is
// rejected with ErrDuplicate; a missing parent with ErrNotFound.
func (s *Store) CreateEntry(slug, parentSlug, title, body string, tags, links []string, by Actor) (*Entry, error) {
	if slug == "" {
		return nil, fmt.Errorf("create entry: empty slug")
	}
	if strings.Contains(slug, "/") {
		return nil, fmt.Errorf("create entry: slug %q must not contain '/'", slug)
	}

	path := "/" + slug
	var parent sql.NullString
	if parentSlug != "" {
		p, err := s.ReadEntry(parentSlug)
		if err != nil {
			return nil, fmt.Errorf("create entry: resolve parent %q: %w", parentSlug, err)
		}
		path = p.Path + "/" + slug
		parent = sql.NullString{String: parentSlug, Valid: true}
	}

	now := s.Now().UTC()
	tagsJSON, _ := json.Marshal(nonNil(tags))
	linksJSON, _ := json.Marshal(nonNil(links))

	_, err := s.db.Exec(
		`INSERT INTO ltm_entries (slug, parent_slug, path, title, body, tags, links, version, created_by, updated_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		slug, parent, path, title, body, string(tagsJSON), string(linksJSON), string(by), string(by), toMillis(now), toMillis(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
			return nil, fmt.Errorf("create entry %q: %w", slug, ErrDuplicate)
		}
		return nil, fmt.Errorf("create entry %q: %w", slug, err)
	}
	return s.ReadEntry(slug)
}

// ReadEntry returns the entry, or ErrNotFound when missing or archived.
func (s *Store) ReadEntry(slug string) (*Entry, error) {
	e, err := s.readAny(slug)
	if err != nil {
		return nil, err
	}
	if e.ArchivedAt != nil {
		return nil, fmt.Errorf("read entry %q: %w", slug, ErrNotFound)
	}
	return e, nil
}

// readAny reads a row regardless of archive state.
func (s *Store) readAny(slug string) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+ltmColumns+` FROM ltm_entries WHERE slug = ?`, slug)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", slug, err)
	}
	return e, nil
}

// UpdateEntry replaces the body under CAS: the write succeeds only when
// the stored version equals expectedVersion and the entry is live. On a
// zero-row update the current row is re-read to produce the precise
// error: ErrNotFound, ErrArchived, or ConflictError.
func (s *Store) UpdateEntry(slug, body string, expectedVersion int, by Actor) (*Entry, error) {
	return s.casUpdate(slug, expectedVersion,
		`UPDATE ltm_entries SET body = ?, version = version + 1, updated_at = ?, updated_by = ?
		 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
		body, toMillis(s.Now()), string(by), slug, expectedVersion,
	)
}

// UpdateEntryTags replaces the tag list under CAS.
func (s *Store) UpdateEntryTags(slug string, tags []string, expectedVersion int, by Actor) (*Entry, error) {
	tagsJSON, _ := json.Marshal(nonNil(tags))
	return s.casUpdate(slug, expectedVersion,
		`UPDATE ltm_entries SET tags = ?, version = version + 1, updated_at = ?, updated_by = ?
		 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
		string(tagsJSON), toMillis(s.Now()), string(by), slug, expectedVersion,
	)
}

// ArchiveEntry soft-deletes the entry under CAS. Archived entries are
// invisible to reads and queries but keep their row and version history.
func (s *Store) ArchiveEntry(slug string, expectedVersion int, by Actor) (*Entry, error) {
	now := toMillis(s.Now())
	return s.casUpdate(slug, expectedVersion,
		`UPDATE ltm_entries SET archived_at = ?, version = version + 1, updated_at = ?, updated_by = ?
		 WHERE slug = ? AND version = ? AND archived_at IS NULL`,
		now, now, string(by), slug, expectedVersion,
	)
}

func (s *Store) casUpdate(slug string, expectedVersion int, query string, args ...any) (*Entry, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("update entry %q: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update entry %q: %w", slug, err)
	}
	if n == 1 {
		return s.readAny(slug)
	}

	// Zero rows: classify against the current row.
	current, err := s.readAny(slug)
	if err != nil {
		return nil, err // ErrNotFound
	}
	if current.ArchivedAt != nil {
		return nil, fmt.Errorf("entry %q: %w", slug, ErrArchived)
	}
	return nil, &ConflictError{Slug: slug, Expected: expectedVersion, Actual: current.Version}
}

// GetChildren lists live entries whose parent is parentSlug ("" = root),
// sorted by slug.
func (s *Store) GetChildren(parentSlug string) ([]Entry, error) {
	var rows *sql.Rows
	var err error
	if parentSlug == "" {
		rows, err = s.db.Query(
			`SELECT `+ltmColumns+` FROM ltm_entries WHERE parent_slug IS NULL AND archived_at IS NULL ORDER BY slug ASC`)
	} else {
		rows, err = s.db.Query(
			`SELECT `+ltmColumns+` FROM ltm_entries WHERE parent_slug = ? AND archived_at IS NULL ORDER BY slug ASC`, parentSlug)
	}
	if err != nil {
		return nil, fmt.Errorf("get children of %q: %w", parentSlug, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GlobEntries matches live entries by materialized path. `*` and `**`
// both translate to the SQL `%` wildcard (any path characters, including
// separators); `?` matches a single character. When maxDepth > 0, rows
// whose path depth (separator count) exceeds it are dropped.
func (s *Store) GlobEntries(pattern string, maxDepth int) ([]Entry, error) {
	like := globToLike(pattern)
	query := `SELECT ` + ltmColumns + ` FROM ltm_entries
		WHERE path LIKE ? ESCAPE '\' AND archived_at IS NULL`
	args := []any{like}
	if maxDepth > 0 {
		query += ` AND (length(path) - length(replace(path, '/', ''))) <= ?`
		args = append(args, maxDepth)
	}
	query += ` ORDER BY path ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// SearchEntries matches the query case-insensitively against title and
// body of live entries, scoring 2 per title hit and 1 per body hit,
// sorted by score descending then slug. pathPrefix, when non-empty,
// restricts results to entries under that path.
func (s *Store) SearchEntries(query, pathPrefix string) ([]Entry, error) {
	q := strings.ToLower(query)
	// The score only orders results, so it lives in the ORDER BY rather
	// than the select list.
	sqlQuery := `SELECT ` + ltmColumns + `
		FROM ltm_entries
		WHERE archived_at IS NULL
		  AND (instr(lower(title), ?) > 0 OR instr(lower(body), ?) > 0)`
	args := []any{q, q}
	if pathPrefix != "" {
		sqlQuery += ` AND path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(pathPrefix)+"%")
	}
	sqlQuery += ` ORDER BY
		(CASE WHEN instr(lower(title), ?) > 0 THEN 2 ELSE 0 END +
		 CASE WHEN instr(lower(body), ?) > 0 THEN 1 ELSE 0 END) DESC, slug ASC`
	args = append(args, q, q)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// SearchEntriesFTS runs the query through the full-text index instead of
// substring matching. Archived entries are filtered after the index
// lookup since the FTS table is content-linked.
func (s *Store) SearchEntriesFTS(query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+qualify(ltmColumns, "e")+`
		 FROM ltm_entries_fts f
		 JOIN ltm_entries e ON e.rowid = f.rowid
		 WHERE ltm_entries_fts MATCH ? AND e.archived_at IS NULL
		 ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search %q: %w", query, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// globToLike translates a glob pattern to a SQL LIKE pattern. `**` and
// `*` collapse to `%`; `?` becomes `_`; LIKE metacharacters are escaped.
func globToLike(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			// Collapse runs of '*' into a single '%'.
			for i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
			}
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func qualify(columns, alias string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var parent sql.NullString
	var tags, links string
	var archived sql.NullInt64
	var createdBy, updatedBy string
	var created, updated int64
	err := row.Scan(&e.Slug, &parent, &e.Path, &e.Title, &e.Body, &tags, &links,
		&e.Version, &createdBy, &updatedBy, &archived, &created, &updated)
	if err != nil {
		return nil, err
	}
	e.ParentSlug = parent.String
	json.Unmarshal([]byte(tags), &e.Tags)
	json.Unmarshal([]byte(links), &e.Links)
	e.CreatedBy = Actor(createdBy)
	e.UpdatedBy = Actor(updatedBy)
	if archived.Valid {
		t := fromMillis(archived.Int64)
		e.ArchivedAt = &t
	}
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
