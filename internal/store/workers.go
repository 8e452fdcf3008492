package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WorkerType enumerates background worker kinds.
type WorkerType string

const (
	WorkerTemporalCompact WorkerType = "temporal-compact"
	WorkerLTMConsolidate  WorkerType = "ltm-consolidate"
	WorkerLTMReflect      WorkerType = "ltm-reflect"
)

// WorkerStatus enumerates worker row states.
type WorkerStatus string

const (
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
)

// Worker is an observability row for one background run. Crash diagnosis
// only; nothing reads these rows on the hot path.
type Worker struct {
	ID          string
	Type        WorkerType
	Status      WorkerStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// CreateWorker inserts a running worker row.
func (s *Store) CreateWorker(id string, typ WorkerType) error {
	_, err := s.db.Exec(
		`INSERT INTO workers (id, type, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, string(typ), toMillis(s.Now()),
	)
	if err != nil {
		return fmt.Errorf("create worker %s: %w", id, err)
	}
	return nil
}

// CompleteWorker marks a worker completed.
func (s *Store) CompleteWorker(id string) error {
	_, err := s.db.Exec(
		`UPDATE workers SET status = 'completed', completed_at = ? WHERE id = ?`,
		toMillis(s.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("complete worker %s: %w", id, err)
	}
	return nil
}

// FailWorker marks a worker failed with the given error message.
func (s *Store) FailWorker(id string, workerErr error) error {
	msg := ""
	if workerErr != nil {
		msg = workerErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE workers SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		toMillis(s.Now()), msg, id,
	)
	if err != nil {
		return fmt.Errorf("fail worker %s: %w", id, err)
	}
	return nil
}

// ListWorkers returns the most recent worker rows of one type, newest
// first.
func (s *Store) ListWorkers(typ WorkerType, limit int) ([]Worker, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, type, status, started_at, completed_at, error
		 FROM workers WHERE type = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		string(typ), limit)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		var w Worker
		var wtyp, status string
		var started int64
		var completed sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&w.ID, &wtyp, &status, &started, &completed, &errMsg); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		w.Type = WorkerType(wtyp)
		w.Status = WorkerStatus(status)
		w.StartedAt = fromMillis(started)
		if completed.Valid {
			t := fromMillis(completed.Int64)
			w.CompletedAt = &t
		}
		w.Error = errMsg.String
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// GetWorker reads one worker row.
func (s *Store) GetWorker(id string) (*Worker, error) {
	var w Worker
	var typ, status string
	var started int64
	var completed sql.NullInt64
	var errMsg sql.NullString
	err := s.db.QueryRow(
		`SELECT id, type, status, started_at, completed_at, error FROM workers WHERE id = ?`, id).
		Scan(&w.ID, &typ, &status, &started, &completed, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker %s: %w", id, err)
	}
	w.Type = WorkerType(typ)
	w.Status = WorkerStatus(status)
	w.StartedAt = fromMillis(started)
	if completed.Valid {
		t := fromMillis(completed.Int64)
		w.CompletedAt = &t
	}
	w.Error = errMsg.String
	return &w, nil
}
