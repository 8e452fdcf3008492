package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// TaskStatus enumerates present-state task states.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// Task is one entry in the present-state task list.
type Task struct {
	ID            string     `json:"id"`
	Content       string     `json:"content"`
	Status        TaskStatus `json:"status"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
}

// Present is the agent's mutable scratchpad: mission, status, and the
// ordered task list. A single row, overwritten wholesale by tools.
type Present struct {
	Mission string
	Status  string
	Tasks   []Task
}

// GetPresent returns the present state, zero-valued when never written.
func (s *Store) GetPresent() (Present, error) {
	var p Present
	var mission, status sql.NullString
	var tasksJSON string
	err := s.db.QueryRow(`SELECT mission, status, tasks FROM present_state WHERE id = 1`).
		Scan(&mission, &status, &tasksJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Present{Tasks: []Task{}}, nil
	}
	if err != nil {
		return p, fmt.Errorf("get present state: %w", err)
	}
	p.Mission = mission.String
	p.Status = status.String
	if err := json.Unmarshal([]byte(tasksJSON), &p.Tasks); err != nil {
		return p, fmt.Errorf("decode tasks: %w", err)
	}
	if p.Tasks == nil {
		p.Tasks = []Task{}
	}
	return p, nil
}

// SetMission overwrites the mission string.
func (s *Store) SetMission(mission string) error {
	return s.upsertPresent(`mission = ?`, mission)
}

// SetStatus overwrites the status string.
func (s *Store) SetStatus(status string) error {
	return s.upsertPresent(`status = ?`, status)
}

// SetTasks overwrites the whole task list.
func (s *Store) SetTasks(tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	return s.upsertPresent(`tasks = ?`, string(data))
}

func (s *Store) upsertPresent(assignment string, value any) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO present_state (id, tasks) VALUES (1, '[]')`); err != nil {
		return fmt.Errorf("seed present state: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE present_state SET `+assignment+` WHERE id = 1`, value); err != nil {
		return fmt.Errorf("update present state: %w", err)
	}
	return nil
}
