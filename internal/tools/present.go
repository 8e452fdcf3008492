package tools

import (
	"context"
	"fmt"

	"github.com/miriadlabs/miriad/internal/store"
)

// Present-state tools wrap the storage setters directly; the whole
// record is overwritten, never merged.

type SetMissionTool struct {
	store *store.Store
}

func NewSetMissionTool(s *store.Store) *SetMissionTool { return &SetMissionTool{store: s} }

func (t *SetMissionTool) Name() string        { return "present_set_mission" }
func (t *SetMissionTool) Description() string { return "Set the agent's current mission" }
func (t *SetMissionTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"mission": {Type: "string", Description: "The new mission statement"},
	}, "mission")
}

func (t *SetMissionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	mission, _ := args["mission"].(string)
	if err := t.store.SetMission(mission); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult("mission updated")
}

type SetStatusTool struct {
	store *store.Store
}

func NewSetStatusTool(s *store.Store) *SetStatusTool { return &SetStatusTool{store: s} }

func (t *SetStatusTool) Name() string        { return "present_set_status" }
func (t *SetStatusTool) Description() string { return "Set the agent's current working status" }
func (t *SetStatusTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"status": {Type: "string", Description: "Short description of what the agent is doing now"},
	}, "status")
}

func (t *SetStatusTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	status, _ := args["status"].(string)
	if err := t.store.SetStatus(status); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult("status updated")
}

type UpdateTasksTool struct {
	store *store.Store
}

func NewUpdateTasksTool(s *store.Store) *UpdateTasksTool { return &UpdateTasksTool{store: s} }

func (t *UpdateTasksTool) Name() string { return "present_update_tasks" }
func (t *UpdateTasksTool) Description() string {
	return "Replace the task list wholesale. Always pass the complete list, including unchanged tasks."
}
func (t *UpdateTasksTool) Schema() Schema {
	return ObjectSchema(map[string]PropertyDef{
		"tasks": {
			Type:        "array",
			Description: "The complete task list",
			Items: &PropertyDef{
				Type: "object",
				Properties: map[string]PropertyDef{
					"id":      {Type: "string", Description: "Stable task id"},
					"content": {Type: "string", Description: "What the task is"},
					"status": {Type: "string",
						Enum: []string{"pending", "in_progress", "completed", "blocked"}},
					"blocked_reason": {Type: "string", Description: "Why the task is blocked"},
				},
				Required: []string{"id", "content", "status"},
			},
		},
	}, "tasks")
}

func (t *UpdateTasksTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, _ := args["tasks"].([]interface{})
	tasks := make([]store.Task, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return ErrorResult(fmt.Sprintf("tasks[%d] is not an object", i))
		}
		id, _ := obj["id"].(string)
		content, _ := obj["content"].(string)
		status, _ := obj["status"].(string)
		reason, _ := obj["blocked_reason"].(string)
		tasks = append(tasks, store.Task{
			ID:            id,
			Content:       content,
			Status:        store.TaskStatus(status),
			BlockedReason: reason,
		})
	}
	if err := t.store.SetTasks(tasks); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(fmt.Sprintf("task list replaced (%d tasks)", len(tasks)))
}
