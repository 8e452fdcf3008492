// Package protocol defines the NDJSON wire shapes spoken on stdin and
// stdout in server mode. One JSON object per line, both directions.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Input line types.
const (
	InputUser    = "user"
	InputControl = "control"
)

// Control actions.
const (
	ActionInterrupt = "interrupt"
	ActionStatus    = "status"
)

// Output line types.
const (
	TypeAssistant = "assistant"
	TypeSystem    = "system"
	TypeResult    = "result"
)

// System subtypes.
const (
	SubtypeToolResult    = "tool_result"
	SubtypeQueued        = "queued"
	SubtypeInjected      = "injected"
	SubtypeInterrupted   = "interrupted"
	SubtypeStatus        = "status"
	SubtypeError         = "error"
	SubtypeConsolidation = "consolidation"
)

// Result subtypes.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// InputLine is one parsed stdin line. Message is set for type "user",
// Action for type "control".
type InputLine struct {
	Type      string       `json:"type"`
	Message   *UserMessage `json:"message,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Action    string       `json:"action,omitempty"`
}

// UserMessage carries string-or-blocks content; Text() flattens it.
type UserMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of a structured message. Text blocks
// carry Text; tool_use blocks carry ID/Name/Input.
type ContentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

// Text flattens the content: a JSON string is used verbatim, an array
// of blocks is reduced to its concatenated text blocks. Non-text
// blocks are ignored.
func (m *UserMessage) Text() (string, error) {
	if m == nil || len(m.Content) == 0 {
		return "", fmt.Errorf("message has no content")
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return "", fmt.Errorf("content must be a string or an array of content blocks")
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String(), nil
}

// AssistantEvent mirrors one assistant model response (text or
// tool_use) onto stdout.
type AssistantEvent struct {
	Type    string           `json:"type"`
	Message AssistantMessage `json:"message"`
}

type AssistantMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
	Model   string         `json:"model,omitempty"`
}

// SystemEvent carries everything that is neither an assistant message
// nor a terminal result. Fields beyond Subtype are populated per
// subtype.
type SystemEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// queued
	Position int `json:"position,omitempty"`

	// injected
	MessageCount  int `json:"message_count,omitempty"`
	ContentLength int `json:"content_length,omitempty"`

	// status
	State      string `json:"state,omitempty"`
	QueueDepth int    `json:"queue_depth,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// ResultEvent is the single terminal message every turn emits.
type ResultEvent struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	DurationMS int64  `json:"duration_ms"`
	IsError    bool   `json:"is_error"`
	NumTurns   int    `json:"num_turns"`
	SessionID  string `json:"session_id,omitempty"`
	Result     string `json:"result,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
