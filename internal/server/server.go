// Package server speaks the NDJSON protocol over a reader/writer pair
// (stdin/stdout in production) and drives the turn scheduler.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/miriadlabs/miriad/internal/agent"
	"github.com/miriadlabs/miriad/internal/scheduler"
	"github.com/miriadlabs/miriad/pkg/protocol"
)

// Input lines can be long (pasted file contents); allow up to 10 MiB.
const maxLineBytes = 10 << 20

// Config wires the server.
type Config struct {
	In  io.Reader
	Out io.Writer
	// Runner executes turns; Compactor is the optional post-turn
	// compaction hook. Both are handed to the scheduler.
	Runner    scheduler.Runner
	Compactor scheduler.Compactor
	// Model is echoed on assistant output messages.
	Model string
}

type Server struct {
	cfg   Config
	sched *scheduler.Scheduler

	outMu sync.Mutex
	enc   *json.Encoder
}

// New builds a server and its scheduler. ctx bounds every turn; cancel
// it to abort the current turn and stop accepting new ones.
func New(ctx context.Context, cfg Config) *Server {
	s := &Server{cfg: cfg, enc: json.NewEncoder(cfg.Out)}
	s.sched = scheduler.New(ctx, scheduler.Config{
		Runner:     cfg.Runner,
		Compactor:  cfg.Compactor,
		Sink:       s.handleEvent,
		OnQueued:   s.handleQueued,
		OnInjected: s.handleInjected,
		OnResult:   s.handleResult,
	})
	return s
}

// Run reads input lines until EOF or ctx cancellation, then waits for
// the in-flight turn chain to finish. Malformed lines produce a system
// error event and are skipped; the server keeps reading.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.cfg.In)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(line)
	}
	if err := scanner.Err(); err != nil {
		slog.Error("stdin read failed", "error", err)
	}

	s.sched.Wait()
	return scanner.Err()
}

func (s *Server) handleLine(line string) {
	var in protocol.InputLine
	if err := json.Unmarshal([]byte(line), &in); err != nil {
		s.systemError("malformed input line: " + err.Error())
		return
	}

	switch in.Type {
	case protocol.InputUser:
		prompt, err := in.Message.Text()
		if err != nil {
			s.systemError("invalid user message: " + err.Error())
			return
		}
		if prompt == "" {
			s.systemError("invalid user message: empty content")
			return
		}
		sessionID := in.SessionID
		if sessionID == "" {
			sessionID = "session-" + uuid.NewString()[:8]
		}
		s.sched.Submit(scheduler.QueuedMessage{Prompt: prompt, SessionID: sessionID})

	case protocol.InputControl:
		s.handleControl(in.Action)

	default:
		s.systemError("unknown input type: " + in.Type)
	}
}

func (s *Server) handleControl(action string) {
	switch action {
	case protocol.ActionInterrupt:
		interrupted := s.sched.InterruptWith(func() {
			s.write(protocol.SystemEvent{Type: protocol.TypeSystem, Subtype: protocol.SubtypeInterrupted})
		})
		if !interrupted {
			s.systemError("interrupt: no turn running")
		}
	case protocol.ActionStatus:
		snap := s.sched.Status()
		s.write(protocol.SystemEvent{
			Type:       protocol.TypeSystem,
			Subtype:    protocol.SubtypeStatus,
			State:      string(snap.State),
			QueueDepth: snap.QueueDepth,
		})
	default:
		s.systemError("unknown control action: " + action)
	}
}

// handleEvent translates loop events to output lines. User events are
// not echoed and done is folded into the result message.
func (s *Server) handleEvent(e agent.Event) {
	switch e.Kind {
	case agent.EventAssistant:
		s.write(protocol.AssistantEvent{
			Type: protocol.TypeAssistant,
			Message: protocol.AssistantMessage{
				Role:    "assistant",
				Content: []protocol.ContentBlock{{Type: "text", Text: e.Content}},
				Model:   s.cfg.Model,
			},
		})
	case agent.EventToolCall:
		if e.ToolCall == nil {
			return
		}
		s.write(protocol.AssistantEvent{
			Type: protocol.TypeAssistant,
			Message: protocol.AssistantMessage{
				Role: "assistant",
				Content: []protocol.ContentBlock{{
					Type:  "tool_use",
					ID:    e.ToolCall.ID,
					Name:  e.ToolCall.Name,
					Input: e.ToolCall.Arguments,
				}},
				Model: s.cfg.Model,
			},
		})
	case agent.EventToolResult:
		s.write(protocol.SystemEvent{
			Type:      protocol.TypeSystem,
			Subtype:   protocol.SubtypeToolResult,
			ToolUseID: e.ToolUseID,
			Content:   e.Content,
			IsError:   e.IsError,
		})
	case agent.EventError:
		msg := e.Content
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		s.systemError(msg)
	case agent.EventConsolidation:
		s.write(protocol.SystemEvent{
			Type:    protocol.TypeSystem,
			Subtype: protocol.SubtypeConsolidation,
			Content: e.Content,
		})
	}
}

func (s *Server) handleQueued(position int, msg scheduler.QueuedMessage) {
	s.write(protocol.SystemEvent{
		Type:     protocol.TypeSystem,
		Subtype:  protocol.SubtypeQueued,
		Position: position,
	})
}

func (s *Server) handleInjected(messageCount, contentLength int) {
	s.write(protocol.SystemEvent{
		Type:          protocol.TypeSystem,
		Subtype:       protocol.SubtypeInjected,
		MessageCount:  messageCount,
		ContentLength: contentLength,
	})
}

func (s *Server) handleResult(tr scheduler.TurnResult) {
	out := protocol.ResultEvent{
		Type:       protocol.TypeResult,
		DurationMS: tr.Duration.Milliseconds(),
		NumTurns:   tr.NumTurns,
		SessionID:  tr.SessionID,
	}
	switch {
	case tr.Cancelled:
		out.Subtype = protocol.ResultCancelled
	case tr.Err != nil:
		out.Subtype = protocol.ResultError
		out.IsError = true
		out.Result = tr.Err.Error()
	default:
		out.Subtype = protocol.ResultSuccess
		out.Result = tr.Response
	}
	if tr.Usage.TotalTokens > 0 {
		out.Usage = &protocol.Usage{
			InputTokens:  tr.Usage.PromptTokens,
			OutputTokens: tr.Usage.CompletionTokens,
		}
	}
	s.write(out)
}

func (s *Server) systemError(msg string) {
	s.write(protocol.SystemEvent{
		Type:    protocol.TypeSystem,
		Subtype: protocol.SubtypeError,
		Message: msg,
	})
}

// write serializes one output line. The encoder appends the newline.
func (s *Server) write(v interface{}) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		slog.Error("write output line", "error", err)
	}
}
