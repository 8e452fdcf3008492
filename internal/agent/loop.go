// Package agent runs the tool-using model loop for a single turn.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/miriadlabs/miriad/internal/ident"
	"github.com/miriadlabs/miriad/internal/prompt"
	"github.com/miriadlabs/miriad/internal/providers"
	"github.com/miriadlabs/miriad/internal/store"
	"github.com/miriadlabs/miriad/internal/tokens"
	"github.com/miriadlabs/miriad/internal/tools"
)

// MaxTurns bounds model calls within one user turn.
const MaxTurns = 50

// Config wires the loop's collaborators. No hidden globals: everything
// the loop touches comes in here.
type Config struct {
	Store    *store.Store
	Provider providers.Provider
	Registry *tools.Registry
	Idents   *ident.Service
	Model    string
	// TemporalBudget caps the token estimate of the history window
	// rendered into the system prompt. <= 0 means unbounded.
	TemporalBudget int
	MaxTokens      int
}

// RunOptions carries the per-turn hooks.
type RunOptions struct {
	// Sink receives turn events; nil drops them.
	Sink Sink
	// OnBeforeTurn is consulted immediately before each model call.
	// A non-empty return is injected as an additional user message.
	OnBeforeTurn func() string
}

// RunResult is the outcome of one turn.
type RunResult struct {
	Response string
	Usage    providers.Usage
	// NumTurns counts tool round-trips: model calls beyond the first.
	NumTurns int
}

type Loop struct {
	cfg        Config
	dispatcher *tools.Dispatcher
}

func New(cfg Config) *Loop {
	return &Loop{cfg: cfg, dispatcher: tools.NewDispatcher(cfg.Registry)}
}

// Run executes one turn: append the prompt, then alternate model calls
// and tool dispatch until the model answers without tools or MaxTurns
// is hit. Tool failures never abort the turn; model failures do.
func (l *Loop) Run(ctx context.Context, userPrompt string, opts RunOptions) (*RunResult, error) {
	start := time.Now()

	if err := l.appendTemporal(store.KindUser, userPrompt); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	opts.Sink.emit(Event{Kind: EventUser, Content: userPrompt})

	systemPrompt, _, err := prompt.FromStore(l.cfg.Store, l.cfg.TemporalBudget, "")
	if err != nil {
		return nil, fmt.Errorf("assemble prompt: %w", err)
	}

	conversation := []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	toolDefs := l.cfg.Registry.Definitions()

	var totalUsage providers.Usage
	var finalResponse string
	modelCalls := 0

	for modelCalls < MaxTurns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if opts.OnBeforeTurn != nil {
			if injected := opts.OnBeforeTurn(); injected != "" {
				if err := l.appendTemporal(store.KindUser, injected); err != nil {
					return nil, fmt.Errorf("append injected message: %w", err)
				}
				conversation = append(conversation, providers.Message{
					Role: "user", Content: injected,
				})
			}
		}

		resp, err := l.cfg.Provider.Chat(ctx, providers.ChatRequest{
			Messages: conversation,
			Tools:    toolDefs,
			Model:    l.cfg.Model,
			Options:  l.chatOptions(),
		})
		modelCalls++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			opts.Sink.emit(Event{Kind: EventError, Err: err})
			return nil, fmt.Errorf("model call: %w", err)
		}
		totalUsage.Add(resp.Usage)

		if resp.Content != "" {
			if err := l.appendTemporal(store.KindAssistant, resp.Content); err != nil {
				return nil, fmt.Errorf("append assistant message: %w", err)
			}
			opts.Sink.emit(Event{Kind: EventAssistant, Content: resp.Content})
			finalResponse = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			break
		}

		// Sequential dispatch preserves temporal ordering of appended rows.
		var toolMsgs []providers.Message
		for _, call := range resp.ToolCalls {
			call := call
			if err := l.appendTemporal(store.KindToolCall, renderToolCall(call)); err != nil {
				return nil, fmt.Errorf("append tool call: %w", err)
			}
			opts.Sink.emit(Event{Kind: EventToolCall, ToolCall: &call})

			name, result := l.dispatcher.Dispatch(ctx, call.Name, call.Arguments)
			slog.Debug("tool dispatched", "requested", call.Name, "ran", name, "error", result.IsError)

			if err := l.appendTemporal(store.KindToolResult, result.ForLLM); err != nil {
				return nil, fmt.Errorf("append tool result: %w", err)
			}
			opts.Sink.emit(Event{
				Kind:      EventToolResult,
				Content:   result.ForLLM,
				ToolUseID: call.ID,
				IsError:   result.IsError,
			})

			toolMsgs = append(toolMsgs, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: call.ID,
			})
		}

		conversation = append(conversation, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		conversation = append(conversation, toolMsgs...)
	}

	opts.Sink.emit(Event{Kind: EventDone, Content: finalResponse, Usage: &totalUsage})
	slog.Info("turn complete",
		"model_calls", modelCalls,
		"duration", time.Since(start),
		"prompt_tokens", totalUsage.PromptTokens,
		"completion_tokens", totalUsage.CompletionTokens)

	return &RunResult{
		Response: finalResponse,
		Usage:    totalUsage,
		NumTurns: modelCalls - 1,
	}, nil
}

func (l *Loop) chatOptions() map[string]interface{} {
	if l.cfg.MaxTokens <= 0 {
		return nil
	}
	return map[string]interface{}{providers.OptMaxTokens: l.cfg.MaxTokens}
}

func (l *Loop) appendTemporal(kind store.MessageKind, content string) error {
	return l.cfg.Store.AppendMessage(store.Message{
		ID:      l.cfg.Idents.MessageID(),
		Kind:    kind,
		Content: content,
		Tokens:  tokens.Estimate(content),
	})
}

// renderToolCall is the temporal text form of a tool invocation.
func renderToolCall(call providers.ToolCall) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", call.Name, args)
}
