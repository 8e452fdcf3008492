// Package compact compresses temporal history under a token budget.
// Compaction is itself an LLM-driven loop: the model reads the same
// history view as the main agent and decides which ranges to summarize
// via a create_summary tool.
package compact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miriadlabs/miriad/internal/agent"
	"github.com/miriadlabs/miriad/internal/ident"
	"github.com/miriadlabs/miriad/internal/prompt"
	"github.com/miriadlabs/miriad/internal/providers"
	"github.com/miriadlabs/miriad/internal/store"
	"github.com/miriadlabs/miriad/internal/tokens"
	"github.com/miriadlabs/miriad/internal/tools"
)

const (
	// MaxCompactionTurns bounds the outer loop (one history-view rebuild
	// per turn).
	MaxCompactionTurns = 10
	// maxInnerTurns bounds model calls within one outer turn.
	maxInnerTurns = 5
)

// Config wires the compactor.
type Config struct {
	Store    *store.Store
	Provider providers.Provider
	Idents   *ident.Service
	Model    string
	// TemporalBudget is the prompt window budget, shared with the main
	// agent so the rendered view (and the provider cache) match.
	TemporalBudget int
	// Threshold triggers compaction when the uncompacted estimate
	// exceeds it; Target is what compaction aims to get back under.
	Threshold int
	Target    int
	// Sink receives consolidation events; nil drops them.
	Sink agent.Sink
}

type Compactor struct {
	cfg Config
}

func New(cfg Config) *Compactor {
	return &Compactor{cfg: cfg}
}

// ShouldRun reports whether the uncompacted estimate exceeds the
// threshold.
func (c *Compactor) ShouldRun() (bool, error) {
	est, err := c.cfg.Store.EstimateUncompactedTokens()
	if err != nil {
		return false, err
	}
	return est > c.cfg.Threshold, nil
}

// Run executes the compaction loop as a tracked worker. Failure is
// recorded on the worker row and returned, but callers treat it as
// advisory: a failed compaction never fails the owning turn.
func (c *Compactor) Run(ctx context.Context) error {
	workerID := c.cfg.Idents.WorkerID()
	if err := c.cfg.Store.CreateWorker(workerID, store.WorkerTemporalCompact); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	if err := c.run(ctx); err != nil {
		if ferr := c.cfg.Store.FailWorker(workerID, err); ferr != nil {
			slog.Error("record compaction failure", "worker", workerID, "error", ferr)
		}
		return err
	}
	return c.cfg.Store.CompleteWorker(workerID)
}

func (c *Compactor) run(ctx context.Context) error {
	for turn := 0; turn < MaxCompactionTurns; turn++ {
		est, err := c.cfg.Store.EstimateUncompactedTokens()
		if err != nil {
			return err
		}
		if est <= c.cfg.Target {
			slog.Info("compaction target reached", "estimate", est, "target", c.cfg.Target)
			return nil
		}

		finished, err := c.runTurn(ctx, est)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
		// Loop: newly created summaries change the view, so the next
		// turn rebuilds it.
	}
	slog.Warn("compaction turn limit reached", "max", MaxCompactionTurns)
	return nil
}

// runTurn rebuilds the history view and lets the model create
// summaries until it finishes or the inner cap is hit.
func (c *Compactor) runTurn(ctx context.Context, estimate int) (bool, error) {
	systemPrompt, view, err := prompt.FromStore(c.cfg.Store, c.cfg.TemporalBudget, c.taskInstruction(estimate))
	if err != nil {
		return false, err
	}
	sums, err := c.cfg.Store.GetSummaries()
	if err != nil {
		return false, err
	}

	state := &turnState{
		compactor: c,
		validIDs:  view.ValidIDs,
		summaries: sums,
	}
	registry := tools.NewRegistry()
	registry.Register(&createSummaryTool{state: state})
	registry.Register(&finishTool{state: state})
	dispatcher := tools.NewDispatcher(registry)

	conversation := []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Compact the conversation history now."},
	}

	for inner := 0; inner < maxInnerTurns; inner++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		resp, err := c.cfg.Provider.Chat(ctx, providers.ChatRequest{
			Messages: conversation,
			Tools:    registry.Definitions(),
			Model:    c.cfg.Model,
		})
		if err != nil {
			return false, fmt.Errorf("compaction model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return false, nil
		}

		var toolMsgs []providers.Message
		for _, call := range resp.ToolCalls {
			_, result := dispatcher.Dispatch(ctx, call.Name, call.Arguments)
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

		if state.finished {
			return true, nil
		}
	}
	return false, nil
}

func (c *Compactor) taskInstruction(estimate int) string {
	return fmt.Sprintf(`# Compaction task

The conversation history above is consuming roughly %d tokens; bring it
under %d. Use create_summary to cover contiguous ranges of history with
a narrative and key observations. Prefer summarizing the oldest
material first. Ranges may subsume existing summaries to form
higher-order summaries. Call finish_compaction when the history cannot
be usefully compressed further.`, estimate, c.cfg.Target)
}

// turnState is shared by the two compaction tools within one outer turn.
type turnState struct {
	compactor *Compactor
	validIDs  map[string]bool
	summaries []store.Summary
	finished  bool
}

// createSummary validates the range, derives the order, and inserts.
func (st *turnState) createSummary(startID, endID, narrative string, observations []string) (*store.Summary, error) {
	if !st.validIDs[startID] {
		return nil, fmt.Errorf("invalid id: %s is not a message id or summary endpoint", startID)
	}
	if !st.validIDs[endID] {
		return nil, fmt.Errorf("invalid id: %s is not a message id or summary endpoint", endID)
	}
	if startID > endID {
		return nil, fmt.Errorf("invalid range: startId %s > endId %s", startID, endID)
	}

	// order = max(order of summaries fully inside the range, 0) + 1.
	order := 0
	for _, s := range st.summaries {
		if startID <= s.StartID && s.EndID <= endID && s.Order > order {
			order = s.Order
		}
	}
	order++

	sum := store.Summary{
		ID:              st.compactor.cfg.Idents.SummaryID(),
		Order:           order,
		StartID:         startID,
		EndID:           endID,
		Narrative:       narrative,
		KeyObservations: observations,
		Tokens:          tokens.Estimate(narrative + strings.Join(observations, " ")),
	}
	if err := st.compactor.cfg.Store.CreateSummary(sum); err != nil {
		return nil, err
	}
	st.summaries = append(st.summaries, sum)

	if sink := st.compactor.cfg.Sink; sink != nil {
		sink(agent.Event{
			Kind: agent.EventConsolidation,
			Content: fmt.Sprintf("summary %s (order %d) covers [%s, %s]",
				sum.ID, sum.Order, sum.StartID, sum.EndID),
		})
	}
	return &sum, nil
}

type createSummaryTool struct {
	state *turnState
}

func (t *createSummaryTool) Name() string { return "create_summary" }
func (t *createSummaryTool) Description() string {
	return "Create a summary covering the message range [start_id, end_id]. Both ids must be visible in the history."
}
func (t *createSummaryTool) Schema() tools.Schema {
	return tools.ObjectSchema(map[string]tools.PropertyDef{
		"start_id":  {Type: "string", Description: "First covered message id"},
		"end_id":    {Type: "string", Description: "Last covered message id"},
		"narrative": {Type: "string", Description: "Prose summary of the covered range"},
		"key_observations": {
			Type:        "array",
			Description: "Facts worth keeping verbatim",
			Items:       &tools.PropertyDef{Type: "string"},
		},
	}, "start_id", "end_id", "narrative")
}

func (t *createSummaryTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	startID, _ := args["start_id"].(string)
	endID, _ := args["end_id"].(string)
	narrative, _ := args["narrative"].(string)

	var observations []string
	if raw, ok := args["key_observations"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				observations = append(observations, s)
			}
		}
	}

	sum, err := t.state.createSummary(startID, endID, narrative, observations)
	if err != nil {
		return tools.ErrorResult(err.Error()).WithError(err)
	}
	return tools.NewResult(fmt.Sprintf("created order-%d summary %s covering [%s, %s]",
		sum.Order, sum.ID, sum.StartID, sum.EndID))
}

type finishTool struct {
	state *turnState
}

func (t *finishTool) Name() string { return "finish_compaction" }
func (t *finishTool) Description() string {
	return "Declare this compaction pass done"
}
func (t *finishTool) Schema() tools.Schema {
	return tools.ObjectSchema(map[string]tools.PropertyDef{
		"reason": {Type: "string", Description: "Why compaction is stopping"},
	}, "reason")
}

func (t *finishTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	reason, _ := args["reason"].(string)
	t.state.finished = true
	slog.Info("compaction finished by agent", "reason", reason)
	return tools.NewResult("compaction finished")
}
