// Package maintenance runs periodic LTM upkeep jobs on a cron gate:
// consolidation merges overlapping entries, reflection distills recent
// history into new ones. Both are best-effort LLM loops tracked on the
// worker table.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/miriadlabs/miriad/internal/ident"
	"github.com/miriadlabs/miriad/internal/prompt"
	"github.com/miriadlabs/miriad/internal/providers"
	"github.com/miriadlabs/miriad/internal/store"
	"github.com/miriadlabs/miriad/internal/tools"
)

// maxJobTurns bounds model calls within one maintenance job run.
const maxJobTurns = 8

// Job is one scheduled maintenance task.
type Job struct {
	Name        string
	Type        store.WorkerType
	Actor       store.Actor
	Cron        string
	Instruction string
}

// DefaultJobs returns the standard consolidate/reflect schedule.
func DefaultJobs() []Job {
	return []Job{
		{
			Name:  "ltm-consolidate",
			Type:  store.WorkerLTMConsolidate,
			Actor: store.ActorConsolidate,
			Cron:  "0 3 * * *",
			Instruction: `# Memory consolidation

Review the long-term memory tree with ltm_glob and ltm_read. Merge
entries that cover the same topic (update one, archive the other),
fix stale or contradictory bodies, and keep tags accurate. Make at
most a handful of changes per run; prefer no change over a doubtful
one.`,
		},
		{
			Name:  "ltm-reflect",
			Type:  store.WorkerLTMReflect,
			Actor: store.ActorReflect,
			Cron:  "30 3 * * 0",
			Instruction: `# Reflection

Search recent conversation history with history_search and the
long-term memory with ltm_search. Distill durable lessons — recurring
problems, decisions and their outcomes, facts worth keeping — into new
or updated long-term entries. Skip anything ephemeral.`,
		},
	}
}

// Config wires the maintenance runner.
type Config struct {
	Store    *store.Store
	Provider providers.Provider
	Idents   *ident.Service
	// Model is typically the fast model; upkeep does not need the
	// reasoning tier.
	Model          string
	TemporalBudget int
	Jobs           []Job
}

type Runner struct {
	cfg  Config
	gron *gronx.Gronx

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(cfg Config) *Runner {
	if len(cfg.Jobs) == 0 {
		cfg.Jobs = DefaultJobs()
	}
	return &Runner{
		cfg:     cfg,
		gron:    gronx.New(),
		lastRun: make(map[string]time.Time),
	}
}

// Start ticks once a minute until ctx is cancelled, running whatever
// jobs are due. Blocks; run it in its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.RunDue(ctx, now)
		}
	}
}

// RunDue runs every job whose cron expression matches now. Jobs run
// sequentially; a failing job never stops the others.
func (r *Runner) RunDue(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)
	for _, job := range r.cfg.Jobs {
		due, err := r.gron.IsDue(job.Cron, minute)
		if err != nil {
			slog.Error("bad cron expression", "job", job.Name, "cron", job.Cron, "error", err)
			continue
		}
		if !due || !r.claim(job.Name, minute) {
			continue
		}
		if err := r.runJob(ctx, job); err != nil {
			slog.Warn("maintenance job failed", "job", job.Name, "error", err)
		}
	}
}

// claim marks the job as run for this minute, preventing a double run
// when ticks and RunDue calls overlap.
func (r *Runner) claim(name string, minute time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastRun[name]; ok && !minute.After(last) {
		return false
	}
	r.lastRun[name] = minute
	return true
}

func (r *Runner) runJob(ctx context.Context, job Job) error {
	workerID := r.cfg.Idents.WorkerID()
	if err := r.cfg.Store.CreateWorker(workerID, job.Type); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	slog.Info("maintenance job starting", "job", job.Name, "worker", workerID)

	if err := r.runLoop(ctx, job); err != nil {
		if ferr := r.cfg.Store.FailWorker(workerID, err); ferr != nil {
			slog.Error("record job failure", "worker", workerID, "error", ferr)
		}
		return err
	}
	return r.cfg.Store.CompleteWorker(workerID)
}

// runLoop is a small tool loop over the LTM toolset: the model reads,
// mutates, and stops by answering without tool calls.
func (r *Runner) runLoop(ctx context.Context, job Job) error {
	systemPrompt, _, err := prompt.FromStore(r.cfg.Store, r.cfg.TemporalBudget, job.Instruction)
	if err != nil {
		return err
	}

	registry := r.jobRegistry(job.Actor)
	dispatcher := tools.NewDispatcher(registry)
	conversation := []providers.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Run the maintenance task now."},
	}

	for turn := 0; turn < maxJobTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := r.cfg.Provider.Chat(ctx, providers.ChatRequest{
			Messages: conversation,
			Tools:    registry.Definitions(),
			Model:    r.cfg.Model,
		})
		if err != nil {
			return fmt.Errorf("maintenance model call: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			return nil
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
	}
	return nil
}

// jobRegistry exposes the LTM toolset plus history search. No
// filesystem or shell access from maintenance.
func (r *Runner) jobRegistry(actor store.Actor) *tools.Registry {
	s := r.cfg.Store
	reg := tools.NewRegistry()
	reg.Register(tools.NewLTMCreateTool(s, actor))
	reg.Register(tools.NewLTMReadTool(s))
	reg.Register(tools.NewLTMUpdateTool(s, actor))
	reg.Register(tools.NewLTMUpdateTagsTool(s, actor))
	reg.Register(tools.NewLTMArchiveTool(s, actor))
	reg.Register(tools.NewLTMChildrenTool(s))
	reg.Register(tools.NewLTMGlobTool(s))
	reg.Register(tools.NewLTMSearchTool(s))
	reg.Register(tools.NewHistorySearchTool(s))
	return reg
}
