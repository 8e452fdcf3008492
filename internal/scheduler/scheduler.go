// Package scheduler serializes turns: at most one turn executes at a
// time, messages arriving mid-turn are queued FIFO, and the queue is
// drained either into the running turn (injection at a model-call
// boundary) or as the next turn.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miriadlabs/miriad/internal/agent"
	"github.com/miriadlabs/miriad/internal/providers"
)

// State is the scheduler's coarse lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

// QueuedMessage is one pending user message.
type QueuedMessage struct {
	Prompt    string
	SessionID string
}

// TurnResult is the terminal outcome of one turn.
type TurnResult struct {
	SessionID string
	Response  string
	NumTurns  int
	Usage     providers.Usage
	Duration  time.Duration
	Cancelled bool
	Err       error
}

// Runner executes one turn. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error)
}

// Compactor is the advisory post-turn compaction hook. *compact.Compactor
// satisfies it.
type Compactor interface {
	ShouldRun() (bool, error)
	Run(ctx context.Context) error
}

// Config wires the scheduler. Callbacks may be nil; they are invoked
// from the turn goroutine, never while the scheduler lock is held.
type Config struct {
	Runner    Runner
	Compactor Compactor
	// Sink receives every turn event (and compaction consolidation
	// events).
	Sink agent.Sink
	// OnQueued fires when a message is enqueued behind a running turn;
	// position is 1-based.
	OnQueued func(position int, msg QueuedMessage)
	// OnInjected fires when queued messages are drained into the
	// running turn.
	OnInjected func(messageCount, contentLength int)
	// OnResult fires exactly once per turn, after the turn's events and
	// before the next turn starts.
	OnResult func(TurnResult)
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	State      State
	QueueDepth int
}

type Scheduler struct {
	cfg     Config
	baseCtx context.Context

	mu         sync.Mutex
	state      State
	queue      []QueuedMessage
	cancelTurn context.CancelFunc
	// processing guards processQueueLocked against re-entry from a
	// callback that submits a new message.
	processing bool

	wg sync.WaitGroup
}

// New creates an idle scheduler. baseCtx bounds every turn it starts;
// cancelling it aborts the current turn and prevents new ones.
func New(baseCtx context.Context, cfg Config) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{cfg: cfg, baseCtx: baseCtx, state: StateIdle}
}

// Submit hands a user message to the scheduler. Idle: the turn starts
// immediately. Otherwise the message is queued and OnQueued fires with
// its 1-based position.
func (s *Scheduler) Submit(msg QueuedMessage) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.queue = append(s.queue, msg)
		pos := len(s.queue)
		s.mu.Unlock()
		if s.cfg.OnQueued != nil {
			s.cfg.OnQueued(pos, msg)
		}
		return
	}
	s.startTurnLocked(msg)
	s.mu.Unlock()
}

// Interrupt cancels the current turn, if any. The turn observes the
// cancellation at its next suspension point and finishes with
// Cancelled=true. Returns whether a turn was running.
func (s *Scheduler) Interrupt() bool {
	return s.InterruptWith(nil)
}

// InterruptWith runs notify before the cancellation is signalled, while
// the turn is still pinned. The server uses it to put its interrupted
// event on the wire ahead of the cancelled result.
func (s *Scheduler) InterruptWith(notify func()) bool {
	s.mu.Lock()
	cancel := s.cancelTurn
	if cancel == nil {
		s.mu.Unlock()
		return false
	}
	if notify != nil {
		notify()
	}
	s.mu.Unlock()
	cancel()
	return true
}

// Status reports the current state and queue depth.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, QueueDepth: len(s.queue)}
}

// Wait blocks until the current turn chain (and any spawned compaction)
// finishes. Messages submitted after the last turn completes are not
// waited for.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) startTurnLocked(msg QueuedMessage) {
	s.state = StateRunning
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancelTurn = cancel
	s.wg.Add(1)
	go s.runTurn(ctx, cancel, msg)
}

func (s *Scheduler) runTurn(ctx context.Context, cancel context.CancelFunc, msg QueuedMessage) {
	defer s.wg.Done()
	defer cancel()

	runID := uuid.NewString()[:8]
	slog.Debug("turn starting", "run", runID, "session", msg.SessionID)

	start := time.Now()
	res, err := s.cfg.Runner.Run(ctx, msg.Prompt, agent.RunOptions{
		Sink:         s.cfg.Sink,
		OnBeforeTurn: s.drainForInjection,
	})

	tr := TurnResult{
		SessionID: msg.SessionID,
		Duration:  time.Since(start),
	}
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
		tr.Cancelled = true
	case err != nil:
		tr.Err = err
	default:
		tr.Response = res.Response
		tr.NumTurns = res.NumTurns
		tr.Usage = res.Usage
	}
	if s.cfg.OnResult != nil {
		s.cfg.OnResult(tr)
	}
	slog.Debug("turn finished", "run", runID, "cancelled", tr.Cancelled,
		"num_turns", tr.NumTurns, "duration", tr.Duration)

	s.maybeCompact()
	s.finishTurn()
}

// drainForInjection atomically takes every queued message and returns
// their prompts joined by a blank line, or "" when the queue is empty.
func (s *Scheduler) drainForInjection() string {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return ""
	}
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	parts := make([]string, len(drained))
	for i, m := range drained {
		parts[i] = m.Prompt
	}
	joined := strings.Join(parts, "\n\n")
	if s.cfg.OnInjected != nil {
		s.cfg.OnInjected(len(drained), len(joined))
	}
	return joined
}

// maybeCompact spawns a best-effort compaction run when the temporal
// estimate is over threshold. The next turn does not wait for it.
func (s *Scheduler) maybeCompact() {
	if s.cfg.Compactor == nil {
		return
	}
	run, err := s.cfg.Compactor.ShouldRun()
	if err != nil {
		slog.Warn("compaction check failed", "error", err)
		return
	}
	if !run {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.cfg.Compactor.Run(s.baseCtx); err != nil {
			slog.Warn("compaction run failed", "error", err)
		}
	}()
}

// finishTurn transitions running -> draining, then either dequeues the
// next turn or goes idle.
func (s *Scheduler) finishTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTurn = nil
	s.state = StateDraining
	s.processQueueLocked()
}

func (s *Scheduler) processQueueLocked() {
	if s.processing {
		return
	}
	s.processing = true
	defer func() { s.processing = false }()

	if s.baseCtx.Err() != nil {
		s.state = StateIdle
		return
	}
	if len(s.queue) == 0 {
		s.state = StateIdle
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.startTurnLocked(next)
}
