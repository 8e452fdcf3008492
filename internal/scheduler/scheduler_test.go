package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miriadlabs/miriad/internal/agent"
	"github.com/miriadlabs/miriad/internal/providers"
)

// fakeRunner is a controllable turn runner. If release is non-nil every
// run blocks until a token arrives (or the turn is cancelled). If
// callBeforeTurn is set, the injection hook is consulted after the
// block, mimicking a model-call boundary.
type fakeRunner struct {
	started        chan string
	release        chan struct{}
	callBeforeTurn bool
	err            error

	mu            sync.Mutex
	injections    []string
	concurrent    int
	maxConcurrent int
}

func (r *fakeRunner) Run(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
	r.mu.Lock()
	r.concurrent++
	if r.concurrent > r.maxConcurrent {
		r.maxConcurrent = r.concurrent
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.concurrent--
		r.mu.Unlock()
	}()

	if r.started != nil {
		r.started <- prompt
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.callBeforeTurn && opts.OnBeforeTurn != nil {
		if inj := opts.OnBeforeTurn(); inj != "" {
			r.mu.Lock()
			r.injections = append(r.injections, inj)
			r.mu.Unlock()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &agent.RunResult{
		Response: "echo: " + prompt,
		NumTurns: 1,
		Usage:    providers.Usage{TotalTokens: 5},
	}, nil
}

func waitResult(t *testing.T, ch <-chan TurnResult) TurnResult {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for turn result")
		return TurnResult{}
	}
}

func waitStarted(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for turn start")
		return ""
	}
}

func TestSubmit_IdleRunsImmediately(t *testing.T) {
	r := &fakeRunner{}
	results := make(chan TurnResult, 1)
	s := New(context.Background(), Config{
		Runner:   r,
		OnResult: func(tr TurnResult) { results <- tr },
	})

	s.Submit(QueuedMessage{Prompt: "hello", SessionID: "s1"})
	tr := waitResult(t, results)
	if tr.Response != "echo: hello" || tr.SessionID != "s1" || tr.NumTurns != 1 {
		t.Errorf("result = %+v", tr)
	}
	if tr.Cancelled || tr.Err != nil {
		t.Errorf("unexpected failure: %+v", tr)
	}

	s.Wait()
	if st := s.Status(); st.State != StateIdle || st.QueueDepth != 0 {
		t.Errorf("status after turn = %+v", st)
	}
}

func TestSubmit_MidTurnMessagesQueueFIFO(t *testing.T) {
	r := &fakeRunner{started: make(chan string, 3), release: make(chan struct{})}
	results := make(chan TurnResult, 3)
	var positions []int
	var posMu sync.Mutex
	s := New(context.Background(), Config{
		Runner:   r,
		OnResult: func(tr TurnResult) { results <- tr },
		OnQueued: func(pos int, msg QueuedMessage) {
			posMu.Lock()
			positions = append(positions, pos)
			posMu.Unlock()
		},
	})

	s.Submit(QueuedMessage{Prompt: "first"})
	waitStarted(t, r.started)
	s.Submit(QueuedMessage{Prompt: "second"})
	s.Submit(QueuedMessage{Prompt: "third"})

	posMu.Lock()
	if len(positions) != 2 || positions[0] != 1 || positions[1] != 2 {
		t.Errorf("queued positions = %v, want [1 2]", positions)
	}
	posMu.Unlock()

	if st := s.Status(); st.State != StateRunning || st.QueueDepth != 2 {
		t.Errorf("mid-turn status = %+v", st)
	}

	// Release all three turns and check arrival order is preserved.
	want := []string{"echo: first", "echo: second", "echo: third"}
	for i := 0; i < 3; i++ {
		r.release <- struct{}{}
		if i < 2 {
			waitStarted(t, r.started)
		}
		tr := waitResult(t, results)
		if tr.Response != want[i] {
			t.Errorf("result[%d] = %q, want %q", i, tr.Response, want[i])
		}
	}
	s.Wait()
}

func TestInjection_DrainsWholeQueue(t *testing.T) {
	r := &fakeRunner{
		started:        make(chan string, 1),
		release:        make(chan struct{}),
		callBeforeTurn: true,
	}
	results := make(chan TurnResult, 1)
	var injectedCount, injectedLen int
	s := New(context.Background(), Config{
		Runner:   r,
		OnResult: func(tr TurnResult) { results <- tr },
		OnInjected: func(count, length int) {
			injectedCount, injectedLen = count, length
		},
	})

	s.Submit(QueuedMessage{Prompt: "main task"})
	waitStarted(t, r.started)
	s.Submit(QueuedMessage{Prompt: "also check the logs"})
	s.Submit(QueuedMessage{Prompt: "and the config"})

	r.release <- struct{}{}
	waitResult(t, results)
	s.Wait()

	want := "also check the logs\n\nand the config"
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.injections) != 1 || r.injections[0] != want {
		t.Errorf("injections = %q, want [%q]", r.injections, want)
	}
	if injectedCount != 2 || injectedLen != len(want) {
		t.Errorf("injected notification = (%d, %d), want (2, %d)", injectedCount, injectedLen, len(want))
	}
	// Drained messages must not come back as separate turns.
	if st := s.Status(); st.State != StateIdle || st.QueueDepth != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestInterrupt_CancelsCurrentTurnOnly(t *testing.T) {
	r := &fakeRunner{started: make(chan string, 2), release: make(chan struct{})}
	results := make(chan TurnResult, 2)
	s := New(context.Background(), Config{
		Runner:   r,
		OnResult: func(tr TurnResult) { results <- tr },
	})

	if s.Interrupt() {
		t.Error("interrupt with no running turn must report false")
	}

	s.Submit(QueuedMessage{Prompt: "long job", SessionID: "s1"})
	waitStarted(t, r.started)
	s.Submit(QueuedMessage{Prompt: "next job", SessionID: "s2"})

	if !s.Interrupt() {
		t.Fatal("interrupt must report a running turn")
	}
	tr := waitResult(t, results)
	if !tr.Cancelled || tr.Err != nil || tr.SessionID != "s1" {
		t.Errorf("cancelled result = %+v", tr)
	}

	// The queued message still runs on a fresh context.
	waitStarted(t, r.started)
	r.release <- struct{}{}
	tr2 := waitResult(t, results)
	if tr2.Cancelled || tr2.Response != "echo: next job" {
		t.Errorf("follow-up result = %+v", tr2)
	}
	s.Wait()
}

func TestRunnerError_SurfacesInResult(t *testing.T) {
	r := &fakeRunner{err: errors.New("model down")}
	results := make(chan TurnResult, 1)
	s := New(context.Background(), Config{
		Runner:   r,
		OnResult: func(tr TurnResult) { results <- tr },
	})

	s.Submit(QueuedMessage{Prompt: "hi"})
	tr := waitResult(t, results)
	if tr.Err == nil || tr.Cancelled {
		t.Errorf("result = %+v, want error", tr)
	}
	s.Wait()
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("state after error = %s", st.State)
	}
}

func TestAtMostOneTurnRuns(t *testing.T) {
	release := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		release <- struct{}{}
	}
	r := &fakeRunner{release: release}
	results := make(chan TurnResult, 5)
	s := New(context.Background(), Config{
		Runner:   r,
		OnResult: func(tr TurnResult) { results <- tr },
	})

	for i := 0; i < 5; i++ {
		s.Submit(QueuedMessage{Prompt: "job"})
	}
	seen := 0
	for seen < 5 {
		waitResult(t, results)
		seen++
	}
	s.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxConcurrent != 1 {
		t.Errorf("max concurrent turns = %d, want 1", r.maxConcurrent)
	}
}

type fakeCompactor struct {
	should bool
	mu     sync.Mutex
	runs   int
}

func (c *fakeCompactor) ShouldRun() (bool, error) { return c.should, nil }
func (c *fakeCompactor) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()
	return nil
}

func TestCompaction_TriggeredAfterTurn(t *testing.T) {
	for _, should := range []bool{true, false} {
		r := &fakeRunner{}
		fc := &fakeCompactor{should: should}
		results := make(chan TurnResult, 1)
		s := New(context.Background(), Config{
			Runner:    r,
			Compactor: fc,
			OnResult:  func(tr TurnResult) { results <- tr },
		})

		s.Submit(QueuedMessage{Prompt: "hi"})
		waitResult(t, results)
		s.Wait()

		fc.mu.Lock()
		runs := fc.runs
		fc.mu.Unlock()
		want := 0
		if should {
			want = 1
		}
		if runs != want {
			t.Errorf("should=%v: compaction runs = %d, want %d", should, runs, want)
		}
	}
}
