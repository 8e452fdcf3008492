package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miriadlabs/miriad/internal/agent"
	"github.com/miriadlabs/miriad/internal/providers"
	"github.com/miriadlabs/miriad/internal/scheduler"
)

type runnerFunc func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
	return f(ctx, prompt, opts)
}

// runServer feeds the whole input, waits for the server to drain, and
// returns the decoded output lines.
func runServer(t *testing.T, input string, r scheduler.Runner) []map[string]interface{} {
	t.Helper()
	var out bytes.Buffer
	srv := New(context.Background(), Config{
		In:     strings.NewReader(input),
		Out:    &out,
		Runner: r,
		Model:  "test-model",
	})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("server run: %v", err)
	}
	return decodeLines(t, out.String())
}

func decodeLines(t *testing.T, raw string) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad output line %q: %v", line, err)
		}
		lines = append(lines, m)
	}
	return lines
}

func userLine(content, sessionID string) string {
	return fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q},"session_id":%q}`, content, sessionID)
}

func findLine(lines []map[string]interface{}, typ, subtype string) map[string]interface{} {
	for _, l := range lines {
		if l["type"] != typ {
			continue
		}
		if subtype == "" || l["subtype"] == subtype {
			return l
		}
	}
	return nil
}

func TestServer_BatchHello(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		opts.Sink(agent.Event{Kind: agent.EventAssistant, Content: "Hi there!"})
		return &agent.RunResult{
			Response: "Hi there!",
			NumTurns: 0,
			Usage:    providers.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}, nil
	})
	lines := runServer(t, userLine("Hello", "s1"), r)

	assistant := findLine(lines, "assistant", "")
	if assistant == nil {
		t.Fatalf("no assistant line in %v", lines)
	}
	msg := assistant["message"].(map[string]interface{})
	content := msg["content"].([]interface{})[0].(map[string]interface{})
	if content["type"] != "text" || content["text"] != "Hi there!" || msg["model"] != "test-model" {
		t.Errorf("assistant message = %v", msg)
	}

	result := findLine(lines, "result", "success")
	if result == nil {
		t.Fatalf("no success result in %v", lines)
	}
	if result["session_id"] != "s1" || result["num_turns"] != float64(0) || result["is_error"] != false {
		t.Errorf("result = %v", result)
	}
	usage := result["usage"].(map[string]interface{})
	if usage["input_tokens"] != float64(3) || usage["output_tokens"] != float64(2) {
		t.Errorf("usage = %v", usage)
	}
	// The result is the last line for the turn.
	if lines[len(lines)-1]["type"] != "result" {
		t.Errorf("last line = %v", lines[len(lines)-1])
	}
}

func TestServer_ToolRoundTripEventOrder(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		opts.Sink(agent.Event{Kind: agent.EventToolCall, ToolCall: &providers.ToolCall{
			ID: "c1", Name: "read", Arguments: map[string]interface{}{"path": "/tmp/x"},
		}})
		opts.Sink(agent.Event{Kind: agent.EventToolResult, ToolUseID: "c1", Content: "ABC"})
		opts.Sink(agent.Event{Kind: agent.EventAssistant, Content: "the file says ABC"})
		return &agent.RunResult{Response: "the file says ABC", NumTurns: 1}, nil
	})
	lines := runServer(t, userLine("read /tmp/x", "s1"), r)

	var kinds []string
	for _, l := range lines {
		typ := l["type"].(string)
		if typ == "system" {
			typ += ":" + l["subtype"].(string)
		}
		kinds = append(kinds, typ)
	}
	want := []string{"assistant", "system:tool_result", "assistant", "result"}
	if len(kinds) != len(want) {
		t.Fatalf("lines = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("line[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}

	toolUse := lines[0]["message"].(map[string]interface{})["content"].([]interface{})[0].(map[string]interface{})
	if toolUse["type"] != "tool_use" || toolUse["id"] != "c1" || toolUse["name"] != "read" {
		t.Errorf("tool_use block = %v", toolUse)
	}
	toolResult := lines[1]
	if toolResult["tool_use_id"] != "c1" || toolResult["content"] != "ABC" {
		t.Errorf("tool_result = %v", toolResult)
	}
	if lines[3]["num_turns"] != float64(1) {
		t.Errorf("result = %v", lines[3])
	}
}

func TestServer_ContentBlocksFlattened(t *testing.T) {
	var got string
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		got = prompt
		return &agent.RunResult{Response: "ok"}, nil
	})
	input := `{"type":"user","message":{"role":"user","content":[` +
		`{"type":"text","text":"Hello "},` +
		`{"type":"image","text":"ignored"},` +
		`{"type":"text","text":"world"}]},"session_id":"s1"}`
	runServer(t, input, r)

	if got != "Hello world" {
		t.Errorf("flattened prompt = %q, want %q", got, "Hello world")
	}
}

func TestServer_MalformedLineKeepsServing(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		return &agent.RunResult{Response: "still here"}, nil
	})
	input := "this is not json\n" + userLine("hi", "s1")
	lines := runServer(t, input, r)

	if e := findLine(lines, "system", "error"); e == nil {
		t.Errorf("no error event for malformed line: %v", lines)
	}
	if r := findLine(lines, "result", "success"); r == nil {
		t.Errorf("valid line after garbage was not served: %v", lines)
	}
}

func TestServer_StatusControl(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		return &agent.RunResult{}, nil
	})
	lines := runServer(t, `{"type":"control","action":"status"}`, r)

	status := findLine(lines, "system", "status")
	if status == nil {
		t.Fatalf("no status line: %v", lines)
	}
	if status["state"] != "idle" {
		t.Errorf("status = %v", status)
	}
}

func TestServer_InterruptProducesCancelledResult(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	input := userLine("long job", "s1") + "\n" + `{"type":"control","action":"interrupt"}`
	lines := runServer(t, input, r)

	interruptedAt, resultAt := -1, -1
	for i, l := range lines {
		if l["type"] == "system" && l["subtype"] == "interrupted" {
			interruptedAt = i
		}
		if l["type"] == "result" {
			resultAt = i
		}
	}
	if interruptedAt == -1 || resultAt == -1 || interruptedAt > resultAt {
		t.Fatalf("interrupted@%d result@%d in %v", interruptedAt, resultAt, lines)
	}
	result := lines[resultAt]
	if result["subtype"] != "cancelled" || result["is_error"] != false {
		t.Errorf("result = %v", result)
	}
}

func TestServer_InterruptWithNoTurn(t *testing.T) {
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		return &agent.RunResult{}, nil
	})
	lines := runServer(t, `{"type":"control","action":"interrupt"}`, r)
	e := findLine(lines, "system", "error")
	if e == nil || !strings.Contains(e["message"].(string), "no turn running") {
		t.Errorf("lines = %v", lines)
	}
}

// chanWriter forwards each output line so the test can observe the
// stream while the server is still running.
type chanWriter struct {
	mu    sync.Mutex
	raw   strings.Builder
	lines chan string
}

func (w *chanWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.raw.Write(p)
	w.mu.Unlock()
	w.lines <- strings.TrimSpace(string(p))
	return len(p), nil
}

func waitLine(t *testing.T, ch <-chan string, subtype string) map[string]interface{} {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case raw := <-ch:
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				t.Fatalf("bad line %q: %v", raw, err)
			}
			if m["subtype"] == subtype || (subtype == "" && m["type"] == "result") {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q line", subtype)
		}
	}
}

func TestServer_MidTurnMessageQueuedThenInjected(t *testing.T) {
	started := make(chan struct{}, 1)
	proceed := make(chan struct{})
	var injected string
	r := runnerFunc(func(ctx context.Context, prompt string, opts agent.RunOptions) (*agent.RunResult, error) {
		started <- struct{}{}
		<-proceed
		if inj := opts.OnBeforeTurn(); inj != "" {
			injected = inj
		}
		return &agent.RunResult{Response: "done"}, nil
	})

	pr, pw := io.Pipe()
	out := &chanWriter{lines: make(chan string, 32)}
	srv := New(context.Background(), Config{In: pr, Out: out, Runner: r, Model: "m"})
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	fmt.Fprintln(pw, userLine("main task", "s1"))
	<-started
	fmt.Fprintln(pw, userLine("also check the logs", "s2"))

	queued := waitLine(t, out.lines, "queued")
	if queued["position"] != float64(1) {
		t.Errorf("queued = %v", queued)
	}

	close(proceed)
	injectedEvt := waitLine(t, out.lines, "injected")
	if injectedEvt["message_count"] != float64(1) {
		t.Errorf("injected = %v", injectedEvt)
	}
	result := waitLine(t, out.lines, "")
	if result["subtype"] != "success" {
		t.Errorf("result = %v", result)
	}

	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("server run: %v", err)
	}
	if injected != "also check the logs" {
		t.Errorf("injected prompt = %q", injected)
	}
}
