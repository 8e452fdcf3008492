package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/miriadlabs/miriad/internal/agent"
	"github.com/miriadlabs/miriad/internal/compact"
	"github.com/miriadlabs/miriad/internal/config"
	"github.com/miriadlabs/miriad/internal/ident"
	"github.com/miriadlabs/miriad/internal/maintenance"
	"github.com/miriadlabs/miriad/internal/mcp"
	"github.com/miriadlabs/miriad/internal/providers"
	"github.com/miriadlabs/miriad/internal/server"
	"github.com/miriadlabs/miriad/internal/store"
	"github.com/miriadlabs/miriad/internal/tools"
)

// deps is the explicit dependency bundle: everything the run modes
// need, built once, no globals.
type deps struct {
	cfg       *config.Config
	store     *store.Store
	idents    *ident.Service
	registry  *tools.Registry
	mcpMgr    *mcp.Manager
	loop      *agent.Loop
	compactor *compact.Compactor
	maint     *maintenance.Runner
}

func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	// Open runs pending migrations itself.
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	reasoning, err := providers.New(cfg.Provider, cfg.Models.Reasoning)
	if err != nil {
		s.Close()
		return nil, err
	}
	workhorse, err := providers.New(cfg.Provider, cfg.Models.Workhorse)
	if err != nil {
		s.Close()
		return nil, err
	}
	fast, err := providers.New(cfg.Provider, cfg.Models.Fast)
	if err != nil {
		s.Close()
		return nil, err
	}

	idents := ident.New()
	registry := builtinRegistry(cfg, s)

	mcpMgr := mcp.NewManager(registry, cfg.MCPServers)
	if err := mcpMgr.Start(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start mcp servers: %w", err)
	}

	loop := agent.New(agent.Config{
		Store:          s,
		Provider:       reasoning,
		Registry:       registry,
		Idents:         idents,
		Model:          cfg.Models.Reasoning,
		TemporalBudget: cfg.Budgets.Temporal,
		MaxTokens:      cfg.MaxTokens,
	})
	compactor := compact.New(compact.Config{
		Store:          s,
		Provider:       workhorse,
		Idents:         idents,
		Model:          cfg.Models.Workhorse,
		TemporalBudget: cfg.Budgets.Temporal,
		Threshold:      cfg.Budgets.CompactionThreshold,
		Target:         cfg.Budgets.CompactionTarget,
	})
	maint := maintenance.New(maintenance.Config{
		Store:          s,
		Provider:       fast,
		Idents:         idents,
		Model:          cfg.Models.Fast,
		TemporalBudget: cfg.Budgets.Temporal,
	})

	return &deps{
		cfg:       cfg,
		store:     s,
		idents:    idents,
		registry:  registry,
		mcpMgr:    mcpMgr,
		loop:      loop,
		compactor: compactor,
		maint:     maint,
	}, nil
}

func (d *deps) close() {
	d.mcpMgr.Stop()
	d.store.Close()
}

func builtinRegistry(cfg *config.Config, s *store.Store) *tools.Registry {
	ws := cfg.Workspace
	restrict := cfg.RestrictToWorkspace
	reg := tools.NewRegistry()
	reg.Register(tools.NewBashTool(ws, restrict))
	reg.Register(tools.NewReadFileTool(ws, restrict))
	reg.Register(tools.NewWriteFileTool(ws, restrict))
	reg.Register(tools.NewEditFileTool(ws, restrict))
	reg.Register(tools.NewGlobTool(ws))
	reg.Register(tools.NewGrepTool(ws))
	reg.Register(tools.NewSetMissionTool(s))
	reg.Register(tools.NewSetStatusTool(s))
	reg.Register(tools.NewUpdateTasksTool(s))
	reg.Register(tools.NewLTMCreateTool(s, store.ActorMain))
	reg.Register(tools.NewLTMReadTool(s))
	reg.Register(tools.NewLTMUpdateTool(s, store.ActorMain))
	reg.Register(tools.NewLTMUpdateTagsTool(s, store.ActorMain))
	reg.Register(tools.NewLTMArchiveTool(s, store.ActorMain))
	reg.Register(tools.NewLTMChildrenTool(s))
	reg.Register(tools.NewLTMGlobTool(s))
	reg.Register(tools.NewLTMSearchTool(s))
	reg.Register(tools.NewHistorySearchTool(s))
	return reg
}

// runBatch runs one turn and prints the outcome: plain response text,
// or the final result object as JSON with --format json.
func runBatch(prompt string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	var sink agent.Sink
	if flagVerbose {
		sink = func(e agent.Event) {
			if e.Kind == agent.EventToolCall && e.ToolCall != nil {
				fmt.Fprintf(os.Stderr, "  [tool] %s\n", e.ToolCall.Name)
			}
		}
	}

	result, err := d.loop.Run(ctx, prompt, agent.RunOptions{Sink: sink})
	if err != nil {
		return err
	}

	// Best-effort compaction before exit keeps the next batch start fast.
	if should, cerr := d.compactor.ShouldRun(); cerr == nil && should {
		if cerr := d.compactor.Run(ctx); cerr != nil {
			fmt.Fprintf(os.Stderr, "compaction failed: %v\n", cerr)
		}
	}

	if flagFormat == "json" {
		out := map[string]interface{}{
			"type":      "result",
			"subtype":   "success",
			"is_error":  false,
			"num_turns": result.NumTurns,
			"result":    result.Response,
			"usage": map[string]int{
				"input_tokens":  result.Usage.PromptTokens,
				"output_tokens": result.Usage.CompletionTokens,
			},
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}
	fmt.Println(result.Response)
	return nil
}

// runStdio serves the NDJSON protocol until stdin closes or a signal
// arrives. The maintenance ticker runs alongside the server.
func runStdio() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	srv := server.New(ctx, server.Config{
		In:        os.Stdin,
		Out:       os.Stdout,
		Runner:    d.loop,
		Compactor: d.compactor,
		Model:     d.cfg.Models.Reasoning,
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		defer cancel()
		return srv.Run(runCtx)
	})
	g.Go(func() error {
		d.maint.Start(runCtx)
		return nil
	})
	return g.Wait()
}
