package mcp

import (
	"context"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

func TestBridgeTool_Naming(t *testing.T) {
	var connected atomic.Bool
	mcpTool := mcpgo.Tool{Name: "query", Description: "run a query"}

	bt := NewBridgeTool("postgres", mcpTool, nil, "", 30, &connected)
	if bt.Name() != "postgres_query" {
		t.Errorf("default name = %q, want postgres_query", bt.Name())
	}
	if bt.OriginalName() != "query" {
		t.Errorf("original name = %q", bt.OriginalName())
	}

	bt = NewBridgeTool("postgres", mcpTool, nil, "db_", 30, &connected)
	if bt.Name() != "db_query" {
		t.Errorf("prefixed name = %q, want db_query", bt.Name())
	}
}

func TestConvertSchema(t *testing.T) {
	in := mcpgo.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"sql":   map[string]any{"type": "string", "description": "SQL to run"},
			"limit": map[string]any{"type": "integer"},
		},
		Required: []string{"sql"},
	}

	got := convertSchema(in)
	if got.Type != "object" {
		t.Fatalf("type = %q", got.Type)
	}
	if got.Properties["sql"].Type != "string" || got.Properties["limit"].Type != "integer" {
		t.Errorf("properties = %+v", got.Properties)
	}
	if len(got.Required) != 1 || got.Required[0] != "sql" {
		t.Errorf("required = %v", got.Required)
	}
}

func TestConvertSchema_EmptyFallsBackToObject(t *testing.T) {
	got := convertSchema(mcpgo.ToolInputSchema{})
	if got.Type != "object" {
		t.Errorf("fallback type = %q, want object", got.Type)
	}
}

func TestBridgeTool_DisconnectedServer(t *testing.T) {
	var connected atomic.Bool // false
	bt := NewBridgeTool("srv", mcpgo.Tool{Name: "x"}, nil, "", 30, &connected)
	r := bt.Execute(context.Background(), map[string]interface{}{})
	if !r.IsError {
		t.Fatal("disconnected server must return an error result")
	}
}
