package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/miriadlabs/miriad/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the local Tool interface.
type BridgeTool struct {
	serverName string
	mcpTool    mcpgo.Tool
	client     *mcpclient.Client
	name       string
	schema     tools.Schema
	timeout    time.Duration
	connected  *atomic.Bool
}

func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, prefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	name := mcpTool.Name
	if prefix != "" {
		name = prefix + name
	} else {
		name = serverName + "_" + name
	}

	return &BridgeTool{
		serverName: serverName,
		mcpTool:    mcpTool,
		client:     client,
		name:       name,
		schema:     convertSchema(mcpTool.InputSchema),
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (t *BridgeTool) Name() string { return t.name }

// OriginalName is the tool's name on the remote server, without prefix.
func (t *BridgeTool) OriginalName() string { return t.mcpTool.Name }

func (t *BridgeTool) Description() string {
	if t.mcpTool.Description != "" {
		return t.mcpTool.Description
	}
	return fmt.Sprintf("Tool %s from MCP server %s", t.mcpTool.Name, t.serverName)
}

func (t *BridgeTool) Schema() tools.Schema { return t.schema }

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !t.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %s is not connected", t.serverName))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.mcpTool.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("MCP call failed: %v", err)).WithError(err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

// convertSchema maps an MCP input schema onto the local Schema type via
// its JSON form, since both are JSON Schema subsets.
func convertSchema(in mcpgo.ToolInputSchema) tools.Schema {
	data, err := json.Marshal(in)
	if err != nil {
		return tools.Schema{Type: "object"}
	}
	var out tools.Schema
	if err := json.Unmarshal(data, &out); err != nil || out.Type == "" {
		return tools.Schema{Type: "object"}
	}
	return out
}

func flattenContent(blocks []mcpgo.Content) string {
	var parts []string
	for _, block := range blocks {
		if tc, ok := mcpgo.AsTextContent(block); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "(no text content)"
	}
	return strings.Join(parts, "\n")
}
