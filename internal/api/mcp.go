package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/finsight/finsight/internal/ingest"
	"github.com/finsight/finsight/internal/retrieval"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline Asker
	Ingestor Ingestor
}

// NewMCPServer creates an MCP server with the financial query tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"finsight",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("finsight answers natural-language questions about financial performance by generating and executing SQL over the valuation warehouse."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("query_financials",
			mcp.WithDescription("Answer a natural-language question about financial performance. Returns raw result rows plus expert analysis."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpQueryFinancials(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_examples",
			mcp.WithDescription("Replace the few-shot example corpus with a new batch of (question, sql) pairs."),
			mcp.WithString("pairs", mcp.Description("JSON array of {question, sql} objects"), mcp.Required()),
		),
		mcpIngestExamples(deps),
	)

	return s
}

func mcpQueryFinancials(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		data, err := deps.Pipeline.Ask(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return mcpText(string(data)), nil
	}
}

func mcpIngestExamples(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pairsJSON, err := req.RequireString("pairs")
		if err != nil {
			return mcpError("pairs is required"), nil
		}

		var pairs []ingest.Pair
		if err := json.Unmarshal([]byte(pairsJSON), &pairs); err != nil {
			return mcpError(fmt.Sprintf("invalid pairs JSON: %v", err)), nil
		}
		if len(pairs) == 0 {
			return mcpError("at least one pair is required"), nil
		}

		if err := deps.Ingestor.Replace(ctx, retrieval.TableExamples, pairs); err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Replaced example corpus with %d pairs", len(pairs))), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
