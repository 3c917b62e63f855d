// Package mcpserver exposes the knowledge base to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/markdave123-py/kbchat/internal/models"
)

// Assistant is the slice of services.Assistant the tools need.
type Assistant interface {
	HandleQuestion(ctx context.Context, text string) string
	Search(ctx context.Context, text string, k int) ([]models.RetrievedChunk, error)
}

const defaultLimit = 5

// New registers the ask and search_knowledge_base tools.
func New(a Assistant, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kbchat",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("kbchat answers questions from uploaded Excel and PDF files."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question using only the uploaded Excel/PDF files. The answer ends with its sources."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		askTool(a),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge_base",
			mcp.WithDescription("Return the raw chunks most relevant to a query, with file and page provenance."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		searchTool(a),
	)

	return s
}

func askTool(a Assistant) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError("question is required"), nil
		}
		return mcp.NewToolResultText(a.HandleQuestion(ctx, question)), nil
	}
}

func searchTool(a Assistant) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := req.GetInt("limit", defaultLimit)
		if limit <= 0 {
			limit = defaultLimit
		}

		results, err := a.Search(ctx, query, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("No matching content in the knowledge base."), nil
		}

		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	}
}
