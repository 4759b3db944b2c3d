package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/conversation"
	"github.com/kalambet/sangam/internal/extract"
	"github.com/kalambet/sangam/internal/ingest"
	"github.com/kalambet/sangam/internal/pipeline"
)

const maxHistoryTurns = 50

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Content  ContentService
	Uploader Uploader // optional; if nil, add_transcript returns an error
	// Owner is used when a tool call does not name one.
	Owner string
}

// NewMCPServer creates an MCP server with the sangam tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sangam",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sangam: ask questions about uploaded documents, transcripts, and tables."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about one uploaded content item. Earlier questions on the same item are taken into account."),
			mcp.WithString("name", mcp.Description("Name of the content item"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("owner", mcp.Description("Owner id (defaults to the server owner)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_content",
			mcp.WithDescription("List uploaded content items and whether they are ready for questions."),
			mcp.WithString("owner", mcp.Description("Owner id (defaults to the server owner)")),
		),
		mcpListContent(deps),
	)

	s.AddTool(
		mcp.NewTool("history",
			mcp.WithDescription("Show the conversation held about one content item."),
			mcp.WithString("name", mcp.Description("Name of the content item"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of most recent turns (default 50)")),
			mcp.WithString("owner", mcp.Description("Owner id (defaults to the server owner)")),
		),
		mcpHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("add_transcript",
			mcp.WithDescription("Store a transcript so questions can be asked about it."),
			mcp.WithString("content", mcp.Description("Transcript text"), mcp.Required()),
			mcp.WithString("url", mcp.Description("Video URL the transcript belongs to; names the item")),
			mcp.WithString("owner", mcp.Description("Owner id (defaults to the server owner)")),
		),
		mcpAddTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("summarize",
			mcp.WithDescription("Summarize a stored transcript."),
			mcp.WithString("name", mcp.Description("Name of the transcript"), mcp.Required()),
			mcp.WithString("owner", mcp.Description("Owner id (defaults to the server owner)")),
		),
		mcpSummarize(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sangam://content",
			"Content Items",
			mcp.WithResourceDescription("Content items of the server owner as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceContent(deps),
	)

	return s
}

func toolOwner(deps MCPDeps, req mcp.CallToolRequest) string {
	if o := strings.TrimSpace(req.GetString("owner", "")); o != "" {
		return o
	}
	return deps.Owner
}

// toolFailure renders a service error as a tool error result.
func toolFailure(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, conversation.ErrIndexing):
		return mcpError("content is still being indexed, try again shortly")
	case errors.Is(err, artifact.ErrNotFound):
		return mcpError("content not found")
	case errors.Is(err, extract.ErrInvalidInput), errors.Is(err, artifact.ErrInvalidKey):
		return mcpError(err.Error())
	case errors.Is(err, pipeline.ErrUpstream):
		return mcpError(fmt.Sprintf("%s failed: language model unavailable", op))
	case errors.Is(err, artifact.ErrCorrupt):
		return mcpError(fmt.Sprintf("%s failed: stored content is damaged", op))
	default:
		return mcpError(fmt.Sprintf("%s failed: %v", op, err))
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		res, err := deps.Content.Ask(ctx, toolOwner(deps, req), name, question)
		if err != nil {
			return toolFailure("ask", err), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items, err := deps.Content.List(ctx, toolOwner(deps, req))
		if err != nil {
			return toolFailure("list", err), nil
		}
		if len(items) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(items)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal items: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		limit := req.GetInt("limit", maxHistoryTurns)
		if limit <= 0 || limit > maxHistoryTurns {
			limit = maxHistoryTurns
		}

		turns, err := deps.Content.History(ctx, toolOwner(deps, req), name)
		if err != nil {
			return toolFailure("history", err), nil
		}
		if len(turns) > limit {
			turns = turns[len(turns)-limit:]
		}

		out := make([]turnView, len(turns))
		for i, t := range turns {
			out[i] = turnView{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt.UTC()}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Uploader == nil {
			return mcpError("uploads are not available on this server"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		receipt, err := deps.Uploader.Submit(ctx, ingest.Upload{
			Owner:     toolOwner(deps, req),
			Kind:      artifact.KindTranscript,
			Reference: req.GetString("url", ""),
			Data:      []byte(content),
		})
		if err != nil {
			return toolFailure("add transcript", err), nil
		}
		return mcpText(fmt.Sprintf("Stored transcript %s; indexing job %s", receipt.Name, receipt.JobID)), nil
	}
}

func mcpSummarize(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		summary, err := deps.Content.Summarize(ctx, toolOwner(deps, req), name)
		if err != nil {
			return toolFailure("summarize", err), nil
		}
		return mcpText(summary), nil
	}
}

func mcpResourceContent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Content.List(ctx, deps.Owner)
		if err != nil {
			return nil, fmt.Errorf("failed to list content: %w", err)
		}

		type itemSummary struct {
			Name      string `json:"name"`
			Kind      string `json:"kind"`
			Ready     bool   `json:"ready"`
			CreatedAt string `json:"created_at"`
		}
		summaries := make([]itemSummary, len(items))
		for i, it := range items {
			summaries[i] = itemSummary{
				Name:      it.Name,
				Kind:      string(it.Kind),
				Ready:     it.Ready,
				CreatedAt: it.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal content: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
