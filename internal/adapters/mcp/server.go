// Package mcpadapter exposes answering and corpus listing as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

type Server struct {
	query  ports.DocumentQueryService
	reader ports.DocumentReader
}

func NewServer(query ports.DocumentQueryService, reader ports.DocumentReader) *Server {
	return &Server{query: query, reader: reader}
}

// MCPServer registers the tools on a new MCP server.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("grounded-qa", version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("answer",
		mcp.WithDescription("Answer a question from the indexed documents. Every answer carries citations and a confidence tier (High, Medium, Low)."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer.")),
		mcp.WithString("session_id", mcp.Description("Conversation id; reuse it for follow-up questions.")),
	), s.handleAnswer)

	srv.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List the filenames of the documents that can be cited."),
	), s.handleListDocuments)

	srv.AddTool(mcp.NewTool("clear_session",
		mcp.WithDescription("Forget the conversation history of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation id to clear.")),
	), s.handleClearSession)

	return srv
}

func (s *Server) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	answer, err := s.query.Answer(ctx, question, req.GetString("session_id", ""))
	if err != nil {
		return toolError("answer", err)
	}
	return jsonResult(answer)
}

func (s *Server) handleListDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.reader.ListDocuments(ctx)
	if err != nil {
		return toolError("list_documents", err)
	}
	if names == nil {
		names = []string{}
	}
	return jsonResult(map[string]any{"documents": names})
}

func (s *Server) handleClearSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.query.ClearSession(ctx, sessionID); err != nil {
		return toolError("clear_session", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("session %s cleared", sessionID)), nil
}

// toolError reports caller mistakes and degraded backends as tool errors the
// model can read; anything else is a protocol-level failure.
func toolError(tool string, err error) (*mcp.CallToolResult, error) {
	switch {
	case domain.IsInputError(err),
		domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrEmbeddingService),
		domain.IsKind(err, domain.ErrGeneration),
		domain.IsKind(err, domain.ErrTemporary):
		slog.Warn("mcp_tool_failed", "tool", tool, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	default:
		return nil, fmt.Errorf("%s: %w", tool, err)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
