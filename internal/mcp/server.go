package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/xrev/internal/models"
	"github.com/joescharf/xrev/internal/provider"
	"github.com/joescharf/xrev/internal/store"
)

// Server wraps the xrev data layer and exposes it as MCP tools.
type Server struct {
	store     store.Store
	reviewers []provider.Reviewer
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, reviewers []provider.Reviewer) *Server {
	return &Server{
		store:     s,
		reviewers: reviewers,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("xrev", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.sessionHistoryTool())
	srv.AddTool(s.providerStatusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// xrev_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xrev_list_sessions",
		mcp.WithDescription("List review sessions, newest first. Returns a JSON array with id, directory, state (converged/exhausted/aborted or an in-progress state), final score, target score, and iteration count."),
		mcp.WithString("state", mcp.Description("Filter by state: converged, exhausted, aborted")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.SessionFilter{}
	if state := request.GetString("state", ""); state != "" {
		filter.State = models.SessionState(state)
	}
	filter.Limit = request.GetInt("limit", 0)

	sessions, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID            string  `json:"id"`
		Directory     string  `json:"directory"`
		State         string  `json:"state"`
		TargetScore   float64 `json:"target_score"`
		FinalScore    float64 `json:"final_score"`
		MaxIterations int     `json:"max_iterations"`
		Iterations    int     `json:"iterations"`
		StartedAt     string  `json:"started_at"`
		EndedAt       string  `json:"ended_at,omitempty"`
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		// List rows carry no history; fetch it for the iteration count.
		full, err := s.store.GetSession(ctx, sess.ID)
		if err != nil {
			full = sess
		}
		out[i] = sessionOut{
			ID:            sess.ID,
			Directory:     sess.Directory,
			State:         string(sess.State),
			TargetScore:   sess.TargetScore,
			FinalScore:    full.FinalScore(),
			MaxIterations: sess.MaxIterations,
			Iterations:    len(full.Iterations),
			StartedAt:     sess.StartedAt.Format(time.RFC3339),
		}
		if sess.EndedAt != nil {
			out[i].EndedAt = sess.EndedAt.Format(time.RFC3339)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// xrev_session_history
func (s *Server) sessionHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xrev_session_history",
		mcp.WithDescription("Get the full iteration history for one review session: per-provider scores, average score, consensus issues with both reviewers' findings, and repair counts per iteration."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID (full ULID or unique prefix)")),
	)
	return tool, s.handleSessionHistory
}

func (s *Server) handleSessionHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"id":             session.ID,
		"directory":      session.Directory,
		"files":          session.Files,
		"state":          string(session.State),
		"target_score":   session.TargetScore,
		"final_score":    session.FinalScore(),
		"max_iterations": session.MaxIterations,
		"iterations":     session.Iterations,
		"started_at":     session.StartedAt.Format(time.RFC3339),
	}
	if session.EndedAt != nil {
		result["ended_at"] = session.EndedAt.Format(time.RFC3339)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// xrev_provider_status
func (s *Server) providerStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("xrev_provider_status",
		mcp.WithDescription("Report each configured review provider: name, whether it is currently available, and whether it can apply repairs."),
	)
	return tool, s.handleProviderStatus
}

func (s *Server) handleProviderStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type providerOut struct {
		Name      string `json:"name"`
		Available bool   `json:"available"`
		CanReview bool   `json:"can_review"`
		CanRepair bool   `json:"can_repair"`
	}

	out := make([]providerOut, len(s.reviewers))
	for i, r := range s.reviewers {
		out[i] = providerOut{
			Name:      r.Name(),
			Available: r.Available(),
			CanReview: r.Capabilities().Has(provider.CapReview),
			CanRepair: r.Capabilities().Has(provider.CapRepair),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal providers: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// findSession finds a session by full ID or unique prefix.
func (s *Server) findSession(ctx context.Context, id string) (*models.ReviewSession, error) {
	// Try exact match first
	if session, err := s.store.GetSession(ctx, id); err == nil {
		return session, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.ReviewSession
	for _, session := range sessions {
		if strings.HasPrefix(session.ID, upper) {
			matches = append(matches, session)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("session not found: %s", id)
	case 1:
		// Re-fetch to get the history loaded
		return s.store.GetSession(ctx, matches[0].ID)
	default:
		return nil, fmt.Errorf("ambiguous session ID %s: matches %d sessions", id, len(matches))
	}
}
