package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerQueueTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"join_queue",
			mcp.WithDescription("Join the matchmaking queue for a subject/level bucket. Returns the offer when pairing succeeds immediately."),
			apiKeyParam(),
			mcp.WithString("subject", mcp.Required(), mcp.Description("Question subject, e.g. math")),
			mcp.WithString("level", mcp.Required(), mcp.Description("Difficulty level, e.g. A1")),
		),
		s.handleJoinQueue,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"leave_queue",
			mcp.WithDescription("Leave the matchmaking queue"),
			apiKeyParam(),
		),
		s.handleLeaveQueue,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"pending_offer",
			mcp.WithDescription("Fetch the caller's pending match offer, if any"),
			apiKeyParam(),
		),
		s.handlePendingOffer,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"accept_offer",
			mcp.WithDescription("Accept a match offer. The match starts once both players accept."),
			apiKeyParam(),
			mcp.WithString("offer_id", mcp.Required(), mcp.Description("Offer id from join_queue or pending_offer")),
		),
		s.handleAcceptOffer,
	)
}

func (s *Server) handleJoinQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	subject, err := request.RequireString("subject")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	level, err := request.RequireString("level")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	resp, svcErr := s.duel.JoinQueue(ctx, p.ID, subject, level)
	if svcErr != nil {
		return mapDomainError(svcErr), nil
	}
	return toolResult(resp), nil
}

func (s *Server) handleLeaveQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	removed, err := s.duel.LeaveQueue(ctx, p.ID)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"removed": removed}), nil
}

func (s *Server) handlePendingOffer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	offer, err := s.duel.PendingOffer(ctx, p.ID)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(offer), nil
}

func (s *Server) handleAcceptOffer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	offerID, err := request.RequireString("offer_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	resp, svcErr := s.duel.AcceptOffer(ctx, p.ID, offerID)
	if svcErr != nil {
		return mapDomainError(svcErr), nil
	}
	return toolResult(resp), nil
}
