package mcpserver

import (
	"context"

	"quizduel/internal/app/duel"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerMatchTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"match_state",
			mcp.WithDescription("Current match and round state as seen by the caller"),
			apiKeyParam(),
			mcp.WithString("match_id", mcp.Required(), mcp.Description("Match id")),
		),
		s.handleMatchState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"submit_answer",
			mcp.WithDescription("Answer a step during the choosing phase. Resubmitting returns the recorded answer."),
			apiKeyParam(),
			mcp.WithString("match_id", mcp.Required(), mcp.Description("Match id")),
			mcp.WithString("round_id", mcp.Required(), mcp.Description("Round id")),
			mcp.WithString("step_id", mcp.Required(), mcp.Description("Step id from match_state")),
			mcp.WithNumber("option_index", mcp.Required(), mcp.Description("Zero-based option index")),
		),
		s.handleSubmitAnswer,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"ready_for_options",
			mcp.WithDescription("Signal that the caller has read the question and wants the options shown"),
			apiKeyParam(),
			mcp.WithString("match_id", mcp.Required(), mcp.Description("Match id")),
		),
		s.handleReadyForOptions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_round_phase",
			mcp.WithDescription("Advance the round when the current phase deadline has passed. Fenced by expected_phase_seq; a stale caller gets phase_already_advanced with the current state."),
			apiKeyParam(),
			mcp.WithString("match_id", mcp.Required(), mcp.Description("Match id")),
			mcp.WithString("round_id", mcp.Required(), mcp.Description("Round id")),
			mcp.WithNumber("expected_phase_seq", mcp.Required(), mcp.Description("phase_seq the caller last observed")),
		),
		s.handleAdvanceRoundPhase,
	)
}

func (s *Server) handleMatchState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	matchID, err := request.RequireString("match_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	st, svcErr := s.duel.MatchState(ctx, p.ID, matchID)
	if svcErr != nil {
		return mapDomainError(svcErr), nil
	}
	return toolResult(st), nil
}

func (s *Server) handleSubmitAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	var in duel.AnswerInput
	var err error
	if in.MatchID, err = request.RequireString("match_id"); err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	if in.RoundID, err = request.RequireString("round_id"); err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	if in.StepID, err = request.RequireString("step_id"); err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	idx, err := request.RequireInt("option_index")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	in.OptionIndex = &idx
	resp, svcErr := s.duel.SubmitAnswer(ctx, p.ID, in)
	if svcErr != nil {
		return mapDomainError(svcErr), nil
	}
	return toolResult(resp), nil
}

func (s *Server) handleReadyForOptions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	matchID, err := request.RequireString("match_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	if err := s.duel.ReadyForOptions(ctx, p.ID, matchID); err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"ok": true}), nil
}

func (s *Server) handleAdvanceRoundPhase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, authErr := s.authPlayer(ctx, request)
	if authErr != nil {
		return authErr, nil
	}
	var in duel.AdvanceInput
	var err error
	if in.MatchID, err = request.RequireString("match_id"); err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	if in.RoundID, err = request.RequireString("round_id"); err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	seq, err := request.RequireInt("expected_phase_seq")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	in.ExpectedPhaseSeq = int64(seq)
	resp, svcErr := s.duel.AdvancePhase(ctx, p.ID, in)
	if svcErr != nil {
		return mapDomainError(svcErr), nil
	}
	return toolResult(resp), nil
}
