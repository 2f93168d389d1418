package mcpserver

import (
	"errors"
	"fmt"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/matchmaking"
	"quizduel/internal/realtime"

	"github.com/mark3labs/mcp-go/mcp"
)

func toolResult(data any) *mcp.CallToolResult {
	return mcp.NewToolResultStructuredOnly(data)
}

func toolError(code, message string) *mcp.CallToolResult {
	result := mcp.NewToolResultStructured(
		map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": message,
			},
		},
		fmt.Sprintf("%s: %s", code, message),
	)
	result.IsError = true
	return result
}

// conflictError reports a lost fencing race together with the state the
// winner produced, so the agent can resync without another call.
func conflictError(c *duel.ConflictError) *mcp.CallToolResult {
	code := realtime.ErrorCode(c.Err)
	result := mcp.NewToolResultStructured(
		map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": c.Error(),
			},
			"state": c.State,
		},
		fmt.Sprintf("%s: round is at phase_seq %d", code, conflictSeq(c)),
	)
	result.IsError = true
	return result
}

func conflictSeq(c *duel.ConflictError) int64 {
	if c.State.Round == nil {
		return 0
	}
	return c.State.Round.PhaseSeq
}

func mapDomainError(err error) *mcp.CallToolResult {
	var conflict *duel.ConflictError
	switch {
	case err == nil:
		return toolError("internal_error", "unknown error")
	case errors.As(err, &conflict):
		return conflictError(conflict)
	case errors.Is(err, duel.ErrInvalidRequest),
		errors.Is(err, player.ErrInvalidRequest),
		errors.Is(err, matchmaking.ErrInvalidBucket):
		return toolError("invalid_request", err.Error())
	case errors.Is(err, player.ErrUnauthorized):
		return toolError("unauthorized", err.Error())
	case errors.Is(err, matchmaking.ErrSelfPlayDisabled):
		return toolError(matchmaking.ErrSelfPlayDisabled.Error(), err.Error())
	default:
		return toolError(realtime.ErrorCode(err), err.Error())
	}
}
