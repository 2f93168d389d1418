package mcpserver

import (
	"context"
	"net/http"
	"strings"

	"quizduel/internal/app/duel"
	"quizduel/internal/app/player"
	"quizduel/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the duel operations as MCP tools so agents can play
// without a socket. Every tool authenticates with the player's api_key.
type Server struct {
	players *player.Service
	duel    *duel.Service

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(players *player.Service, duelSvc *duel.Service) *Server {
	mcpSrv := server.NewMCPServer(
		"quizduel",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s := &Server{
		players:    players,
		duel:       duelSvc,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerQueueTools()
	s.registerMatchTools()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) authPlayer(ctx context.Context, request mcp.CallToolRequest) (*store.Player, *mcp.CallToolResult) {
	apiKey := strings.TrimSpace(request.GetString("api_key", ""))
	if apiKey == "" {
		return nil, toolError("invalid_request", "api_key is required")
	}
	p, err := s.players.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, toolError("unauthorized", "invalid api_key")
	}
	return p, nil
}

func apiKeyParam() mcp.ToolOption {
	return mcp.WithString("api_key", mcp.Required(), mcp.Description("Player api key"))
}
