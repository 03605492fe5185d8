package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all reputation tools
// registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("tontine-connect", "1.0.0", server.WithToolCapabilities(false))
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolGetReputation, h.HandleGetReputation)
	s.AddTool(ToolGetLeaderboard, h.HandleGetLeaderboard)
	s.AddTool(ToolListUserReputation, h.HandleListUserReputation)
	s.AddTool(ToolListBadges, h.HandleListBadges)

	return s
}
