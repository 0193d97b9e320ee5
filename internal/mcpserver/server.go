package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all sentinel tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("sentinel", "2.0.0")
	h := NewHandlers(NewSentinelClient(cfg))

	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolSealPayment, h.HandleSealPayment)
	s.AddTool(ToolVerifyWitness, h.HandleVerifyWitness)
	s.AddTool(ToolListAuditBlocks, h.HandleListAuditBlocks)
	s.AddTool(ToolGetEngineHealth, h.HandleGetEngineHealth)
	s.AddTool(ToolGetEngineConfig, h.HandleGetEngineConfig)
	s.AddTool(ToolListAssessments, h.HandleListAssessments)

	return s
}
