package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"marketplace-mcp/backend/internal/services"
	"marketplace-mcp/backend/pkg/models"
)

// Server exposes the marketplace registry and memory augmentation as MCP
// tools for the conversational layer.
type Server struct {
	mcpServer    *server.MCPServer
	marketplace  *services.MarketplaceService
	memoryClient services.MemoryClient
}

func NewServer(marketplace *services.MarketplaceService, memoryClient services.MemoryClient) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Marketplace Registry",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		marketplace:  marketplace,
		memoryClient: memoryClient,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"search_servers",
			mcp.WithDescription("Search the marketplace registry for installable servers"),
			mcp.WithString("query", mcp.Description("Substring matched against name, description, and tags")),
			mcp.WithString("category", mcp.Description("Restrict to one category")),
			mcp.WithBoolean("official_only", mcp.Description("Restrict to official servers")),
		),
		s.handleSearchServers,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_server_details",
			mcp.WithDescription("Get one marketplace server by exact name"),
			mcp.WithString("name", mcp.Required(), mcp.Description("The server name")),
		),
		s.handleGetServerDetails,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"recommend_servers",
			mcp.WithDescription("Recommend marketplace servers for a project type"),
			mcp.WithString("project_type", mcp.Required(), mcp.Description("Project type, e.g. web_development, data_science, devops, content_management")),
		),
		s.handleRecommendServers,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"install_server",
			mcp.WithDescription("Mark a marketplace server installed"),
			mcp.WithString("name", mcp.Required(), mcp.Description("The server name")),
		),
		s.handleInstallServer,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_installed",
			mcp.WithDescription("List installed marketplace servers"),
		),
		s.handleListInstalled,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"store_context",
			mcp.WithDescription("Store free-text project context for later recall"),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("The project scope")),
			mcp.WithString("text", mcp.Required(), mcp.Description("The context text to store")),
			mcp.WithString("document_id", mcp.Description("Optional caller-assigned document id")),
		),
		s.handleStoreContext,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"recall_context",
			mcp.WithDescription("Recall stored project context relevant to a query"),
			mcp.WithString("project_id", mcp.Required(), mcp.Description("The project scope")),
			mcp.WithString("query", mcp.Required(), mcp.Description("The query to rank context against")),
			mcp.WithNumber("limit", mcp.Description("Maximum documents to return (default 5)")),
		),
		s.handleRecallContext,
	)
}

func (s *Server) handleSearchServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	opts := models.SearchOptions{}
	if query, ok := args["query"].(string); ok {
		opts.Query = query
	}
	if raw, ok := args["category"].(string); ok && raw != "" {
		category := models.Category(raw)
		if !category.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("Unknown category: %s", raw)), nil
		}
		opts.Category = &category
	}
	if officialOnly, ok := args["official_only"].(bool); ok {
		opts.OfficialOnly = officialOnly
	}

	results, err := s.marketplace.Search(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v", err)), nil
	}

	s.marketplace.RecordInteraction(ctx, "search",
		map[string]any{"query": opts.Query, "official_only": opts.OfficialOnly},
		fmt.Sprintf("search returned %d results", len(results)))

	jsonBytes, _ := json.Marshal(results)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetServerDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("Missing required parameter: name"), nil
	}

	descriptor, err := s.marketplace.GetServer(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get server: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(descriptor)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecommendServers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	projectType, ok := args["project_type"].(string)
	if !ok || projectType == "" {
		return mcp.NewToolResultError("Missing required parameter: project_type"), nil
	}

	results, err := s.marketplace.Recommend(ctx, projectType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to recommend: %v", err)), nil
	}

	s.marketplace.RecordInteraction(ctx, "recommendation",
		map[string]any{"project_type": projectType},
		fmt.Sprintf("recommended %d servers", len(results)))

	jsonBytes, _ := json.Marshal(results)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleInstallServer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("Missing required parameter: name"), nil
	}

	descriptor, err := s.marketplace.Install(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to install: %v", err)), nil
	}

	s.marketplace.RecordInteraction(ctx, "installation",
		map[string]any{"name": name},
		fmt.Sprintf("installed %s", name))

	jsonBytes, _ := json.Marshal(descriptor)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListInstalled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, err := s.marketplace.ListInstalled(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list installed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(results)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleStoreContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	projectID, ok := args["project_id"].(string)
	if !ok || projectID == "" {
		return mcp.NewToolResultError("Missing required parameter: project_id"), nil
	}
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return mcp.NewToolResultError("Missing required parameter: text"), nil
	}
	documentID, _ := args["document_id"].(string)

	result := s.memoryClient.AddDocument(ctx, projectID, text, documentID, nil)
	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecallContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	projectID, ok := args["project_id"].(string)
	if !ok || projectID == "" {
		return mcp.NewToolResultError("Missing required parameter: project_id"), nil
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}
	limit := 0
	if raw, ok := args["limit"].(float64); ok {
		limit = int(raw)
	}

	result := s.memoryClient.Query(ctx, projectID, query, limit)
	if !result.Success {
		// Degrade to an empty context rather than failing the caller.
		fallback := services.MemoryQueryResult{
			Documents: []services.MemoryDocument{},
			Reason:    result.Reason,
		}
		jsonBytes, _ := json.Marshal(fallback)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
