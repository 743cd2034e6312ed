package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/shopbot/internal/cart"
	"github.com/kalambet/shopbot/internal/dialogue"
	"github.com/kalambet/shopbot/internal/retrieval"
)

// mcpSession is the session used when a tool call does not name one.
const mcpSession = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Bot     *dialogue.Bot
	Catalog dialogue.Catalog
}

// NewMCPServer creates an MCP server with the shop tools and resources
// registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"shopbot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shopbot: product search, cart and order tracking for the store catalog."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Search the catalog with a free-text query such as \"shoes under 2000\"."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session; follow-up queries reuse its last category")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of products (default 10)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("add_to_cart",
			mcp.WithDescription("Resolve a product mention and add one unit to the session cart."),
			mcp.WithString("product", mcp.Description("Product name, possibly misspelled"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session")),
		),
		mcpAddToCart(deps),
	)

	s.AddTool(
		mcp.NewTool("track_order",
			mcp.WithDescription("Report the status and expected delivery date of an order."),
			mcp.WithString("order_id", mcp.Description("Order ID, e.g. ORD001"), mcp.Required()),
		),
		mcpTrackOrder(deps),
	)

	s.AddTool(
		mcp.NewTool("check_stock",
			mcp.WithDescription("Report stock status for products mentioned in the text."),
			mcp.WithString("text", mcp.Description("Product names or a stock question"), mcp.Required()),
		),
		mcpCheckStock(deps),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send one chat message to the shop assistant and return its reply."),
			mcp.WithString("message", mcp.Description("User message"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Conversation session")),
		),
		mcpChat(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://categories",
			"Catalog Categories",
			mcp.WithResourceDescription("Product categories in the loaded catalog"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(deps),
	)

	return s
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		sessionID := req.GetString("session_id", mcpSession)

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		res, err := deps.Bot.Search(ctx, sessionID, query)
		if errors.Is(err, retrieval.ErrNoResults) {
			return mcpText("[]"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		products := res.Products
		if len(products) > limit {
			products = products[:limit]
		}
		return mcpJSON(products)
	}
}

func mcpAddToCart(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		product, err := req.RequireString("product")
		if err != nil {
			return mcpError("product is required"), nil
		}
		sessionID := req.GetString("session_id", mcpSession)

		res, err := deps.Bot.AddToCart(ctx, sessionID, product)
		switch {
		case errors.Is(err, cart.ErrEmptyQuery):
			return mcpError("product name is empty after cleanup"), nil
		case errors.Is(err, cart.ErrNoMatch):
			return mcpError(err.Error()), nil
		case err != nil:
			return mcpError(fmt.Sprintf("add to cart failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpTrackOrder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("order_id")
		if err != nil {
			return mcpError("order_id is required"), nil
		}

		view, err := deps.Bot.Order(id)
		if errors.Is(err, dialogue.ErrOrderNotFound) {
			return mcpError(fmt.Sprintf("order %s not found", view.ID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("tracking failed: %v", err)), nil
		}
		return mcpJSON(view)
	}
}

func mcpCheckStock(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		found := deps.Bot.CheckStock(text)
		if len(found) == 0 {
			return mcpText("[]"), nil
		}

		type stock struct {
			Name        string `json:"product_name"`
			StockStatus string `json:"stock_status"`
		}
		out := make([]stock, len(found))
		for i, p := range found {
			out[i] = stock{Name: p.Name, StockStatus: p.StockStatus}
		}
		return mcpJSON(out)
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		sessionID := req.GetString("session_id", mcpSession)

		reply, err := deps.Bot.Handle(ctx, sessionID, msg)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(reply.Text), nil
	}
}

func mcpResourceCategories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Catalog.Current().Index.Categories())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
