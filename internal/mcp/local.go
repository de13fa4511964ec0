package mcp

import (
	"context"
	"fmt"

	"github.com/ldi/casegen/internal/db"
	"github.com/ldi/casegen/internal/prompt"
	"github.com/ldi/casegen/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func listContextsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		contexts, err := database.ListContexts(ctx, mcp.ParseString(request, "business_type", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"contexts": contexts})
	}
}

func createContextHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		hc := &models.HistoryContext{
			Name:         mcp.ParseString(request, "name", ""),
			Content:      mcp.ParseString(request, "content", ""),
			BusinessType: mcp.ParseString(request, "business_type", ""),
		}
		if err := database.CreateContext(ctx, hc); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("History context '%s' saved", hc.Name)), nil
	}
}

func deleteContextHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name := mcp.ParseString(request, "name", "")
		hc, err := database.GetContextByName(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if hc == nil {
			return mcp.NewToolResultError(fmt.Sprintf("history context '%s' not found", name)), nil
		}
		if err := database.DeleteContext(ctx, hc.ID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("History context '%s' deleted", name)), nil
	}
}

func listVariablesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		vars, err := database.ListVariables(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"variables": vars})
	}
}

func renderTemplateHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		vars, err := database.ListVariables(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		values := make(map[string]string)
		if raw, ok := arguments(request)["values"].(map[string]any); ok {
			for k, v := range raw {
				values[k] = fmt.Sprint(v)
			}
		}

		res := prompt.Render(mcp.ParseString(request, "content", ""), values, vars)
		out := map[string]any{
			"content":    res.Content,
			"used":       res.Used,
			"missing":    res.Missing,
			"unresolved": res.Unresolved,
		}
		if len(res.Missing) > 0 {
			text, _ := jsonResult(out)
			text.IsError = true
			return text, nil
		}
		return jsonResult(out)
	}
}
