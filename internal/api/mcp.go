package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/workspace"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Root *workspace.Root
	Book *reminder.Book
	// DefaultUser is used when a tool call omits user_id.
	DefaultUser string
	Wake        chan<- struct{}
}

// NewMCPServer creates an MCP server exposing reminders and memory as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aide",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("aide: personal assistant memory and reminders stored as markdown."),
		server.WithRecovery(),
	)

	userOpt := mcp.WithString("user_id", mcp.Description("User identifier (defaults to the local user)"))

	s.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Add a reminder. due is local time like 2024-02-01T17:00; omit it for an undated reminder."),
			userOpt,
			mcp.WithString("text", mcp.Description("What to be reminded of"), mcp.Required()),
			mcp.WithString("due", mcp.Description("Due time, YYYY-MM-DDTHH:MM")),
		),
		mcpAddReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List a user's reminders as JSON."),
			userOpt,
			mcp.WithString("status", mcp.Description("open, completed or all (default all)")),
		),
		mcpListReminders(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_reminder",
			mcp.WithDescription("Mark a reminder completed, by id or by a piece of its text."),
			userOpt,
			mcp.WithString("id", mcp.Description("Reminder id")),
			mcp.WithString("text", mcp.Description("Text contained in the reminder, used when id is omitted")),
		),
		mcpCompleteReminder(deps),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Append a note to the user's memory document."),
			userOpt,
			mcp.WithString("content", mcp.Description("Markdown note to store"), mcp.Required()),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("read_memory",
			mcp.WithDescription("Return the user's memory document."),
			userOpt,
		),
		mcpReadMemory(deps),
	)

	return s
}

func mcpUser(deps MCPDeps, req mcp.CallToolRequest) string {
	return req.GetString("user_id", deps.DefaultUser)
}

func mcpAddReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		r, err := deps.Book.Add(ctx, mcpUser(deps, req), text, req.GetString("due", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add reminder: %v", err)), nil
		}
		if deps.Wake != nil {
			select {
			case deps.Wake <- struct{}{}:
			default:
			}
		}
		return mcpText(fmt.Sprintf("Added reminder %s", r.ID)), nil
	}
}

func mcpListReminders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := deps.Book.List(ctx, mcpUser(deps, req))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reminders: %v", err)), nil
		}
		status := req.GetString("status", "all")
		out := make([]reminder.Reminder, 0, len(list))
		for _, r := range list {
			if (status == "open" && r.Completed) || (status == "completed" && !r.Completed) {
				continue
			}
			out = append(out, r)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reminders: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCompleteReminder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := mcpUser(deps, req)
		id := req.GetString("id", "")
		text := req.GetString("text", "")

		var ok bool
		var err error
		switch {
		case id != "":
			ok, err = deps.Book.Complete(ctx, userID, id)
		case text != "":
			ok, err = deps.Book.MarkComplete(ctx, userID, text)
		default:
			return mcpError("one of id or text is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to complete reminder: %v", err)), nil
		}
		if !ok {
			return mcpError("no matching open reminder"), nil
		}
		return mcpText("Reminder completed"), nil
	}
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		u, err := deps.Root.User(mcpUser(deps, req))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := u.AppendMemory(content); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText("Stored in memory"), nil
	}
}

func mcpReadMemory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		u, err := deps.Root.User(mcpUser(deps, req))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		content, err := u.ReadMemory()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read memory: %v", err)), nil
		}
		return mcpText(content), nil
	}
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
