package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"linkcleaner/internal/cleaner"
)

func cmdMCP() {
	cl := newCleaner(loadConfig())

	srv := mcp.NewServer(&mcp.Implementation{Name: "linkcleaner", Version: version}, nil)
	registerTools(srv, cl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "mcp: %v\n", err)
		os.Exit(1)
	}
}

type cleanArgs struct {
	Text string `json:"text"`
}

var textSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{
			"type":        "string",
			"description": "Text containing links to clean",
		},
	},
	"required": []string{"text"},
}

func registerTools(srv *mcp.Server, cl *cleaner.Cleaner) {
	srv.AddTool(&mcp.Tool{
		Name:        "clean_text",
		Description: "Remove tracking parameters (utm_*, fbclid, gclid, si, ...) from every link in a text and return the cleaned text.",
		InputSchema: textSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, errRes := decodeArgs(req)
		if errRes != nil {
			return errRes, nil
		}
		return textResult(cl.Clean(args.Text)), nil
	})

	srv.AddTool(&mcp.Tool{
		Name:        "clean_text_report",
		Description: "Clean a text like clean_text and report how many links were found and modified and how many parameters were removed.",
		InputSchema: textSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, errRes := decodeArgs(req)
		if errRes != nil {
			return errRes, nil
		}
		data, err := json.Marshal(cl.CleanWithReport(args.Text))
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return textResult(string(data)), nil
	})
}

func decodeArgs(req *mcp.CallToolRequest) (*cleanArgs, *mcp.CallToolResult) {
	var args cleanArgs
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		var res mcp.CallToolResult
		res.SetError(fmt.Errorf("invalid arguments: %w", err))
		return nil, &res
	}
	return &args, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
