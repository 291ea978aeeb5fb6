package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"

	"github.com/spigell/zhipin-responder/internal/logger"
	"github.com/spigell/zhipin-responder/internal/tools"
)

const (
	serverName = "zhipin-responder"

	instructions = "Log in first, then load a résumé. Searching, recommending and greeting " +
		"are paced by the session; a captcha is solved by the operator in the browser " +
		"window, after which login is called again."
)

// NewMCP builds an MCP server exposing every toolkit operation as a tool.
// It is shared by the stdio and the streamable HTTP transports.
func NewMCP(toolkit Toolkit, version string, log *zap.Logger) *mcp.Server {
	if log == nil {
		log = zap.NewNop()
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, &mcp.ServerOptions{
		Instructions: instructions,
		Logger:       slog.New(zapslog.NewHandler(log.Core(), zapslog.WithName("mcp"))),
	})

	for _, def := range tools.Definitions() {
		srv.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}, toolHandler(toolkit, def.Name, log))
	}

	return srv
}

// toolHandler runs one tool. Tool failures are reported inside the result
// with isError set; only malformed arguments are protocol errors.
func toolHandler(toolkit Toolkit, name string, log *zap.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, &jsonrpc.Error{
					Code:    jsonrpc.CodeInvalidParams,
					Message: fmt.Sprintf("arguments of %s must be an object: %v", name, err),
				}
			}
		}

		result, err := toolkit.Call(ctx, name, args)
		if errors.Is(err, tools.ErrUnknownTool) {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: err.Error()}
		}

		text, merr := encodeOutcome(result, err)
		if merr != nil {
			log.Error("encode tool result", zap.String(logger.FieldTool, name), zap.Error(merr))
			return nil, fmt.Errorf("encode %s result: %w", name, merr)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
			IsError: err != nil,
		}, nil
	}
}

// encodeOutcome renders {success, error, result} as indented JSON, the text
// an agent reads back.
func encodeOutcome(result any, callErr error) (string, error) {
	payload := map[string]any{"success": callErr == nil}
	if callErr != nil {
		payload["error"] = callErr.Error()
	}
	if raw, err := json.Marshal(result); err == nil && string(raw) != "null" {
		payload["result"] = json.RawMessage(raw)
	}

	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(text), nil
}
