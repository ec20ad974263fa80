package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/metrics"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/relay"
)

// ServerName is the implementation name reported to MCP clients.
const ServerName = "Revit MCP Server"

const methodToolsCall = "tools/call"

// Server exposes the relay's tools over MCP.
type Server struct {
	relay   *relay.Relay
	sdk     *mcp.Server
	version string
	logger  *slog.Logger
}

// NewServer creates an MCP server with every relay tool registered.
func NewServer(toolRelay *relay.Relay, version string, logger *slog.Logger) (result *Server) {
	sdkServer := mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: version},
		&mcp.ServerOptions{Logger: logger},
	)

	result = &Server{
		relay:   toolRelay,
		sdk:     sdkServer,
		version: version,
		logger:  logger,
	}

	for _, tool := range toolRelay.Tools() {
		sdkServer.AddTool(toMCPTool(tool), result.toolHandler(tool.Name))
	}

	sdkServer.AddReceivingMiddleware(result.loggingMiddleware)

	logger.Info("MCP server initialized", slog.Int("tools", len(toolRelay.Tools())))

	return result
}

// SDK returns the underlying go-sdk server.
func (s *Server) SDK() (server *mcp.Server) {
	server = s.sdk
	return server
}

// Version returns the version reported to MCP clients.
func (s *Server) Version() (version string) {
	version = s.version
	return version
}

// Run serves a single session over transport until it ends or ctx is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) (err error) {
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	err = s.sdk.Run(ctx, transport)
	if err != nil && ctx.Err() == nil {
		err = fmt.Errorf("serving MCP session: %w", err)
		return err
	}

	err = nil
	return err
}

// RunStdio serves MCP over stdin/stdout. Logs must go to stderr.
func (s *Server) RunStdio(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "MCP server started", slog.String("transport", string(TransportStdio)))

	err = s.Run(ctx, &mcp.StdioTransport{})
	return err
}

func (s *Server) toolHandler(name string) (handler mcp.ToolHandler) {
	handler = func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.Session != nil {
			ctx = relay.WithNotifier(ctx, s.sessionNotifier(req.Session))
		}

		resp := s.relay.Call(ctx, name, req.Params.Arguments)
		return relay.ToCallToolResult(resp), nil
	}

	return handler
}

// sessionNotifier sends progress as MCP log notifications at info level.
// The SDK drops them until the client sets a logging level.
func (s *Server) sessionNotifier(session *mcp.ServerSession) (notify relay.Notifier) {
	notify = func(ctx context.Context, message string) {
		err := session.Log(ctx, &mcp.LoggingMessageParams{
			Level:  "info",
			Logger: ServerName,
			Data:   message,
		})
		if err != nil {
			s.logger.DebugContext(ctx, "sending progress notification failed", slog.String("error", err.Error()))
		}
	}

	return notify
}

// loggingMiddleware logs every MCP request the server receives.
func (s *Server) loggingMiddleware(next mcp.MethodHandler) (wrapped mcp.MethodHandler) {
	wrapped = func(ctx context.Context, method string, req mcp.Request) (result mcp.Result, err error) {
		start := time.Now()

		result, err = next(ctx, method, req)

		attrs := []any{
			slog.String("method", method),
			slog.Duration("duration", time.Since(start)),
		}

		if method == methodToolsCall {
			if call, ok := req.(*mcp.CallToolRequest); ok {
				attrs = append(attrs, slog.String("tool", call.Params.Name))
			}
			if toolResult, ok := result.(*mcp.CallToolResult); ok {
				attrs = append(attrs, slog.Bool("is_error", toolResult.IsError))
			}
		}

		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			s.logger.WarnContext(ctx, "MCP request failed", attrs...)
			return result, err
		}

		s.logger.DebugContext(ctx, "MCP request handled", attrs...)
		return result, err
	}

	return wrapped
}

func toMCPTool(tool *relay.Tool) (result *mcp.Tool) {
	openWorld := false
	destructive := tool.Destructive

	result = &mcp.Tool{
		Name:        tool.Name,
		Title:       tool.Title,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
		Annotations: &mcp.ToolAnnotations{
			Title:           tool.Title,
			ReadOnlyHint:    tool.ReadOnly,
			DestructiveHint: &destructive,
			IdempotentHint:  tool.ReadOnly,
			OpenWorldHint:   &openWorld,
		},
	}

	return result
}
