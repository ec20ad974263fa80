// Package relay maps MCP tool calls onto Route Host requests and renders the results.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/metrics"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/routehost"
)

// Arguments are the decoded arguments of one tool call.
type Arguments map[string]any

// String returns the string argument key, or "" when absent.
func (a Arguments) String(key string) (value string) {
	value, _ = a[key].(string)
	return value
}

// Int returns the integer argument key, or fallback when absent or not a whole number.
func (a Arguments) Int(key string, fallback int64) (value int64) {
	value = fallback

	switch v := a[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			value = n
		}
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			value = int64(v)
		}
	}

	return value
}

// Handler performs exactly one Route Host call for a tool.
type Handler func(ctx context.Context, host *routehost.Client, args Arguments) (resp routehost.Response)

// Tool is one MCP tool backed by a Route Host endpoint.
type Tool struct {
	Name        string
	Title       string
	Description string
	InputSchema *jsonschema.Schema
	// ReadOnly tools never modify the Revit model.
	ReadOnly bool
	// Destructive tools may remove or overwrite existing model state.
	Destructive bool
	// Progress is sent to the client's notifier before the Route Host call.
	Progress string
	Handler  Handler

	resolved *jsonschema.Resolved
}

// Notifier delivers a progress message to the client that made a call.
type Notifier func(ctx context.Context, message string)

type notifierKey struct{}

// WithNotifier returns a context whose tool calls report progress to notify.
func WithNotifier(ctx context.Context, notify Notifier) (out context.Context) {
	out = context.WithValue(ctx, notifierKey{}, notify)
	return out
}

func notifierFrom(ctx context.Context) (notify Notifier) {
	notify, _ = ctx.Value(notifierKey{}).(Notifier)
	return notify
}

// Relay owns the tool set and the Route Host client the tools call.
type Relay struct {
	host      *routehost.Client
	logger    *slog.Logger
	sanitizer *Sanitizer
	tools     []*Tool
	byName    map[string]*Tool
}

// New builds a Relay exposing the default Revit tools.
func New(host *routehost.Client, logger *slog.Logger) (relay *Relay, err error) {
	if host == nil {
		err = errors.New("route host client is required")
		return relay, err
	}

	tools, err := DefaultTools(host.Catalog())
	if err != nil {
		err = fmt.Errorf("building tools: %w", err)
		return relay, err
	}

	relay, err = NewWithTools(host, logger, tools...)
	return relay, err
}

// NewWithTools builds a Relay exposing exactly the given tools.
func NewWithTools(host *routehost.Client, logger *slog.Logger, tools ...*Tool) (relay *Relay, err error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	relay = &Relay{
		host:      host,
		logger:    logger,
		sanitizer: NewSanitizer(),
		byName:    make(map[string]*Tool, len(tools)),
	}

	for _, tool := range tools {
		if tool.Handler == nil {
			err = fmt.Errorf("tool %s has no handler", tool.Name)
			return nil, err
		}
		if tool.InputSchema == nil || tool.InputSchema.Type != "object" {
			err = fmt.Errorf("tool %s: input schema must have type object", tool.Name)
			return nil, err
		}
		if _, exists := relay.byName[tool.Name]; exists {
			err = fmt.Errorf("duplicate tool %s", tool.Name)
			return nil, err
		}

		tool.resolved, err = tool.InputSchema.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			err = fmt.Errorf("resolving %s input schema: %w", tool.Name, err)
			return nil, err
		}

		relay.tools = append(relay.tools, tool)
		relay.byName[tool.Name] = tool
	}

	return relay, err
}

// Tools returns the registered tools in registration order.
func (r *Relay) Tools() (tools []*Tool) {
	tools = r.tools
	return tools
}

// Lookup returns the tool registered under name.
func (r *Relay) Lookup(name string) (tool *Tool, ok bool) {
	tool, ok = r.byName[name]
	return tool, ok
}

// Call decodes and validates raw arguments, then runs the tool.
// It always returns exactly one of success or failure.
func (r *Relay) Call(ctx context.Context, name string, raw json.RawMessage) (resp routehost.Response) {
	start := time.Now()

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.ErrorContext(ctx, "tool handler panicked",
				slog.String("tool", name),
				slog.Any("panic", recovered),
			)
			resp = routehost.Failure(name, routehost.ClassApplication, 0, fmt.Sprintf("internal error in %s: %v", name, recovered), nil)
		}

		metrics.ToolCallsTotal.WithLabelValues(name, metrics.OutcomeLabel(resp.OK())).Inc()

		r.logger.InfoContext(ctx, "tool call finished",
			slog.String("tool", name),
			slog.String("outcome", resp.Kind.String()),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	tool, ok := r.byName[name]
	if !ok {
		resp = routehost.CallerFailure(name, fmt.Sprintf("unknown tool %q", name))
		return resp
	}

	args, err := tool.decode(raw)
	if err != nil {
		resp = routehost.CallerFailure(name, err.Error())
		return resp
	}

	if tool.Destructive {
		preview, redactions := r.sanitizer.auditPreview(args)
		r.logger.InfoContext(ctx, "destructive tool invoked",
			slog.String("tool", name),
			slog.String("arguments", preview),
			slog.Any("redacted", redactions),
		)
	}

	if notify := notifierFrom(ctx); notify != nil && tool.Progress != "" {
		notify(ctx, tool.Progress)
	}

	resp = tool.Handler(ctx, r.host, args)
	return resp
}

// decode validates raw against the tool schema and returns the arguments to forward.
// Numbers in the forwarded copy stay json.Number so large integers reach the Route Host unchanged.
func (t *Tool) decode(raw json.RawMessage) (args Arguments, err error) {
	args = Arguments{}
	checked := map[string]any{}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		err = json.Unmarshal(trimmed, &checked)
		if err != nil {
			err = fmt.Errorf("arguments for %s must be a JSON object: %w", t.Name, err)
			return nil, err
		}
		if checked == nil {
			checked = map[string]any{}
		}

		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		err = dec.Decode(&args)
		if err != nil {
			err = fmt.Errorf("arguments for %s must be a JSON object: %w", t.Name, err)
			return nil, err
		}
		if args == nil {
			args = Arguments{}
		}
	}

	err = t.resolved.Validate(checked)
	if err != nil {
		err = fmt.Errorf("invalid arguments for %s: %w", t.Name, err)
		return nil, err
	}

	instance := map[string]any(args)

	err = t.resolved.ApplyDefaults(&instance)
	if err != nil {
		err = fmt.Errorf("applying defaults for %s: %w", t.Name, err)
		return nil, err
	}

	args = Arguments(instance)
	return args, err
}
