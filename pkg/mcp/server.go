// Package mcp implements a Model Context Protocol server exposing coverage
// merging and runner detection as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/version"
)

const serverName = "coverage-runner"

// spanPrefix names tool-call spans, e.g. "mcp.coverage_merge".
const spanPrefix = "mcp."

// traceIDKey prefixes the trace reference appended to sampled results.
const traceIDKey = "trace_id"

const (
	mergeToolDescription = "Merge coverage reports (LCOV, Cobertura XML, Istanbul JSON) matched by glob patterns " +
		"into one report set. Returns file counts, totals and written output paths."

	detectToolDescription = "Detect the JavaScript test runners (jest, vitest, mocha, ava) " +
		"configured in a project's package.json."
)

// ServerDeps are the collaborators of a Server. Nil fields fall back to
// no-op telemetry and the OS filesystem.
type ServerDeps struct {
	Logger *slog.Logger

	// Metrics counts tool calls.
	Metrics *observability.ToolMetrics

	// Tracer opens one span per tool call.
	Tracer trace.Tracer

	// Fs is where merge reads inputs and writes reports.
	Fs afero.Fs
}

// Server exposes the coverage tools over MCP.
type Server struct {
	inner   *mcpsdk.Server
	tools   []string
	metrics *observability.ToolMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
	fs      afero.Fs
}

// NewServer creates a server with every coverage tool registered.
func NewServer(deps ServerDeps) *Server {
	srv := &Server{
		inner: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: serverName, Version: version.Version},
			&mcpsdk.ServerOptions{Logger: deps.Logger},
		),
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		logger:  observability.OrDiscard(deps.Logger),
		fs:      deps.Fs,
	}

	if srv.fs == nil {
		srv.fs = afero.NewOsFs()
	}

	addTool(srv, ToolNameMerge, mergeToolDescription, srv.handleMerge)
	addTool(srv, ToolNameDetect, detectToolDescription, srv.handleDetect)

	return srv
}

// ListToolNames returns the registered tool names, sorted.
func (s *Server) ListToolNames() []string {
	return slices.Sorted(slices.Values(s.tools))
}

// Run serves on stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport serves on transport until ctx is canceled or the
// connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	runErr := s.inner.Run(ctx, transport)
	if runErr != nil {
		return fmt.Errorf("mcp server: %w", runErr)
	}

	return nil
}

// addTool registers handler under name, wrapped in a span and call metrics.
func addTool[In any](
	s *Server,
	name, description string,
	handler func(context.Context, *mcpsdk.CallToolRequest, In) (*mcpsdk.CallToolResult, ToolOutput, error),
) {
	instrumented := func(
		ctx context.Context, req *mcpsdk.CallToolRequest, input In,
	) (*mcpsdk.CallToolResult, ToolOutput, error) {
		done := s.metrics.Begin(ctx, name)

		var span trace.Span
		if s.tracer != nil {
			ctx, span = s.tracer.Start(ctx, spanPrefix+name,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("mcp.tool", name)),
			)
		}

		result, output, err := handler(ctx, req, input)

		failed := err != nil || (result != nil && result.IsError)
		if failed {
			s.logger.WarnContext(ctx, "tool call failed", "tool", name, "error", toolError(result, err))
		}

		if span != nil {
			appendTraceID(result, span.SpanContext())
			span.End()
		}

		done(failed)

		return result, output, err
	}

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{Name: name, Description: description}, instrumented)

	s.tools = append(s.tools, name)
}

// appendTraceID lets a client quote the trace behind a sampled result.
func appendTraceID(result *mcpsdk.CallToolResult, sc trace.SpanContext) {
	if result == nil || !sc.IsSampled() {
		return
	}

	result.Content = append(result.Content, &mcpsdk.TextContent{Text: traceIDKey + "=" + sc.TraceID().String()})
}

func toolError(result *mcpsdk.CallToolResult, err error) string {
	if err != nil {
		return err.Error()
	}

	if len(result.Content) > 0 {
		if text, ok := result.Content[0].(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}

	return "unknown"
}
