package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/mcp"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
)

const lcovFixture = `TN:
SF:src/index.ts
DA:1,3
DA:2,0
end_of_record
`

// connect starts srv on an in-memory transport and returns a client session.
func connect(t *testing.T, srv *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()

		cancel()
		<-serverDone
	})

	return session
}

func textOf(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	return text.Text
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()

	srv := mcp.NewServer(mcp.ServerDeps{Fs: afero.NewMemMapFs()})
	assert.Equal(t, []string{mcp.ToolNameDetect, mcp.ToolNameMerge}, srv.ListToolNames())

	session := connect(t, srv)

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
		assert.NotNil(t, tool.InputSchema, "tool %s missing input schema", tool.Name)
	}

	assert.ElementsMatch(t, []string{"coverage_merge", "coverage_detect"}, names)
}

func TestServer_Merge(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/a/lcov.info", []byte(lcovFixture), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/proj/b/lcov.info", []byte(lcovFixture), 0o644))

	session := connect(t, mcp.NewServer(mcp.ServerDeps{Fs: fs}))

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: mcp.ToolNameMerge,
		Arguments: map[string]any{
			"patterns":   []string{"**/lcov.info"},
			"output_dir": "/proj/merged",
			"base_dir":   "/proj",
			"formats":    []string{"json"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, textOf(t, result))

	var payload struct {
		Success        bool     `json:"success"`
		FilesProcessed int      `json:"filesProcessed"`
		UniqueFiles    int      `json:"uniqueFiles"`
		Outputs        []string `json:"outputs"`
	}

	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, 2, payload.FilesProcessed)
	assert.Equal(t, 1, payload.UniqueFiles)
	assert.Equal(t, []string{"/proj/merged/" + report.JSONFileName}, payload.Outputs)
}

func TestServer_MergeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "missing patterns",
			args: map[string]any{"patterns": []string{}, "output_dir": "/out"},
			want: mcp.ErrNoPatterns.Error(),
		},
		{
			name: "missing output",
			args: map[string]any{"patterns": []string{"*.info"}, "output_dir": ""},
			want: mcp.ErrEmptyOutputDir.Error(),
		},
		{
			name: "relative base",
			args: map[string]any{"patterns": []string{"*.info"}, "output_dir": "/out", "base_dir": "rel"},
			want: "path must be absolute: base_dir rel",
		},
		{
			name: "no matches",
			args: map[string]any{"patterns": []string{"/nothing/*.info"}, "output_dir": "/out"},
			want: "No coverage files found matching the specified patterns",
		},
	}

	session := connect(t, mcp.NewServer(mcp.ServerDeps{Fs: afero.NewMemMapFs()}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
				Name:      mcp.ToolNameMerge,
				Arguments: tt.args,
			})
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Equal(t, tt.want, textOf(t, result))
		})
	}
}

func TestServer_Detect(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/package.json",
		[]byte(`{"devDependencies": {"vitest": "1.0.0"}, "scripts": {"test": "jest"}}`), 0o644))

	session := connect(t, mcp.NewServer(mcp.ServerDeps{Fs: fs}))

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameDetect,
		Arguments: map[string]any{"path": "/app"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, textOf(t, result))

	var out mcp.DetectOutput
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &out))
	assert.Equal(t, []string{"jest", "vitest"}, out.Runners)

	missing, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameDetect,
		Arguments: map[string]any{"path": "/missing"},
	})
	require.NoError(t, err)
	assert.True(t, missing.IsError)
}

func TestServer_TracingAndMetrics(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tools, err := observability.NewToolMetrics(mp.Meter("test"))
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/app/package.json", []byte(`{"dependencies": {"mocha": "10"}}`), 0o644))

	session := connect(t, mcp.NewServer(mcp.ServerDeps{Fs: fs, Tracer: tp.Tracer("test"), Metrics: tools}))

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameDetect,
		Arguments: map[string]any{"path": "/app"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Len(t, result.Content, 2)
	assert.Contains(t, result.Content[1].(*mcpsdk.TextContent).Text, "trace_id=")

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}

	assert.Contains(t, names, "mcp.coverage_detect")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var calls *metricdata.Sum[int64]

	for _, m := range rm.ScopeMetrics[0].Metrics {
		if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "coverage_runner.mcp.tool.calls.total" {
			calls = &sum
		}
	}

	require.NotNil(t, calls)
	require.Len(t, calls.DataPoints, 1)

	tool, _ := calls.DataPoints[0].Attributes.Value("tool")
	assert.Equal(t, mcp.ToolNameDetect, tool.AsString())
}
