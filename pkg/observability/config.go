// Package observability wires OpenTelemetry tracing and metrics plus
// trace-aware structured logging for the coverage-runner CLI and MCP server.
package observability

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI is a one-shot CLI command.
	ModeCLI AppMode = "cli"
	// ModeMCP is the MCP stdio server.
	ModeMCP AppMode = "mcp"
)

const (
	defaultServiceName        = "coverage-runner"
	defaultShutdownTimeoutSec = 5

	// EnvLogLevel selects the minimum log level (ERROR, WARN, INFO, DEBUG).
	EnvLogLevel = "LOG_LEVEL"

	envOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
	envOTLPInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
	envEnvironment  = "COVERAGE_RUNNER_ENV"
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "ci", "dev").
	Environment string

	// Mode identifies how the binary was launched.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables export.
	OTLPEndpoint string

	// OTLPHeaders are extra gRPC metadata headers for the OTLP exporters.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool

	// DebugTrace forces 100% trace sampling.
	DebugTrace bool

	// SampleRatio is the trace sampling ratio when DebugTrace is false.
	SampleRatio float64

	// PrometheusExport attaches a Prometheus registry reader to the meter
	// provider so metrics can be dumped with WriteMetricsFile.
	PrometheusExport bool

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON switches log output to JSON.
	LogJSON bool

	// ShutdownTimeoutSec bounds the flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns the zero-config defaults, honoring LOG_LEVEL.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           ParseLogLevel(os.Getenv(EnvLogLevel), slog.LevelInfo),
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseLogLevel maps ERROR, WARN, INFO or DEBUG (any case) to a level.
// Anything else yields fallback.
func ParseLogLevel(raw string, fallback slog.Level) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ERROR":
		return slog.LevelError
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "INFO":
		return slog.LevelInfo
	case "DEBUG":
		return slog.LevelDebug
	default:
		return fallback
	}
}

// ApplyEnv fills the exporter settings and environment name from getenv.
// Values already set on cfg win.
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = getenv(envOTLPEndpoint)
	}

	if cfg.OTLPHeaders == nil {
		cfg.OTLPHeaders = ParseOTLPHeaders(getenv(envOTLPHeaders))
	}

	if insecure, err := strconv.ParseBool(getenv(envOTLPInsecure)); err == nil && insecure {
		cfg.OTLPInsecure = true
	}

	if cfg.Environment == "" {
		cfg.Environment = getenv(envEnvironment)
	}
}

// ParseOTLPHeaders reads the "k1=v1,k2=v2" header list. Malformed pairs are
// dropped. Nil when nothing usable remains.
func ParseOTLPHeaders(raw string) map[string]string {
	var headers map[string]string

	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")

		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}

		if headers == nil {
			headers = make(map[string]string)
		}

		headers[key] = strings.TrimSpace(value)
	}

	return headers
}
