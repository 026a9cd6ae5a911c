package telemetry

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is "console" for human-readable output or "json".
	Format string `json:"format" yaml:"format"`

	// Output is "stderr", "stdout", or a file path. OOBE runs log to a file
	// since no console is attached before login.
	Output string `json:"output" yaml:"output"`
}

// DefaultLoggingConfig returns console logging to stderr at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// TracingConfig controls OpenTelemetry span export. Disabled by default:
// OOBE machines rarely have a collector reachable, but lab deployments can
// point the OTLP exporter at one to trace full bootstrap runs.
type TracingConfig struct {
	// Enabled turns span generation on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter is "stdout", "otlp", or "none".
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint (host:port) for the otlp exporter.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `json:"sample_rate" yaml:"sample_rate"`
}

// DefaultTracingConfig returns tracing disabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:    false,
		Exporter:   "stdout",
		SampleRate: 1.0,
	}
}

// MetricsConfig controls the Prometheus registry exposed in service mode.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Listen is the address the service-mode /metrics endpoint binds to.
	Listen string `json:"listen" yaml:"listen"`
}

// DefaultMetricsConfig returns metrics enabled on the loopback interface.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Listen:  "127.0.0.1:9460",
	}
}
