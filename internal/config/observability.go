package config

// TracingConfig holds OTLP trace export configuration.
//
// Traces are exported over OTLP/HTTP to a local collector or agent.
// See internal/observability for the tracer provider setup.
type TracingConfig struct {
	// Enabled turns trace export on. Default: false (spans become no-ops)
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// AgentHost is the OTLP/HTTP endpoint (default: localhost:4318)
	AgentHost string `mapstructure:"agent_host" json:"agent_host"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name on exported spans (default: ragpipe)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}
