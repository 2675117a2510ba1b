// Package config provides hierarchical configuration loading for treasuryd.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the treasuryd service.
type Config struct {
	Server        Server        `yaml:"server"`
	Postgres      Postgres      `yaml:"postgres"`
	NATS          NATS          `yaml:"nats"`
	Logging       Logging       `yaml:"logging"`
	Breaker       Breaker       `yaml:"breaker"`
	Fetch         Fetch         `yaml:"fetch"`
	Cache         Cache         `yaml:"cache"`
	Collaborators Collaborators `yaml:"collaborators"`
	Orchestrator  Orchestrator  `yaml:"orchestrator"`
	Executions    Executions    `yaml:"executions"`
	Telemetry     Telemetry     `yaml:"telemetry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the execution archive database configuration.
// The archive is optional; an empty DSN disables it.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// NATS holds NATS JetStream configuration. An empty URL disables event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration applied per collaborator endpoint.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Fetch holds retrying fetch wrapper configuration.
type Fetch struct {
	Retries    int           `yaml:"retries"`     // retry budget beyond the first attempt
	Timeout    time.Duration `yaml:"timeout"`     // per-attempt deadline
	BackoffMin time.Duration `yaml:"backoff_min"` // base backoff for attempt 0
	BackoffMax time.Duration `yaml:"backoff_max"` // cap on computed backoff
	Jitter     time.Duration `yaml:"jitter"`      // uniform random window added to backoff
}

// Cache holds the collaborator response cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	QuoteTTL  time.Duration `yaml:"quote_ttl"`
}

// Collaborators holds the base URLs of the external collaborator endpoints.
type Collaborators struct {
	GasURL             string `yaml:"gas_url"`
	YieldURL           string `yaml:"yield_url"`
	BridgePrimaryURL   string `yaml:"bridge_primary_url"`
	BridgeSecondaryURL string `yaml:"bridge_secondary_url"`
	SwapPrimaryURL     string `yaml:"swap_primary_url"`
	SwapSecondaryURL   string `yaml:"swap_secondary_url"`
	ToolURL            string `yaml:"tool_url"`
}

// Orchestrator holds step orchestration configuration.
type Orchestrator struct {
	DefaultObjective string        `yaml:"default_objective"` // cheapest | fastest | most_secure
	StepTimeout      time.Duration `yaml:"step_timeout"`      // overall deadline per step
}

// Executions holds execution tracking configuration.
type Executions struct {
	TerminalTTL time.Duration `yaml:"terminal_ttl"` // how long terminal executions remain observable
	GCInterval  time.Duration `yaml:"gc_interval"`
}

// Telemetry holds OpenTelemetry exporter configuration.
// An empty endpoint disables the OTLP exporters.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
		},
		NATS: NATS{
			URL: "",
		},
		Logging: Logging{
			Level:   "info",
			Service: "treasuryd",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Fetch: Fetch{
			Retries:    2,
			Timeout:    10 * time.Second,
			BackoffMin: 200 * time.Millisecond,
			BackoffMax: 5 * time.Second,
			Jitter:     100 * time.Millisecond,
		},
		Cache: Cache{
			MaxSizeMB: 32,
			QuoteTTL:  15 * time.Second,
		},
		Collaborators: Collaborators{
			GasURL:             "http://localhost:8091",
			YieldURL:           "http://localhost:8092",
			BridgePrimaryURL:   "http://localhost:8093",
			BridgeSecondaryURL: "http://localhost:8094",
			SwapPrimaryURL:     "http://localhost:8095",
			SwapSecondaryURL:   "http://localhost:8096",
			ToolURL:            "http://localhost:8097",
		},
		Orchestrator: Orchestrator{
			DefaultObjective: "cheapest",
			StepTimeout:      30 * time.Second,
		},
		Executions: Executions{
			TerminalTTL: 10 * time.Minute,
			GCInterval:  time.Minute,
		},
		Telemetry: Telemetry{
			OTLPEndpoint: "",
		},
	}
}
