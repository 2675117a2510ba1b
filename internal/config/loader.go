package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "treasuryd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TREASURYD_PORT")
	setString(&cfg.Server.CORSOrigin, "TREASURYD_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TREASURYD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TREASURYD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TREASURYD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TREASURYD_PG_MAX_CONN_IDLE_TIME")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TREASURYD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TREASURYD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TREASURYD_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TREASURYD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TREASURYD_BREAKER_TIMEOUT")
	setInt(&cfg.Fetch.Retries, "TREASURYD_FETCH_RETRIES")
	setDuration(&cfg.Fetch.Timeout, "TREASURYD_FETCH_TIMEOUT")
	setDuration(&cfg.Fetch.BackoffMin, "TREASURYD_FETCH_BACKOFF_MIN")
	setDuration(&cfg.Fetch.BackoffMax, "TREASURYD_FETCH_BACKOFF_MAX")
	setDuration(&cfg.Fetch.Jitter, "TREASURYD_FETCH_JITTER")
	setInt64(&cfg.Cache.MaxSizeMB, "TREASURYD_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.QuoteTTL, "TREASURYD_CACHE_QUOTE_TTL")
	setString(&cfg.Collaborators.GasURL, "TREASURYD_COLLAB_GAS_URL")
	setString(&cfg.Collaborators.YieldURL, "TREASURYD_COLLAB_YIELD_URL")
	setString(&cfg.Collaborators.BridgePrimaryURL, "TREASURYD_COLLAB_BRIDGE_PRIMARY_URL")
	setString(&cfg.Collaborators.BridgeSecondaryURL, "TREASURYD_COLLAB_BRIDGE_SECONDARY_URL")
	setString(&cfg.Collaborators.SwapPrimaryURL, "TREASURYD_COLLAB_SWAP_PRIMARY_URL")
	setString(&cfg.Collaborators.SwapSecondaryURL, "TREASURYD_COLLAB_SWAP_SECONDARY_URL")
	setString(&cfg.Collaborators.ToolURL, "TREASURYD_COLLAB_TOOL_URL")
	setString(&cfg.Orchestrator.DefaultObjective, "TREASURYD_ORCH_OBJECTIVE")
	setDuration(&cfg.Orchestrator.StepTimeout, "TREASURYD_ORCH_STEP_TIMEOUT")
	setDuration(&cfg.Executions.TerminalTTL, "TREASURYD_EXEC_TERMINAL_TTL")
	setDuration(&cfg.Executions.GCInterval, "TREASURYD_EXEC_GC_INTERVAL")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Fetch.Retries < 0 {
		return errors.New("fetch.retries must be >= 0")
	}
	if cfg.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	switch cfg.Orchestrator.DefaultObjective {
	case "cheapest", "fastest", "most_secure":
	default:
		return fmt.Errorf("orchestrator.default_objective %q is not one of cheapest, fastest, most_secure", cfg.Orchestrator.DefaultObjective)
	}
	if cfg.Executions.TerminalTTL <= 0 {
		return errors.New("executions.terminal_ttl must be > 0")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
