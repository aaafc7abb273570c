package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solwallet/service/confirm"
	solsvc "github.com/brojonat/solwallet/service/solana"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Solana configuration
	Network        solsvc.Network
	RPCURLs        []string
	RPCMaxAttempts int

	// Wallet configuration
	KeypairPath      string
	MessageSigning   bool
	IncludeToken2022 bool

	// Confirmation configuration
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	ConfirmCommitment   confirm.Commitment

	// Optional backends. Empty means disabled.
	DatabaseURL string
	NATSURL     string

	// Temporal configuration. The late confirmation watcher is disabled
	// when TemporalHost is empty.
	TemporalHost           string
	TemporalNamespace      string
	TemporalTaskQueue      string
	LateConfirmationWindow time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	network, err := solsvc.ParseNetwork(getEnvOrDefault("SOLANA_NETWORK", string(solsvc.Devnet)))
	if err != nil {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK: %w", err))
	} else {
		cfg.Network = network
	}

	cfg.RPCURLs = splitList(os.Getenv("SOLANA_RPC_URLS"))
	if len(cfg.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}

	attempts, err := parseInt("RPC_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else if attempts < 1 {
		errs = append(errs, fmt.Errorf("RPC_MAX_ATTEMPTS must be at least 1"))
	} else {
		cfg.RPCMaxAttempts = attempts
	}

	// Wallet configuration
	cfg.KeypairPath = os.Getenv("WALLET_KEYPAIR_PATH")

	signing, err := parseBool("WALLET_MESSAGE_SIGNING", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MessageSigning = signing
	}

	token2022, err := parseBool("INCLUDE_TOKEN_2022", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.IncludeToken2022 = token2022
	}

	// Confirmation configuration
	interval, err := parseDuration("CONFIRM_POLL_INTERVAL", confirm.DefaultInterval.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = interval
	}

	timeout, err := parseDuration("CONFIRM_TIMEOUT", confirm.DefaultTimeout.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = timeout
	}

	commitment, err := confirm.ParseCommitment(getEnvOrDefault("CONFIRM_COMMITMENT", string(confirm.CommitmentConfirmed)))
	if err != nil {
		errs = append(errs, fmt.Errorf("CONFIRM_COMMITMENT: %w", err))
	} else {
		cfg.ConfirmCommitment = commitment
	}

	// Validate intervals
	if cfg.ConfirmPollInterval > 0 && cfg.ConfirmTimeout > 0 && cfg.ConfirmPollInterval > cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) cannot be greater than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmPollInterval, cfg.ConfirmTimeout))
	}

	// Optional backends
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solwallet-late-confirmation")

	window, err := parseDuration("LATE_CONFIRMATION_WINDOW", "10m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LateConfirmationWindow = window
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if _, err := solsvc.ParseNetwork(string(c.Network)); err != nil {
		errs = append(errs, fmt.Errorf("Network: %w", err))
	}

	if len(c.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("RPCURLs is required"))
	}

	if c.RPCMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RPCMaxAttempts must be at least 1"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	}

	if c.ConfirmTimeout < c.ConfirmPollInterval {
		errs = append(errs, fmt.Errorf("ConfirmTimeout cannot be less than ConfirmPollInterval"))
	}

	if _, err := confirm.ParseCommitment(string(c.ConfirmCommitment)); err != nil {
		errs = append(errs, fmt.Errorf("ConfirmCommitment: %w", err))
	}

	if c.TemporalHost != "" {
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
		if c.LateConfirmationWindow <= 0 {
			errs = append(errs, fmt.Errorf("LateConfirmationWindow must be positive"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RequireKeypair reports an error when no wallet keypair is configured.
// Only binaries that hold a wallet need it.
func (c *Config) RequireKeypair() error {
	if c.KeypairPath == "" {
		return fmt.Errorf("WALLET_KEYPAIR_PATH is required")
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
