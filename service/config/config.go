package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/tracker"
	"github.com/gagliardetto/solana-go"
)

// Networks accepted in SOLANA_NETWORK.
var Networks = []string{"mainnet-beta", "devnet", "testnet", "localnet"}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration. Persistence is disabled when empty.
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaNetwork string
	// SolanaRPCURL may list several comma-separated endpoints.
	SolanaRPCURL      string
	CandyMachineID    solana.PublicKey
	ProgramID         solana.PublicKey
	MinterKeypairPath string

	// Payment token display
	TokenDecimals uint8
	TokenName     string

	// Confirmation tracking
	TxTimeout           time.Duration
	ConfirmPollInterval time.Duration
	StatusQueryAttempts int

	// Reconciling snapshot refresh
	RefreshInterval time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
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

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	if raw := os.Getenv("CANDY_MACHINE_ID"); raw == "" {
		errs = append(errs, fmt.Errorf("CANDY_MACHINE_ID is required"))
	} else if key, err := solana.PublicKeyFromBase58(raw); err != nil {
		errs = append(errs, fmt.Errorf("CANDY_MACHINE_ID: invalid address %q: %w", raw, err))
	} else {
		cfg.CandyMachineID = key
	}

	programID := getEnvOrDefault("CANDY_MACHINE_PROGRAM_ID", candymachine.ProgramID.String())
	if key, err := solana.PublicKeyFromBase58(programID); err != nil {
		errs = append(errs, fmt.Errorf("CANDY_MACHINE_PROGRAM_ID: invalid address %q: %w", programID, err))
	} else {
		cfg.ProgramID = key
	}
	cfg.MinterKeypairPath = os.Getenv("MINTER_KEYPAIR_PATH")

	// Payment token display
	decimals, err := parseInt("SPL_TOKEN_DECIMALS", candymachine.NativeDecimals)
	if err != nil {
		errs = append(errs, err)
	} else if decimals < 0 || decimals > candymachine.MaxDecimals {
		errs = append(errs, fmt.Errorf("SPL_TOKEN_DECIMALS must be between 0 and %d, got %d", candymachine.MaxDecimals, decimals))
	} else {
		cfg.TokenDecimals = uint8(decimals)
	}
	cfg.TokenName = getEnvOrDefault("SPL_TOKEN_NAME", "TOKEN")

	// Confirmation tracking
	if cfg.TxTimeout, err = parseDuration("TX_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmPollInterval, err = parseDuration("CONFIRM_POLL_INTERVAL", "500ms"); err != nil {
		errs = append(errs, err)
	}
	if cfg.StatusQueryAttempts, err = parseInt("STATUS_QUERY_ATTEMPTS", tracker.DefaultQueryAttempts); err != nil {
		errs = append(errs, err)
	}
	if cfg.RefreshInterval, err = parseDuration("REFRESH_INTERVAL", "30s"); err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "candymint")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
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

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if !slices.Contains(Networks, c.SolanaNetwork) {
		errs = append(errs, fmt.Errorf("SolanaNetwork must be one of %s, got %q", strings.Join(Networks, ", "), c.SolanaNetwork))
	}

	if c.CandyMachineID.IsZero() {
		errs = append(errs, fmt.Errorf("CandyMachineID is required"))
	}

	if c.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}

	if c.TokenDecimals > candymachine.MaxDecimals {
		errs = append(errs, fmt.Errorf("TokenDecimals must be at most %d", candymachine.MaxDecimals))
	}

	if c.TxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TxTimeout must be positive"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	} else if c.ConfirmPollInterval >= c.TxTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval (%v) must be shorter than TxTimeout (%v)", c.ConfirmPollInterval, c.TxTimeout))
	}

	if c.StatusQueryAttempts < 1 {
		errs = append(errs, fmt.Errorf("StatusQueryAttempts must be at least 1"))
	}

	if c.RefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("RefreshInterval must be at least 1 second"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LogLevel must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// SnapshotConfig returns the inputs of snapshot derivation.
func (c *Config) SnapshotConfig() candymachine.SnapshotConfig {
	return candymachine.SnapshotConfig{
		Decimals:  c.TokenDecimals,
		TokenName: c.TokenName,
	}
}

// TrackerOptions returns the confirmation tracker settings.
func (c *Config) TrackerOptions() tracker.Options {
	return tracker.Options{
		PollInterval:  c.ConfirmPollInterval,
		Timeout:       c.TxTimeout,
		QueryAttempts: c.StatusQueryAttempts,
	}
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
