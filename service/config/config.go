package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultProgramAddress is the Galactic Marketplace program.
const DefaultProgramAddress = "traderDnaR5w6Tcoi3NFm53i48FTDNbGjBSZwWXDRrg"

// Mode selects how the ingestion loop is driven.
type Mode string

const (
	// ModePoll walks history backward one page per iteration, sleeping in between.
	ModePoll Mode = "poll"
	// ModeReact fetches the newest page whenever the program's accounts change.
	ModeReact Mode = "react"
	// ModeTemporal runs the poll loop as a durable Temporal workflow.
	ModeTemporal Mode = "temporal"
)

// ParseMode maps the MODE setting to a Mode. "sync" polls, "temporal" runs
// the workflow and every other value reacts to account notifications.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sync":
		return ModePoll
	case "temporal":
		return ModeTemporal
	default:
		return ModeReact
	}
}

// Tables names the table backing each category store. Several categories
// may share one table.
type Tables struct {
	Exchange    string
	CounterInit string
	Create      string
	Cancel      string
	Unmapped    string
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Ledger RPC
	RPCURL         string
	RPCWSURL       string
	RPCRate        float64
	RPCBurst       int
	RPCTimeout     time.Duration
	ProgramAddress string

	// Ingestion
	ModeName       string
	Mode           Mode
	SleepInterval  time.Duration
	PageLimit      int
	PageTimeout    time.Duration
	StartSignature string
	UntilSignature string
	CursorName     string

	// Database configuration
	DatabaseURL  string
	DatabaseName string
	Tables       Tables

	// Symbol catalog and decoder schema
	CatalogURL string
	IDLPath    string

	// NATS configuration, empty disables publishing
	NATSURL string

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

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RPCURL = getEnvOrDefault("RPC", "https://api.mainnet-beta.solana.com")
	cfg.RPCWSURL = os.Getenv("RPC_WS")
	if cfg.RPCWSURL == "" {
		ws, err := DeriveWebsocketURL(cfg.RPCURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("RPC: %w", err))
		}
		cfg.RPCWSURL = ws
	}

	rps, err := parseFloat("RPC_RPS", 4)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCRate = rps

	if cfg.RPCBurst, err = parseInt("RPC_BURST", 4); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCTimeout, err = parseDuration("RPC_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	}
	cfg.ProgramAddress = getEnvOrDefault("PROGRAM_ADDRESS", DefaultProgramAddress)

	cfg.ModeName = getEnvOrDefault("MODE", "sync")
	cfg.Mode = ParseMode(cfg.ModeName)

	// SLEEP is expressed in milliseconds.
	sleepMS, err := parseInt("SLEEP", 10000)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.SleepInterval = time.Duration(sleepMS) * time.Millisecond

	if cfg.PageLimit, err = parseInt("PAGE_LIMIT", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.PageTimeout, err = parseDuration("PAGE_TIMEOUT", "5m"); err != nil {
		errs = append(errs, err)
	}
	cfg.StartSignature = os.Getenv("START_SIGNATURE")
	cfg.UntilSignature = os.Getenv("UNTIL_SIGNATURE")
	cfg.CursorName = getEnvOrDefault("CURSOR_NAME", "gm-marketplace")

	cfg.DatabaseURL = os.Getenv("DB_CONN_STRING")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DB_CONN_STRING is required"))
	}
	cfg.DatabaseName = os.Getenv("DB_NAME")

	cfg.Tables = TablesFromEnv()

	cfg.CatalogURL = getEnvOrDefault("CATALOG_URL", "https://galaxy.staratlas.com/nfts")
	cfg.IDLPath = os.Getenv("IDL_PATH")

	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "tradewatch")

	if len(errs) == 0 {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
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

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPCURL is required"))
	}
	if c.ProgramAddress == "" {
		errs = append(errs, fmt.Errorf("ProgramAddress is required"))
	}
	if c.PageLimit < 1 || c.PageLimit > 1000 {
		errs = append(errs, fmt.Errorf("PageLimit must be between 1 and 1000, got %d", c.PageLimit))
	}
	if c.SleepInterval < 0 {
		errs = append(errs, fmt.Errorf("SleepInterval cannot be negative"))
	}
	if c.RPCRate <= 0 {
		errs = append(errs, fmt.Errorf("RPCRate must be positive"))
	}
	if c.RPCBurst < 1 {
		errs = append(errs, fmt.Errorf("RPCBurst must be at least 1"))
	}
	if c.PageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PageTimeout must be positive"))
	}
	for name, table := range map[string]string{
		"EXCHANGE_COLLECTION": c.Tables.Exchange,
		"COUNTER_COLLECTION":  c.Tables.CounterInit,
		"CREATE_COLLECTION":   c.Tables.Create,
		"CANCEL_COLLECTION":   c.Tables.Cancel,
		"UNMAPPED_COLLECTION": c.Tables.Unmapped,
	} {
		if strings.TrimSpace(table) == "" {
			errs = append(errs, fmt.Errorf("%s cannot be empty", name))
		}
	}
	if c.Mode == ModeTemporal && c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required in temporal mode"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// TablesFromEnv reads the *_COLLECTION settings. Exchange, counter, create
// and cancel share one table unless overridden.
func TablesFromEnv() Tables {
	shared := "market_interactions"
	return Tables{
		Exchange:    getEnvOrDefault("EXCHANGE_COLLECTION", shared),
		CounterInit: getEnvOrDefault("COUNTER_COLLECTION", shared),
		Create:      getEnvOrDefault("CREATE_COLLECTION", shared),
		Cancel:      getEnvOrDefault("CANCEL_COLLECTION", shared),
		Unmapped:    getEnvOrDefault("UNMAPPED_COLLECTION", "unmapped_exchange"),
	}
}

// DeriveWebsocketURL turns an http(s) RPC endpoint into its ws(s) counterpart.
func DeriveWebsocketURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rpcURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
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

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}
