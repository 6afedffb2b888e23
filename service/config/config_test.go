package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key Load reads so the host environment can't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL",
		"RPC", "RPC_WS", "RPC_RPS", "RPC_BURST", "RPC_TIMEOUT", "PROGRAM_ADDRESS",
		"MODE", "SLEEP", "PAGE_LIMIT", "PAGE_TIMEOUT", "START_SIGNATURE", "UNTIL_SIGNATURE", "CURSOR_NAME",
		"DB_CONN_STRING", "DATABASE_URL", "DB_NAME",
		"EXCHANGE_COLLECTION", "COUNTER_COLLECTION", "CREATE_COLLECTION", "CANCEL_COLLECTION", "UNMAPPED_COLLECTION",
		"CATALOG_URL", "IDL_PATH", "NATS_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_CONN_STRING", "postgres://localhost/test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPCURL)
	assert.Equal(t, "wss://api.mainnet-beta.solana.com", cfg.RPCWSURL)
	assert.Equal(t, DefaultProgramAddress, cfg.ProgramAddress)
	assert.Equal(t, ModePoll, cfg.Mode)
	assert.Equal(t, "sync", cfg.ModeName)
	assert.Equal(t, 10*time.Second, cfg.SleepInterval)
	assert.Equal(t, 10, cfg.PageLimit)
	assert.Equal(t, "market_interactions", cfg.Tables.Exchange)
	assert.Equal(t, "market_interactions", cfg.Tables.CounterInit)
	assert.Equal(t, "market_interactions", cfg.Tables.Create)
	assert.Equal(t, "market_interactions", cfg.Tables.Cancel)
	assert.Equal(t, "unmapped_exchange", cfg.Tables.Unmapped)
	assert.Equal(t, "https://galaxy.staratlas.com/nfts", cfg.CatalogURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
}

func TestLoad_DatabaseURLFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://fallback/test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback/test", cfg.DatabaseURL)
}

func TestLoad_MissingDatabase(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DB_CONN_STRING is required")
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("SLEEP", "soon")
	t.Setenv("PAGE_TIMEOUT", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_CONN_STRING is required")
	assert.Contains(t, err.Error(), "SLEEP: invalid integer")
	assert.Contains(t, err.Error(), "PAGE_TIMEOUT: invalid duration")
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_CONN_STRING", "postgres://localhost/test")
	t.Setenv("DB_NAME", "staratlas")
	t.Setenv("RPC", "http://localhost:8899")
	t.Setenv("MODE", "react")
	t.Setenv("SLEEP", "2500")
	t.Setenv("PAGE_LIMIT", "100")
	t.Setenv("START_SIGNATURE", "5sig")
	t.Setenv("EXCHANGE_COLLECTION", "exchanges")
	t.Setenv("UNMAPPED_COLLECTION", "leftovers")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8899", cfg.RPCWSURL)
	assert.Equal(t, ModeReact, cfg.Mode)
	assert.Equal(t, 2500*time.Millisecond, cfg.SleepInterval)
	assert.Equal(t, 100, cfg.PageLimit)
	assert.Equal(t, "5sig", cfg.StartSignature)
	assert.Equal(t, "staratlas", cfg.DatabaseName)
	assert.Equal(t, "exchanges", cfg.Tables.Exchange)
	assert.Equal(t, "leftovers", cfg.Tables.Unmapped)
	assert.Equal(t, "market_interactions", cfg.Tables.Cancel)
}

func TestLoad_PageLimitOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_CONN_STRING", "postgres://localhost/test")
	t.Setenv("PAGE_LIMIT", "5000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PageLimit must be between 1 and 1000")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"sync", ModePoll},
		{"SYNC", ModePoll},
		{"temporal", ModeTemporal},
		{"react", ModeReact},
		{"stream", ModeReact},
		{"", ModeReact},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.in))
		})
	}
}

func TestDeriveWebsocketURL(t *testing.T) {
	got, err := DeriveWebsocketURL("https://mainnet.helius-rpc.com/?api-key=abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://mainnet.helius-rpc.com/?api-key=abc", got)

	_, err = DeriveWebsocketURL("ftp://example.com")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{
		DatabaseURL:    "postgres://localhost/test",
		RPCURL:         "https://api.mainnet-beta.solana.com",
		ProgramAddress: DefaultProgramAddress,
		PageLimit:      10,
		RPCRate:        1,
		RPCBurst:       1,
		PageTimeout:    time.Minute,
		Tables:         Tables{"a", "a", "a", "a", "b"},
	}
	require.NoError(t, cfg.Validate())

	cfg.Tables.Cancel = " "
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CANCEL_COLLECTION cannot be empty")
}
