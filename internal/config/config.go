// Package config defines the keeper's configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BATTLEKEEPER_* environment variables.
type Config struct {
	Keeper   KeeperConfig   `toml:"keeper"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Battle   BattleConfig   `toml:"battle"`
	AMM      AMMConfig      `toml:"amm"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// KeeperConfig names the keeper signing credential. Exactly one source is
// used, in the order secret_key, encrypted_key_path, key_path.
type KeeperConfig struct {
	SecretKey        string `toml:"secret_key"`
	KeyPath          string `toml:"key_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasCredential reports whether any keeper key source is configured.
func (k KeeperConfig) HasCredential() bool {
	return k.SecretKey != "" || k.KeyPath != "" || k.EncryptedKeyPath != ""
}

// LedgerConfig holds the RPC endpoint and program addresses.
type LedgerConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ProgramID      string   `toml:"program_id"`
	Treasury       string   `toml:"treasury"`
	PollInterval   duration `toml:"poll_interval"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
}

// BattleConfig holds the victory thresholds and pipeline timings. Amounts are
// base units.
type BattleConfig struct {
	TargetDeposited    uint64   `toml:"target_deposited"`
	QualifyBps         uint64   `toml:"qualify_bps"`
	MinVolume          uint64   `toml:"min_volume"`
	SpoilsBps          uint64   `toml:"spoils_bps"`
	PlatformFeeBps     uint64   `toml:"platform_fee_bps"`
	ToleranceUnits     uint64   `toml:"tolerance_units"`
	FeeReserve         uint64   `toml:"fee_reserve"`
	PropagationTimeout duration `toml:"propagation_timeout"`
	RunBudget          duration `toml:"run_budget"`
	LeaseGrace         duration `toml:"lease_grace"`
	ScanInterval       duration `toml:"scan_interval"`
	RewardPoints       int64    `toml:"reward_points"`
	NativeMint         string   `toml:"native_mint"`
}

// AMMConfig holds the pool service endpoint.
type AMMConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// SupabaseConfig holds the index database connection parameters.
type SupabaseConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the keeper
// falls back to in-process leases and publishes no events.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds object storage parameters for run reports and archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig schedules the activity-log cold archive. It needs S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	SchedulerSecret string   `toml:"scheduler_secret"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	CORSOrigins     []string `toml:"cors_origins"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:         "https://api.devnet.solana.com",
			PollInterval:   duration{2 * time.Second},
			ConfirmTimeout: duration{90 * time.Second},
		},
		Battle: BattleConfig{
			TargetDeposited:    37_700_000_000,
			QualifyBps:         9_950,
			MinVolume:          41_500_000_000,
			SpoilsBps:          5_000,
			PlatformFeeBps:     500,
			ToleranceUnits:     10_000_000,
			FeeReserve:         50_000_000,
			PropagationTimeout: duration{60 * time.Second},
			RunBudget:          duration{5 * time.Minute},
			LeaseGrace:         duration{30 * time.Second},
			ScanInterval:       duration{time.Minute},
			RewardPoints:       1_000,
			NativeMint:         "So11111111111111111111111111111111111111112",
		},
		AMM: AMMConfig{
			Timeout: duration{30 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "postgres",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{15 * time.Second},
			RunMigrations:    true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "battlekeeper:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "battlekeeper",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			RateLimit:   10,
			RateWindow:  duration{time.Minute},
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"battle_completed", "plunder_mismatch", "pipeline_fatal"},
		},
		Mode:     "keeper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"keeper":  true,
	"scan":    true,
	"execute": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// serves reports whether the mode runs the HTTP server.
func (c *Config) serves() bool {
	m := strings.ToLower(c.Mode)
	return c.Server.Enabled && (m == "keeper" || m == "server")
}

// Validate checks Config for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: keeper, scan, execute, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Keeper: every mode can submit transactions, the server via its execute
	// route.
	if !c.Keeper.HasCredential() {
		errs = append(errs, "keeper: one of secret_key, key_path or encrypted_key_path must be set")
	}
	if c.Keeper.EncryptedKeyPath != "" && c.Keeper.KeyPassword == "" {
		errs = append(errs, "keeper: key_password is required when encrypted_key_path is set")
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if c.Ledger.ProgramID == "" {
		errs = append(errs, "ledger: program_id must not be empty")
	}
	if c.Ledger.Treasury == "" {
		errs = append(errs, "ledger: treasury must not be empty")
	}
	if c.Ledger.PollInterval.Duration <= 0 {
		errs = append(errs, "ledger: poll_interval must be > 0")
	}
	if c.Ledger.ConfirmTimeout.Duration < c.Ledger.PollInterval.Duration {
		errs = append(errs, "ledger: confirm_timeout must be at least poll_interval")
	}

	// Battle
	if c.Battle.TargetDeposited == 0 {
		errs = append(errs, "battle: target_deposited must be > 0")
	}
	if c.Battle.QualifyBps == 0 || c.Battle.QualifyBps > 10_000 {
		errs = append(errs, fmt.Sprintf("battle: qualify_bps must be 1-10000, got %d", c.Battle.QualifyBps))
	}
	if c.Battle.SpoilsBps > 10_000 {
		errs = append(errs, fmt.Sprintf("battle: spoils_bps must be <= 10000, got %d", c.Battle.SpoilsBps))
	}
	if c.Battle.PlatformFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("battle: platform_fee_bps must be <= 10000, got %d", c.Battle.PlatformFeeBps))
	}
	if c.Battle.RunBudget.Duration <= 0 {
		errs = append(errs, "battle: run_budget must be > 0")
	}
	if c.Battle.RunBudget.Duration <= c.Ledger.ConfirmTimeout.Duration {
		errs = append(errs, "battle: run_budget must exceed ledger.confirm_timeout")
	}
	if c.Battle.PropagationTimeout.Duration < c.Ledger.PollInterval.Duration {
		errs = append(errs, "battle: propagation_timeout must be at least ledger.poll_interval")
	}
	if c.Battle.LeaseGrace.Duration < 0 {
		errs = append(errs, "battle: lease_grace must be >= 0")
	}
	if c.Ledger.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "ledger: confirm_timeout must be > 0; the asset lease lasts run_budget + confirm_timeout + lease_grace")
	}
	if c.Battle.ScanInterval.Duration <= 0 {
		errs = append(errs, "battle: scan_interval must be > 0")
	}
	if c.Battle.RewardPoints < 0 {
		errs = append(errs, "battle: reward_points must be >= 0")
	}
	if c.Battle.NativeMint == "" {
		errs = append(errs, "battle: native_mint must not be empty")
	}

	// AMM
	if c.AMM.BaseURL == "" {
		errs = append(errs, "amm: base_url must not be empty")
	}
	if c.AMM.Timeout.Duration <= 0 {
		errs = append(errs, "amm: timeout must be > 0")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.serves() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if strings.TrimSpace(c.Server.APIKey) == "" {
			errs = append(errs, "server: api_key must not be empty")
		}
		if c.Server.RateLimit < 1 {
			errs = append(errs, "server: rate_limit must be >= 1")
		}
		if c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0")
		}
	}
	if strings.ToLower(c.Mode) == "server" && !c.Server.Enabled {
		errs = append(errs, "server: mode server requires server.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
