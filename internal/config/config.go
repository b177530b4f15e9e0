// Package config defines the root configuration for the matching engine
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file, then optionally overridden by CLOB_* environment variables.
type Config struct {
	Stacks     StacksConfig     `toml:"stacks"`
	Settlement SettlementConfig `toml:"settlement"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Matching   MatchingConfig   `toml:"matching"`
	Router     RouterConfig     `toml:"router"`
	Server     ServerConfig     `toml:"server"`
	Admin      AdminConfig      `toml:"admin"`
	LogLevel   string           `toml:"log_level"`
}

// StacksConfig holds chain identity and the node the height monitor and
// settlement bridge poll/broadcast against.
type StacksConfig struct {
	Network string `toml:"network"` // mainnet | testnet | devnet
	APIURL  string `toml:"api_url"`
}

// SettlementConfig holds the contract identity and operator key used to
// broadcast NORMAL/MINT/MERGE settlement calls. If ContractAddress,
// ContractName, and OperatorPrivateKey are all empty, settlement is disabled
// at boot (a warning, not a fatal error) and trades are recorded without a
// txHash. Setting only some of the three is a Validate error.
type SettlementConfig struct {
	ContractAddress          string   `toml:"contract_address"`
	ContractName             string   `toml:"contract_name"`
	ConditionalTokensAddress string   `toml:"conditional_tokens_address"`
	ConditionalTokensName    string   `toml:"conditional_tokens_name"`
	OperatorPrivateKey       string   `toml:"operator_private_key"`
	BroadcastTimeout         duration `toml:"broadcast_timeout"`
}

// PostgresConfig holds the durable-mirror connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the hot-cache / distributed-lock connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object store parameters. Validate requires Endpoint when
// Bucket is set; no component of the daemon reads these fields.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MatchingConfig controls the matching engine driver.
type MatchingConfig struct {
	TickInterval duration `toml:"tick_interval"` // default 100ms (10Hz)
}

// RouterConfig holds a router walk depth and default slippage tolerance.
// They are loaded and validated but not passed to the router: router.Plan
// walks every level of the book and takes its slippage bound per request.
type RouterConfig struct {
	MaxLevels             int   `toml:"max_levels"`
	DefaultMaxSlippageBps int64 `toml:"default_max_slippage_bps"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	RateLimitPerMin   int      `toml:"rate_limit_per_min"`
	ReadHeaderTimeout duration `toml:"read_header_timeout"`
}

// AdminConfig holds the shared secret admin endpoints check against
// x-admin-key / x-api-key.
type AdminConfig struct {
	APIKey string `toml:"api_key"`
}

// duration wraps time.Duration for TOML string decoding (e.g. "5m", "100ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "100ms" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validNetworks = map[string]bool{"mainnet": true, "testnet": true, "devnet": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Defaults returns a Config populated with the daemon's built-in defaults,
// before TOML decoding or environment overrides are applied.
func Defaults() Config {
	return Config{
		Stacks: StacksConfig{
			Network: "testnet",
			APIURL:  "http://localhost:3999",
		},
		Settlement: SettlementConfig{
			BroadcastTimeout: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Matching: MatchingConfig{
			TickInterval: duration{100 * time.Millisecond},
		},
		Router: RouterConfig{
			MaxLevels:             50,
			DefaultMaxSlippageBps: 100,
		},
		Server: ServerConfig{
			Port:              8080,
			RateLimitPerMin:   600,
			ReadHeaderTimeout: duration{5 * time.Second},
		},
		LogLevel: "info",
	}
}

// SettlementEnabled reports whether enough settlement configuration is
// present to attempt on-chain broadcasts. Callers MUST check this before
// wiring the settlement bridge; when false the daemon still runs, but
// NORMAL/MINT/MERGE trades are recorded without a txHash.
func (c Config) SettlementEnabled() bool {
	return c.Settlement.ContractAddress != "" &&
		c.Settlement.ContractName != "" &&
		c.Settlement.OperatorPrivateKey != ""
}

// Validate checks the Config for internal consistency, accumulating every
// violation it finds rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if !validNetworks[c.Stacks.Network] {
		errs = append(errs, fmt.Sprintf("stacks: unknown network %q (valid: mainnet, testnet, devnet)", c.Stacks.Network))
	}
	if c.Stacks.APIURL == "" {
		errs = append(errs, "stacks: api_url must not be empty")
	}

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Postgres.DSN == "" {
		errs = append(errs, "postgres: dsn must not be empty")
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Bucket != "" && c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty when bucket is set")
	}

	if c.Matching.TickInterval.Duration <= 0 {
		errs = append(errs, "matching: tick_interval must be > 0")
	}

	if c.Router.MaxLevels < 1 {
		errs = append(errs, "router: max_levels must be >= 1")
	}
	if c.Router.DefaultMaxSlippageBps < 0 {
		errs = append(errs, "router: default_max_slippage_bps must be >= 0")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Admin.APIKey == "" {
		errs = append(errs, "admin: api_key must not be empty")
	}

	partial := c.Settlement.ContractAddress != "" || c.Settlement.ContractName != "" || c.Settlement.OperatorPrivateKey != ""
	if partial && !c.SettlementEnabled() {
		errs = append(errs, "settlement: contract_address, contract_name, and operator_private_key must all be set together (or all left empty to disable settlement)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
