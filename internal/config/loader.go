package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known environment variables and overwrites
// the corresponding Config fields when a variable is set (i.e. not empty).
// This lets operators inject secrets at deploy time without touching the
// TOML file. The settlement and storage variables use the bare names an
// operator expects (STACKS_NETWORK, DATABASE_URL, ...); everything else
// ambient is namespaced under CLOB_.
func applyEnvOverrides(cfg *Config) {
	// ── Stacks / settlement — bare names, matching deploy-time expectations ──
	setStr(&cfg.Stacks.Network, "STACKS_NETWORK")
	setStr(&cfg.Stacks.APIURL, "STACKS_API_URL")
	setStr(&cfg.Settlement.ContractAddress, "CTF_EXCHANGE_ADDRESS")
	setStr(&cfg.Settlement.OperatorPrivateKey, "STACKS_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Settlement.ConditionalTokensAddress, "CONDITIONAL_TOKENS_ADDRESS")
	setStr(&cfg.Admin.APIKey, "ADMIN_API_KEY")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Redis.Addr, "REDIS_URL")

	// ── Settlement, remaining fields ──
	setStr(&cfg.Settlement.ContractName, "CLOB_SETTLEMENT_CONTRACT_NAME")
	setStr(&cfg.Settlement.ConditionalTokensName, "CLOB_CONDITIONAL_TOKENS_NAME")
	setDuration(&cfg.Settlement.BroadcastTimeout, "CLOB_SETTLEMENT_BROADCAST_TIMEOUT")

	// ── Postgres ──
	setInt(&cfg.Postgres.PoolMaxConns, "CLOB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CLOB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CLOB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Password, "CLOB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLOB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLOB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLOB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLOB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CLOB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CLOB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CLOB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CLOB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CLOB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CLOB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CLOB_S3_FORCE_PATH_STYLE")

	// ── Matching ──
	setDuration(&cfg.Matching.TickInterval, "CLOB_MATCHING_TICK_INTERVAL")

	// ── Router ──
	setInt(&cfg.Router.MaxLevels, "CLOB_ROUTER_MAX_LEVELS")
	setInt64(&cfg.Router.DefaultMaxSlippageBps, "CLOB_ROUTER_DEFAULT_MAX_SLIPPAGE_BPS")

	// ── Server ──
	setInt(&cfg.Server.Port, "CLOB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CLOB_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMin, "CLOB_SERVER_RATE_LIMIT_PER_MIN")
	setDuration(&cfg.Server.ReadHeaderTimeout, "CLOB_SERVER_READ_HEADER_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "CLOB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
