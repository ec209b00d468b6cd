// Package config loads runtime configuration from the environment, after
// an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-market/internal/market"
	"github.com/atmx/options-market/internal/model"
)

// Config holds all runtime configuration for a simulation run.
type Config struct {
	LogLevel              string
	Rounds                int
	Seed                  uint64
	RoundDelay            time.Duration
	RenderEvery           int
	ListenAddr            string // empty disables the HTTP API
	DatabaseURL           string // empty keeps the journal in memory
	RedisURL              string
	CacheTTL              time.Duration
	PremiumMultiplier     decimal.Decimal
	BuyerFeeBps           int
	SellerFeeBps          int
	MaxNotionalPerAsset   model.Cents // 0 = unlimited
	MaxCorrelatedNotional model.Cents // 0 = unlimited
	ShutdownTimeout       time.Duration
}

// LoadEnvFile loads variables from a .env file without overriding ones
// already set. An empty path tries ./.env and ignores its absence; an
// explicit path must exist.
func LoadEnvFile(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	rounds, err := getInt("SIM_ROUNDS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid SIM_ROUNDS: %w", err)
	}
	if rounds < 0 {
		return nil, fmt.Errorf("invalid SIM_ROUNDS: %d must not be negative", rounds)
	}

	seed, err := getUint("SIM_SEED", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid SIM_SEED: %w", err)
	}

	roundDelay, err := getDuration("ROUND_DELAY", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid ROUND_DELAY: %w", err)
	}

	renderEvery, err := getInt("RENDER_EVERY", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid RENDER_EVERY: %w", err)
	}

	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	multiplier, err := decimal.NewFromString(getStr("PREMIUM_MULTIPLIER", "0.01"))
	if err != nil {
		return nil, fmt.Errorf("invalid PREMIUM_MULTIPLIER: %w", err)
	}
	if !multiplier.IsPositive() {
		return nil, fmt.Errorf("invalid PREMIUM_MULTIPLIER: %s must be positive", multiplier)
	}

	buyerBps, err := getBps("BUYER_FEE_BPS")
	if err != nil {
		return nil, err
	}
	sellerBps, err := getBps("SELLER_FEE_BPS")
	if err != nil {
		return nil, err
	}

	maxPerAsset, err := getCents("MAX_NOTIONAL_PER_ASSET")
	if err != nil {
		return nil, err
	}
	maxCorrelated, err := getCents("MAX_CORRELATED_NOTIONAL")
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		LogLevel:              logLevel,
		Rounds:                rounds,
		Seed:                  seed,
		RoundDelay:            roundDelay,
		RenderEvery:           renderEvery,
		ListenAddr:            getStr("LISTEN_ADDR", ""),
		DatabaseURL:           getStr("DATABASE_URL", ""),
		RedisURL:              getStr("REDIS_URL", ""),
		CacheTTL:              cacheTTL,
		PremiumMultiplier:     multiplier,
		BuyerFeeBps:           buyerBps,
		SellerFeeBps:          sellerBps,
		MaxNotionalPerAsset:   maxPerAsset,
		MaxCorrelatedNotional: maxCorrelated,
		ShutdownTimeout:       shutdownTimeout,
	}, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Fees returns the configured fee schedule.
func (c *Config) Fees() market.Fees {
	return market.Fees{BuyerBps: c.BuyerFeeBps, SellerBps: c.SellerFeeBps}
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getUint(key string, defaultVal uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getBps(key string) (int, error) {
	bps, err := getInt(key, 0)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if bps < 0 || bps > market.MaxFeeBps {
		return 0, fmt.Errorf("invalid %s: %d must be between 0 and %d", key, bps, market.MaxFeeBps)
	}
	return bps, nil
}

// getCents reads a dollar amount such as "2500" or "2500.50".
func getCents(key string) (model.Cents, error) {
	c, err := model.ParseCents(getStr(key, "0"))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if c < 0 {
		return 0, fmt.Errorf("invalid %s: %s must not be negative", key, c)
	}
	return c, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
