// Package config loads engine configuration from the environment and an
// optional YAML fee-policy file.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tipforge/payengine/internal/fees"
)

// Config is the process configuration.
type Config struct {
	LogLevel string
	LogJSON  bool

	DatabaseDSN string
	RPCEndpoint string

	// MasterKeyBase64 is the 32-byte wallet-encryption key, base64.
	MasterKeyBase64 string

	FeeTreasury        string
	ServiceFeeTreasury string

	// EscrowOwnerID is the system identity owning the escrow holding
	// wallet.
	EscrowOwnerID string

	AdminListenAddr string

	EscrowTTL      time.Duration
	ConfirmTimeout time.Duration

	Fees fees.Config
}

// Load reads configuration. A .env file is honored when present; explicit
// environment always wins. PAYENGINE_FEE_POLICY, when set, points at a
// YAML fee-policy file overriding the built-in defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:           getEnv("PAYENGINE_LOG_LEVEL", "info"),
		LogJSON:            getEnvBool("PAYENGINE_LOG_JSON", false),
		DatabaseDSN:        getEnv("PAYENGINE_DATABASE_DSN", ""),
		RPCEndpoint:        getEnv("PAYENGINE_RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
		MasterKeyBase64:    getEnv("PAYENGINE_MASTER_KEY", ""),
		FeeTreasury:        getEnv("PAYENGINE_FEE_TREASURY", ""),
		ServiceFeeTreasury: getEnv("PAYENGINE_SERVICE_FEE_TREASURY", ""),
		EscrowOwnerID:      getEnv("PAYENGINE_ESCROW_OWNER", "system:escrow"),
		AdminListenAddr:    getEnv("PAYENGINE_ADMIN_ADDR", ":8090"),
		EscrowTTL:          getEnvDuration("PAYENGINE_ESCROW_TTL", 7*24*time.Hour),
		ConfirmTimeout:     getEnvDuration("PAYENGINE_CONFIRM_TIMEOUT", 90*time.Second),
		Fees:               DefaultFeePolicy(),
	}

	if path := os.Getenv("PAYENGINE_FEE_POLICY"); path != "" {
		policy, err := LoadFeePolicy(path)
		if err != nil {
			return nil, err
		}
		cfg.Fees = policy
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MasterKeyBase64 == "" {
		return fmt.Errorf("PAYENGINE_MASTER_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterKeyBase64)
	if err != nil {
		return fmt.Errorf("PAYENGINE_MASTER_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("PAYENGINE_MASTER_KEY must decode to 32 bytes, got %d", len(key))
	}
	if c.FeeTreasury == "" || c.ServiceFeeTreasury == "" {
		return fmt.Errorf("fee treasury addresses are required")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("PAYENGINE_DATABASE_DSN is required")
	}
	return nil
}

// DefaultFeePolicy is the stock fee schedule: 0.50% network fee with a
// 5000-raw-unit floor, 0.25% service fee, 10000-lamport native fallback.
func DefaultFeePolicy() fees.Config {
	return fees.Config{
		FeeBps:            50,
		ServiceFeeBps:     25,
		GlobalMinimum:     5_000,
		NativeFallbackFee: 10_000,
	}
}

// LoadFeePolicy reads a YAML fee policy.
func LoadFeePolicy(path string) (fees.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fees.Config{}, fmt.Errorf("read fee policy: %w", err)
	}
	policy := DefaultFeePolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fees.Config{}, fmt.Errorf("parse fee policy: %w", err)
	}
	return policy, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
