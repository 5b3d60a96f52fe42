package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/validation"
)

// Config is the fully resolved server configuration. Only loadConfig reads
// the environment.
type Config struct {
	Addr    string `validate:"required"`
	Network string `validate:"required,oneof=solana solana-devnet"`

	RPCURL            string   `validate:"omitempty,url"`
	FallbackRPCURLs   []string `validate:"dive,url"`
	EnableRPCFallback bool

	SessionSecret   string        `validate:"required,min=32"`
	SessionDuration time.Duration `validate:"gte=0"`
	Production      bool

	CreatorWallet string   `validate:"required"`
	DefaultPrice  uint64   `validate:"gt=0"`
	Protected     []string `validate:"min=1,dive,startswith=/"`
	SiteWide      bool

	// CreditBundleSize credits are sold for CreditBundlePrice lamports. A
	// zero size disables the credit endpoints.
	CreditBundleSize  int    `validate:"gte=0"`
	CreditBundlePrice uint64 `validate:"required_with=CreditBundleSize"`

	RedisURL string `validate:"omitempty,url"`

	// RateLimit is the sustained payment submissions per second per client.
	RateLimit float64 `validate:"gt=0"`
	RateBurst int     `validate:"gt=0"`

	EnableMCP bool
}

func loadConfig() (Config, error) {
	network, err := paywall.ParseNetwork(getEnvOrDefault("PAYWALL_NETWORK", "devnet"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Addr:              getEnvOrDefault("PAYWALL_ADDR", ":8080"),
		Network:           network,
		RPCURL:            os.Getenv("PAYWALL_RPC_URL"),
		FallbackRPCURLs:   getEnvList("PAYWALL_FALLBACK_RPC_URLS"),
		EnableRPCFallback: getEnvBool("PAYWALL_ENABLE_RPC_FALLBACK", false),
		SessionSecret:     os.Getenv("PAYWALL_SESSION_SECRET"),
		SessionDuration:   getEnvDuration("PAYWALL_SESSION_DURATION", 0),
		Production:        getEnvBool("PAYWALL_PRODUCTION", false),
		CreatorWallet:     os.Getenv("PAYWALL_CREATOR_WALLET"),
		DefaultPrice:      getEnvUint("PAYWALL_DEFAULT_PRICE", 10_000_000),
		Protected:         getEnvList("PAYWALL_PROTECTED_PATHS"),
		SiteWide:          getEnvBool("PAYWALL_SITE_WIDE", false),
		CreditBundleSize:  int(getEnvUint("PAYWALL_CREDIT_BUNDLE_SIZE", 0)),
		CreditBundlePrice: getEnvUint("PAYWALL_CREDIT_BUNDLE_PRICE", 0),
		RedisURL:          os.Getenv("PAYWALL_REDIS_URL"),
		RateLimit:         getEnvFloat("PAYWALL_RATE_LIMIT", 1),
		RateBurst:         int(getEnvUint("PAYWALL_RATE_BURST", 5)),
		EnableMCP:         getEnvBool("PAYWALL_ENABLE_MCP", true),
	}
	if len(cfg.Protected) == 0 {
		cfg.Protected = []string{"/articles/*"}
	}
	return cfg, cfg.Validate()
}

var validate = validator.New()

// Validate checks field constraints and the wallet address format.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validation.ValidateAddress(c.CreatorWallet); err != nil {
		return fmt.Errorf("invalid configuration: PAYWALL_CREATOR_WALLET: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	value, err := strconv.ParseUint(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
