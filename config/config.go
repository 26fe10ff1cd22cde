package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chainswap/pkg/retry"
	"chainswap/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Aggregator  AggregatorConfig
	Intents     IntentsConfig
	Relay       RelayConfig
	Fees        FeesConfig
	Quote       QuoteConfig
	Retry       RetryConfig
	Tracking    TrackingConfig
	ChainsFile  string
	Wallets     WalletsConfig
	Log         LogConfig
	MetricsAddr string
}

// AggregatorConfig points at the 0x-style swap API
type AggregatorConfig struct {
	Backend       string // "aggregator" or "intents"
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
}

// IntentsConfig holds NEAR Intents 1Click API settings
type IntentsConfig struct {
	JWTToken string
	BaseURL  string
}

// RelayConfig points at the gasless relay
type RelayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FeesConfig sets the platform fee taken from every swap
type FeesConfig struct {
	PlatformBps int
	Recipient   string
}

// QuoteConfig tunes the quote engine
type QuoteConfig struct {
	Debounce    time.Duration
	TTL         time.Duration
	AutoRefresh bool
	SlippageBps int // Used when a command does not pass --slippage
}

// RetryConfig bounds silent retries of aggregator calls
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// Policy converts the settings into a retry policy
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Jitter:      r.Jitter,
	}
}

// TrackingConfig controls settlement polling after a swap is submitted
type TrackingConfig struct {
	Interval time.Duration
	MaxPolls int
}

// WalletsConfig holds the local signing keys
type WalletsConfig struct {
	EVM    EVMWalletConfig
	Solana SolanaWalletConfig
}

// EVMWalletConfig configures the EVM signer
type EVMWalletConfig struct {
	PrivateKey string
	RPC        map[uint64]string // Overrides the registry RPC per chain id
}

// SolanaWalletConfig configures the Solana signer
type SolanaWalletConfig struct {
	PrivateKey string
	RPCURL     string
	Commitment string
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string
	Development bool
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".chainswap")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	if err := load(v); err != nil {
		return nil, err
	}
	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// LoadFile reads configuration from an explicit file, still honoring environment variables
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)

	if err := load(v); err != nil {
		return nil, err
	}
	return fromViper(v)
}

func load(v *viper.Viper) error {
	setDefaults(v)

	// Read from environment variables: CHAINSWAP_AGGREGATOR_API_KEY -> aggregator.api_key
	v.SetEnvPrefix("CHAINSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aggregator.backend", "aggregator")
	v.SetDefault("aggregator.base_url", "https://api.0x.org")
	v.SetDefault("aggregator.timeout", 10*time.Second)
	v.SetDefault("aggregator.rate_per_second", 5)
	v.SetDefault("intents.base_url", "https://1click.chaindefuser.com")
	v.SetDefault("relay.base_url", "https://api.0x.org/gasless")
	v.SetDefault("relay.timeout", 15*time.Second)
	v.SetDefault("fees.platform_bps", 50)
	v.SetDefault("quote.debounce", 500*time.Millisecond)
	v.SetDefault("quote.ttl", 30*time.Second)
	v.SetDefault("quote.auto_refresh", true)
	v.SetDefault("quote.slippage_bps", 100)
	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.base_delay", retry.DefaultBaseDelay)
	v.SetDefault("retry.max_delay", retry.DefaultMaxDelay)
	v.SetDefault("retry.jitter", retry.DefaultJitter)
	v.SetDefault("tracking.interval", 15*time.Second)
	v.SetDefault("tracking.max_polls", 120)
	v.SetDefault("wallets.solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("wallets.solana.commitment", "confirmed")
	v.SetDefault("log.level", "info")
}

func fromViper(v *viper.Viper) (*Config, error) {
	rpc, err := parseRPCMap(v.GetStringMapString("wallets.evm.rpc"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Aggregator: AggregatorConfig{
			Backend:       strings.ToLower(v.GetString("aggregator.backend")),
			BaseURL:       v.GetString("aggregator.base_url"),
			APIKey:        v.GetString("aggregator.api_key"),
			Timeout:       v.GetDuration("aggregator.timeout"),
			RatePerSecond: v.GetFloat64("aggregator.rate_per_second"),
		},
		Intents: IntentsConfig{
			JWTToken: v.GetString("intents.jwt_token"),
			BaseURL:  v.GetString("intents.base_url"),
		},
		Relay: RelayConfig{
			BaseURL: v.GetString("relay.base_url"),
			APIKey:  v.GetString("relay.api_key"),
			Timeout: v.GetDuration("relay.timeout"),
		},
		Fees: FeesConfig{
			PlatformBps: v.GetInt("fees.platform_bps"),
			Recipient:   v.GetString("fees.recipient"),
		},
		Quote: QuoteConfig{
			Debounce:    v.GetDuration("quote.debounce"),
			TTL:         v.GetDuration("quote.ttl"),
			AutoRefresh: v.GetBool("quote.auto_refresh"),
			SlippageBps: v.GetInt("quote.slippage_bps"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
			Jitter:      v.GetFloat64("retry.jitter"),
		},
		Tracking: TrackingConfig{
			Interval: v.GetDuration("tracking.interval"),
			MaxPolls: v.GetInt("tracking.max_polls"),
		},
		ChainsFile: v.GetString("chains.file"),
		Wallets: WalletsConfig{
			EVM: EVMWalletConfig{
				PrivateKey: v.GetString("wallets.evm.private_key"),
				RPC:        rpc,
			},
			Solana: SolanaWalletConfig{
				PrivateKey: v.GetString("wallets.solana.private_key"),
				RPCURL:     v.GetString("wallets.solana.rpc_url"),
				Commitment: v.GetString("wallets.solana.commitment"),
			},
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		MetricsAddr: v.GetString("metrics.addr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRPCMap(raw map[string]string) (map[uint64]string, error) {
	out := make(map[uint64]string, len(raw))
	for k, url := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("wallets.evm.rpc: %q is not a chain id", k)
		}
		out[id] = url
	}
	return out, nil
}

// Validate checks value ranges. Credentials are checked by the commands that need them.
func (c *Config) Validate() error {
	if c.Fees.PlatformBps < 0 || c.Fees.PlatformBps > 1000 {
		return fmt.Errorf("fees.platform_bps must be between 0 and 1000, got %d", c.Fees.PlatformBps)
	}
	if c.Quote.SlippageBps < 0 || c.Quote.SlippageBps > types.MaxSlippageBps {
		return fmt.Errorf("quote.slippage_bps must be between 0 and %d, got %d", types.MaxSlippageBps, c.Quote.SlippageBps)
	}
	if c.Quote.TTL <= 0 {
		return fmt.Errorf("quote.ttl must be positive")
	}
	if c.Quote.Debounce < 0 {
		return fmt.Errorf("quote.debounce must not be negative")
	}
	switch c.Aggregator.Backend {
	case "aggregator", "intents":
	default:
		return fmt.Errorf("aggregator.backend must be aggregator or intents, got %q", c.Aggregator.Backend)
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return err
	}
	return nil
}

// RequireIntents reports a helpful error when the 1Click API cannot be used
func (c *Config) RequireIntents() error {
	if c.Intents.JWTToken == "" {
		return fmt.Errorf("JWT token not found. Please set CHAINSWAP_INTENTS_JWT_TOKEN environment variable or add intents.jwt_token to .chainswap.yaml")
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
