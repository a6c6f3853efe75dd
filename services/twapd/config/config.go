package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML documents.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for twapd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	DatabasePath  string          `yaml:"database" toml:"database"`
	LogFile       string          `yaml:"log_file" toml:"log_file"`
	Journal       JournalConfig   `yaml:"journal" toml:"journal"`
	Oracle        OracleConfig    `yaml:"oracle" toml:"oracle"`
	Source        SourceConfig    `yaml:"source" toml:"source"`
	Treasury      TreasuryConfig  `yaml:"treasury" toml:"treasury"`
	Keeper        KeeperConfig    `yaml:"keeper" toml:"keeper"`
	Fees          FeesConfig      `yaml:"fees" toml:"fees"`
	Admin         AdminConfig     `yaml:"admin" toml:"admin"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// OracleConfig holds the immutable window parameters and pair derivation inputs.
type OracleConfig struct {
	Window           Duration `yaml:"window" toml:"window"`
	Granularity      uint64   `yaml:"granularity" toml:"granularity"`
	Factory          string   `yaml:"factory" toml:"factory"`
	InitCodeHash     string   `yaml:"init_code_hash" toml:"init_code_hash"`
	IncentiveToken   string   `yaml:"incentive_token" toml:"incentive_token"`
	IncentivePercent string   `yaml:"incentive_percent" toml:"incentive_percent"`
	IncentivizedPair string   `yaml:"incentivized_pair" toml:"incentivized_pair"`
	Treasury         string   `yaml:"treasury" toml:"treasury"`
}

// JournalConfig selects where ring slots are persisted. The sqlite backend
// shares the service database; leveldb keeps them in a separate directory.
type JournalConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// SourceConfig selects the cumulative price source.
type SourceConfig struct {
	Type     string            `yaml:"type" toml:"type"`
	Endpoint string            `yaml:"endpoint" toml:"endpoint"`
	Timeout  Duration          `yaml:"timeout" toml:"timeout"`
	Prices   map[string]string `yaml:"prices" toml:"prices"`
}

// TreasuryConfig seeds the incentive ledger on first start.
type TreasuryConfig struct {
	InitialBalance string `yaml:"initial_balance" toml:"initial_balance"`
}

// KeeperConfig drives the built-in refresh loop.
type KeeperConfig struct {
	Enabled  bool       `yaml:"enabled" toml:"enabled"`
	Interval Duration   `yaml:"interval" toml:"interval"`
	Caller   string     `yaml:"caller" toml:"caller"`
	Pairs    []PairSpec `yaml:"pairs" toml:"pairs"`
}

// PairSpec names a pair by its two tokens.
type PairSpec struct {
	TokenA string `yaml:"token_a" toml:"token_a"`
	TokenB string `yaml:"token_b" toml:"token_b"`
}

// FeesConfig configures the downstream fee schedule updater.
type FeesConfig struct {
	Enabled     bool              `yaml:"enabled" toml:"enabled"`
	Interval    Duration          `yaml:"interval" toml:"interval"`
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	Token       string            `yaml:"token" toml:"token"`
	StableToken string            `yaml:"stable_token" toml:"stable_token"`
	FeeToken    string            `yaml:"fee_token" toml:"fee_token"`
	Amounts     map[string]string `yaml:"amounts" toml:"amounts"`
}

// AdminConfig protects administrative endpoints.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token" toml:"bearer_token"`
}

// RateLimitConfig throttles the public update endpoint per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// Option mutates the configuration after decoding and before validation.
type Option func(*Config)

// WithDatabasePath overrides the configured database path.
func WithDatabasePath(path string) Option {
	return func(cfg *Config) {
		if strings.TrimSpace(path) != "" {
			cfg.DatabasePath = path
		}
	}
}

// Load reads configuration from the supplied path. Files with a .toml extension
// are decoded as TOML, everything else as YAML.
func Load(path string, opts ...Option) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/twapd.sqlite"
	}
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = "sqlite"
	}
	if cfg.Oracle.Window.Duration == 0 {
		cfg.Oracle.Window.Duration = 24 * time.Hour
	}
	if cfg.Oracle.Granularity == 0 {
		cfg.Oracle.Granularity = 24
	}
	if cfg.Oracle.IncentivePercent == "" {
		cfg.Oracle.IncentivePercent = "0"
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "uniswapv2"
	}
	if cfg.Source.Timeout.Duration == 0 {
		cfg.Source.Timeout.Duration = 10 * time.Second
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = time.Minute
	}
	if cfg.Fees.Interval.Duration == 0 {
		cfg.Fees.Interval.Duration = time.Hour
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
}

func validate(cfg Config) error {
	window := cfg.Oracle.Window.Duration
	if window < time.Second || window%time.Second != 0 {
		return fmt.Errorf("oracle window must be a whole number of seconds")
	}
	if cfg.Oracle.Granularity <= 1 {
		return fmt.Errorf("oracle granularity must be greater than 1")
	}
	if uint64(window/time.Second)%cfg.Oracle.Granularity != 0 {
		return fmt.Errorf("oracle window %s not evenly divisible by granularity %d", window, cfg.Oracle.Granularity)
	}
	if !common.IsHexAddress(cfg.Oracle.Factory) {
		return fmt.Errorf("oracle factory must be a hex address")
	}
	if _, err := uint256.FromDecimal(cfg.Oracle.IncentivePercent); err != nil {
		return fmt.Errorf("oracle incentive_percent: %w", err)
	}
	if cfg.Oracle.IncentivizedPair != "" {
		if !common.IsHexAddress(cfg.Oracle.IncentivizedPair) {
			return fmt.Errorf("oracle incentivized_pair must be a hex address")
		}
		if !common.IsHexAddress(cfg.Oracle.IncentiveToken) || !common.IsHexAddress(cfg.Oracle.Treasury) {
			return fmt.Errorf("incentivized pair requires incentive_token and treasury addresses")
		}
	}
	if cfg.Treasury.InitialBalance != "" {
		if _, err := uint256.FromDecimal(cfg.Treasury.InitialBalance); err != nil {
			return fmt.Errorf("treasury initial_balance: %w", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Journal.Backend)) {
	case "sqlite":
	case "leveldb":
		if strings.TrimSpace(cfg.Journal.Path) == "" {
			return fmt.Errorf("leveldb journal requires a path")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Source.Type)) {
	case "uniswapv2":
		if strings.TrimSpace(cfg.Source.Endpoint) == "" {
			return fmt.Errorf("uniswapv2 source requires an endpoint")
		}
	case "static":
		if len(cfg.Source.Prices) == 0 {
			return fmt.Errorf("static source requires prices")
		}
	default:
		return fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
	if strings.TrimSpace(cfg.Admin.BearerToken) == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	if cfg.Keeper.Enabled {
		if !common.IsHexAddress(cfg.Keeper.Caller) {
			return fmt.Errorf("keeper caller must be a hex address")
		}
		if len(cfg.Keeper.Pairs) == 0 {
			return fmt.Errorf("keeper requires at least one pair")
		}
		for _, pair := range cfg.Keeper.Pairs {
			if !common.IsHexAddress(pair.TokenA) || !common.IsHexAddress(pair.TokenB) {
				return fmt.Errorf("keeper pair tokens must be hex addresses")
			}
		}
	}
	if cfg.Fees.Enabled {
		if strings.TrimSpace(cfg.Fees.Endpoint) == "" {
			return fmt.Errorf("fees updater requires an endpoint")
		}
		if !common.IsHexAddress(cfg.Fees.StableToken) || !common.IsHexAddress(cfg.Fees.FeeToken) {
			return fmt.Errorf("fees stable_token and fee_token must be hex addresses")
		}
		for _, name := range []string{"draft", "settle", "appeal"} {
			raw, ok := cfg.Fees.Amounts[name]
			if !ok {
				return fmt.Errorf("fees amount %q must be configured", name)
			}
			if _, err := uint256.FromDecimal(raw); err != nil {
				return fmt.Errorf("fees amount %q: %w", name, err)
			}
		}
	}
	return nil
}

// WindowSeconds returns the oracle window in whole seconds.
func (c OracleConfig) WindowSeconds() uint64 {
	return uint64(c.Window.Duration / time.Second)
}
