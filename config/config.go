package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Trade    TradeConfig    `yaml:"trade"`
	Channels ChannelsConfig `yaml:"channels"`
	Feed     FeedConfig     `yaml:"feed"`
	Book     BookConfig     `yaml:"book"`
	Features FeaturesConfig `yaml:"features"`
	Models   ModelsConfig   `yaml:"models"`
	Latency  LatencyConfig  `yaml:"latency"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Writer   WriterConfig   `yaml:"writer"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TradeConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	UpdateBuffer int `yaml:"update_buffer"`
	RecordBuffer int `yaml:"record_buffer"`
}

type FeedConfig struct {
	Source       string              `yaml:"source"`
	PingInterval time.Duration       `yaml:"ping_interval"`
	ReadTimeout  time.Duration       `yaml:"read_timeout"`
	Backoff      BackoffConfig       `yaml:"backoff"`
	Okx          OkxSourceConfig     `yaml:"okx"`
	Binance      BinanceSourceConfig `yaml:"binance"`
	Kucoin       KucoinSourceConfig  `yaml:"kucoin"`
	Bybit        BybitSourceConfig   `yaml:"bybit"`
}

type BackoffConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	// MaxAttempts bounds consecutive failed connection attempts.
	// Zero means retry forever.
	MaxAttempts int `yaml:"max_attempts"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type OkxSourceConfig struct {
	URL     string `yaml:"url"`
	RestURL string `yaml:"rest_url"`
	// Channel selects the book stream variant, books or books5.
	Channel   string          `yaml:"channel"`
	Symbol    string          `yaml:"symbol"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type BinanceSourceConfig struct {
	Symbol        string `yaml:"symbol"`
	SnapshotLimit int    `yaml:"snapshot_limit"`
}

type KucoinSourceConfig struct {
	// Endpoint overrides the futures API base URL, REST and websocket
	// token negotiation both go through it.
	Endpoint string `yaml:"endpoint"`
	Symbol   string `yaml:"symbol"`
}

type BybitSourceConfig struct {
	URL    string `yaml:"url"`
	Symbol string `yaml:"symbol"`
	Depth  int    `yaml:"depth"`
}

type BookConfig struct {
	// MaxDepth trims each side to this many levels when a snapshot is
	// applied. Zero keeps every level the feed delivers.
	MaxDepth       int           `yaml:"max_depth"`
	ResyncCooldown time.Duration `yaml:"resync_cooldown"`
}

type FeaturesConfig struct {
	ImbalanceLevels int     `yaml:"imbalance_levels"`
	HistorySize     int     `yaml:"history_size"`
	EwmaDecay       float64 `yaml:"ewma_decay"`
	VolatilitySeed  float64 `yaml:"volatility_seed"`
}

type ModelsConfig struct {
	Slippage   SlippageConfig   `yaml:"slippage"`
	Impact     ImpactConfig     `yaml:"impact"`
	MakerTaker MakerTakerConfig `yaml:"maker_taker"`
	Fees       FeesConfig       `yaml:"fees"`
}

type SlippageConfig struct {
	Intercept         float64 `yaml:"intercept"`
	SpreadCoef        float64 `yaml:"spread_coef"`
	SizeCoef          float64 `yaml:"size_coef"`
	VolatilityCoef    float64 `yaml:"volatility_coef"`
	ImbalanceCoef     float64 `yaml:"imbalance_coef"`
	MaxSpreadMultiple float64 `yaml:"max_spread_multiple"`
}

type ImpactConfig struct {
	Gamma               float64 `yaml:"gamma"`
	Eta                 float64 `yaml:"eta"`
	VolFactor           float64 `yaml:"vol_factor"`
	RiskAversion        float64 `yaml:"risk_aversion"`
	HorizonHours        float64 `yaml:"horizon_hours"`
	DailyVolumeMultiple float64 `yaml:"daily_volume_multiple"`
	DepthLevels         int     `yaml:"depth_levels"`
}

type MakerTakerConfig struct {
	Intercept      float64 `yaml:"intercept"`
	SizeCoef       float64 `yaml:"size_coef"`
	SpreadCoef     float64 `yaml:"spread_coef"`
	VolatilityCoef float64 `yaml:"volatility_coef"`
	ImbalanceCoef  float64 `yaml:"imbalance_coef"`
}

type FeesConfig struct {
	Tiers map[string]FeeTierConfig `yaml:"tiers"`
}

type FeeTierConfig struct {
	Maker float64 `yaml:"maker"`
	Taker float64 `yaml:"taker"`
}

type LatencyConfig struct {
	WindowSize int `yaml:"window_size"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type WriterConfig struct {
	Enabled bool         `yaml:"enabled"`
	Buffer  BufferConfig `yaml:"buffer"`
}

type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

// FeedSymbol returns the configured instrument of the active source.
func (c *Config) FeedSymbol() string {
	switch c.Feed.Source {
	case "okx":
		return c.Feed.Okx.Symbol
	case "binance":
		return c.Feed.Binance.Symbol
	case "kucoin":
		return c.Feed.Kucoin.Symbol
	case "bybit":
		return c.Feed.Bybit.Symbol
	default:
		return ""
	}
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{
			UpdateBuffer: 1024,
			RecordBuffer: 1024,
		},
		Feed: FeedConfig{
			PingInterval: 20 * time.Second,
			ReadTimeout:  30 * time.Second,
			Backoff: BackoffConfig{
				InitialDelay: time.Second,
				MaxDelay:     60 * time.Second,
			},
		},
		Book: BookConfig{
			ResyncCooldown: 2 * time.Second,
		},
		Features: FeaturesConfig{
			ImbalanceLevels: 5,
			HistorySize:     256,
			EwmaDecay:       0.94,
			VolatilitySeed:  0.01,
		},
		Models: ModelsConfig{
			Slippage: SlippageConfig{
				SpreadCoef:        0.5,
				SizeCoef:          0.1,
				VolatilityCoef:    2.0,
				ImbalanceCoef:     -0.3,
				MaxSpreadMultiple: 10,
			},
			Impact: ImpactConfig{
				Gamma:               0.1,
				Eta:                 0.01,
				VolFactor:           0.5,
				RiskAversion:        0.001,
				HorizonHours:        1.0,
				DailyVolumeMultiple: 100,
			},
			MakerTaker: MakerTakerConfig{
				SizeCoef:       -0.04,
				SpreadCoef:     0.4,
				VolatilityCoef: -0.8,
				ImbalanceCoef:  0.4,
			},
			Fees: FeesConfig{Tiers: DefaultFeeTiers()},
		},
		Latency: LatencyConfig{WindowSize: 100},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(config.Models.Fees.Tiers) == 0 {
		config.Models.Fees.Tiers = DefaultFeeTiers()
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// DefaultFeeTiers returns the OKX spot VIP tier schedule used when the
// configuration file does not supply its own table.
func DefaultFeeTiers() map[string]FeeTierConfig {
	return map[string]FeeTierConfig{
		"VIP0": {Maker: 0.0010, Taker: 0.0015},
		"VIP1": {Maker: 0.0008, Taker: 0.0010},
		"VIP2": {Maker: 0.0006, Taker: 0.0008},
		"VIP3": {Maker: 0.0004, Taker: 0.0005},
		"VIP4": {Maker: 0.0002, Taker: 0.0003},
		"VIP5": {Maker: 0.0000, Taker: 0.0001},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Trade.Name == "" {
		return fmt.Errorf("trade.name is required")
	}

	if cfg.Trade.Version == "" {
		return fmt.Errorf("trade.version is required")
	}

	if cfg.Channels.UpdateBuffer <= 0 {
		return fmt.Errorf("channels.update_buffer must be greater than 0")
	}
	if cfg.Channels.RecordBuffer <= 0 {
		return fmt.Errorf("channels.record_buffer must be greater than 0")
	}

	switch cfg.Feed.Source {
	case "okx", "binance", "kucoin", "bybit":
	default:
		return fmt.Errorf("feed.source must be one of okx, binance, kucoin, bybit")
	}
	if cfg.FeedSymbol() == "" {
		return fmt.Errorf("feed.%s.symbol is required", cfg.Feed.Source)
	}
	if cfg.Feed.Backoff.InitialDelay <= 0 {
		return fmt.Errorf("feed.backoff.initial_delay must be greater than 0")
	}
	if cfg.Feed.Backoff.MaxDelay < cfg.Feed.Backoff.InitialDelay {
		return fmt.Errorf("feed.backoff.max_delay must be at least initial_delay")
	}
	if cfg.Feed.Backoff.MaxAttempts < 0 {
		return fmt.Errorf("feed.backoff.max_attempts must not be negative")
	}

	if cfg.Book.MaxDepth < 0 {
		return fmt.Errorf("book.max_depth must not be negative")
	}

	if cfg.Features.ImbalanceLevels <= 0 {
		return fmt.Errorf("features.imbalance_levels must be greater than 0")
	}
	if cfg.Features.HistorySize < 2 {
		return fmt.Errorf("features.history_size must be at least 2")
	}
	if cfg.Features.EwmaDecay <= 0 || cfg.Features.EwmaDecay >= 1 {
		return fmt.Errorf("features.ewma_decay must be in (0, 1)")
	}
	if cfg.Features.VolatilitySeed < 0 {
		return fmt.Errorf("features.volatility_seed must not be negative")
	}

	if cfg.Models.Slippage.MaxSpreadMultiple <= 0 {
		return fmt.Errorf("models.slippage.max_spread_multiple must be greater than 0")
	}
	if cfg.Models.Impact.HorizonHours <= 0 {
		return fmt.Errorf("models.impact.horizon_hours must be greater than 0")
	}
	if cfg.Models.Impact.DailyVolumeMultiple <= 0 {
		return fmt.Errorf("models.impact.daily_volume_multiple must be greater than 0")
	}
	if len(cfg.Models.Fees.Tiers) == 0 {
		return fmt.Errorf("models.fees.tiers must not be empty")
	}
	for tier, rates := range cfg.Models.Fees.Tiers {
		// Maker rebates (negative maker rates) are legal, negative taker
		// rates are not.
		if rates.Taker < 0 || rates.Maker > 1 || rates.Taker > 1 {
			return fmt.Errorf("models.fees.tiers.%s has invalid rates", tier)
		}
	}

	if cfg.Latency.WindowSize <= 0 {
		return fmt.Errorf("latency.window_size must be greater than 0")
	}

	if cfg.Writer.Enabled {
		if cfg.Writer.Buffer.MaxSize <= 0 {
			return fmt.Errorf("writer.buffer.max_size must be greater than 0")
		}
		if cfg.Writer.Buffer.FlushInterval <= 0 {
			return fmt.Errorf("writer.buffer.flush_interval must be greater than 0")
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
