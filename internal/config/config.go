package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"portfolio-balancer/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Market    MarketConfig    `mapstructure:"market"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// PortfolioConfig names the evaluated portfolio.
type PortfolioConfig struct {
	Name         string `mapstructure:"name"`
	BaseCurrency string `mapstructure:"base_currency"`
}

// MarketConfig describes currency resolution.
type MarketConfig struct {
	ReferenceCurrency   string   `mapstructure:"reference_currency"`
	SecondaryCurrencies []string `mapstructure:"secondary_currencies"`
	BridgeSymbol        string   `mapstructure:"bridge_symbol"`
	FxBases             []string `mapstructure:"fx_bases"`
}

// RulesConfig defines rule thresholds and defaults.
type RulesConfig struct {
	LadderMultiples []float64     `mapstructure:"ladder_multiples"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	SellFraction    float64       `mapstructure:"sell_fraction"`
	DriftBand       float64       `mapstructure:"drift_band"`
	MinTradeUSD     float64       `mapstructure:"min_trade_usd"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	LogPath  string         `mapstructure:"log_path"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the optional Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BALANCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "balancer")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62616c61))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("portfolio.name", "Default")
	v.SetDefault("portfolio.base_currency", "USD")

	v.SetDefault("market.reference_currency", "USD")
	v.SetDefault("market.secondary_currencies", []string{"GBP"})
	v.SetDefault("market.bridge_symbol", "USDC")
	v.SetDefault("market.fx_bases", []string{"GBP", "BTC"})

	v.SetDefault("rules.ladder_multiples", []float64{2, 3, 5})
	v.SetDefault("rules.cooldown", "24h")
	v.SetDefault("rules.sell_fraction", 0.33)
	v.SetDefault("rules.drift_band", 0.2)
	v.SetDefault("rules.min_trade_usd", 50.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.log_path", "alerts.jsonl")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Market.ReferenceCurrency == "" {
		return fmt.Errorf("market.reference_currency is required")
	}
	if len(c.Rules.LadderMultiples) == 0 {
		return fmt.Errorf("rules.ladder_multiples must not be empty")
	}
	for _, m := range c.Rules.LadderMultiples {
		if m <= 1 {
			return fmt.Errorf("rules.ladder_multiples entries must exceed 1, got %v", m)
		}
	}
	if c.Rules.Cooldown <= 0 {
		return fmt.Errorf("rules.cooldown must be greater than zero")
	}
	if c.Rules.SellFraction <= 0 || c.Rules.SellFraction > 1 {
		return fmt.Errorf("rules.sell_fraction must be in (0, 1]")
	}
	if c.Rules.DriftBand <= 0 {
		return fmt.Errorf("rules.drift_band must be greater than zero")
	}
	if c.Rules.MinTradeUSD < 0 {
		return fmt.Errorf("rules.min_trade_usd cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
