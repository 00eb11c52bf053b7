package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"delta_bot/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
	defaultConfigFile = "values_local.yaml"
)

// Config ...
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		HealthAddr string `yaml:"health_addr"`
	} `yaml:"service"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	DB string `yaml:"db_dsn"`

	Exchange  ExchangeConfig  `yaml:"exchange"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Trailing  TrailingConfig  `yaml:"trailing"`
	Signals   SignalsConfig   `yaml:"signals"`
	Execution ExecutionConfig `yaml:"execution"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

type ExchangeConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Symbol    string `yaml:"symbol"`
	ProductID int    `yaml:"product_id"`

	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

type PriceFeedConfig struct {
	WSURL      string `yaml:"ws_url"`
	Stream     string `yaml:"stream"`      // btcusdt@aggTrade
	RESTSymbol string `yaml:"rest_symbol"` // BTCUSDT, снапшот через REST
	Testnet    bool   `yaml:"testnet"`

	FirstPriceTimeout time.Duration `yaml:"first_price_timeout"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	SignalKey string `yaml:"signal_key"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type AlertsConfig struct {
	Recipient string        `yaml:"recipient"`
	Window    time.Duration `yaml:"window"`
}

// TrailingLevel — ступень политики. StopOffsetPct == nil означает partial booking.
type TrailingLevel struct {
	MinProfitPct  float64  `yaml:"min_profit_pct"`
	StopOffsetPct *float64 `yaml:"trailing_stop_offset"`
	BookFraction  float64  `yaml:"book_fraction"`
}

type TrailingConfig struct {
	CheckInterval         time.Duration   `yaml:"check_interval"`
	PositionFetchInterval time.Duration   `yaml:"position_fetch_interval"`
	StartTrailingPct      float64         `yaml:"start_trailing_profit_pct"`
	FixedStopLossPct      float64         `yaml:"fixed_stop_loss_pct"`
	Levels                []TrailingLevel `yaml:"levels"`
	CloseTimeInForce      string          `yaml:"close_time_in_force"`
}

type SignalsConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	PriceWaitTimeout time.Duration `yaml:"price_wait_timeout"`

	// Смещения от опорной цены, в пунктах. Знак зависит от стороны.
	EntryOffset  float64 `yaml:"entry_offset"`
	StopOffset   float64 `yaml:"stop_offset"`
	TargetOffset float64 `yaml:"target_offset"`

	OrderSize   float64 `yaml:"order_size"`
	TimeInForce string  `yaml:"time_in_force"`
}

type ExecutionConfig struct {
	StaleAfter  time.Duration `yaml:"stale_after"`
	VerifyDelay time.Duration `yaml:"verify_delay"`
}

func offset(v float64) *float64 { return &v }

// Default — боевые значения, поверх них декодируется yaml.
func Default() Config {
	var c Config
	c.Service.Name = "delta_bot"
	c.Service.HealthAddr = ":8080"
	c.Log.Level = "info"

	c.Exchange = ExchangeConfig{
		BaseURL:           "https://api.india.delta.exchange",
		Symbol:            "BTCUSD",
		ProductID:         27,
		RequestsPerSecond: 5,
		Burst:             5,
		Timeout:           10 * time.Second,
	}
	c.PriceFeed = PriceFeedConfig{
		WSURL:             "wss://fstream.binance.com/ws",
		Stream:            "btcusdt@aggTrade",
		RESTSymbol:        "BTCUSDT",
		FirstPriceTimeout: 30 * time.Second,
		StaleAfter:        30 * time.Second,
		ReconnectDelay:    3 * time.Second,
		PingInterval:      20 * time.Second,
	}
	c.Redis = RedisConfig{Addr: "localhost:6379", SignalKey: "signal"}
	c.Alerts = AlertsConfig{Window: time.Hour}
	c.Trailing = TrailingConfig{
		CheckInterval:         time.Second,
		PositionFetchInterval: 5 * time.Second,
		StartTrailingPct:      0.005,
		FixedStopLossPct:      0.005,
		Levels: []TrailingLevel{
			{MinProfitPct: 0.005, StopOffsetPct: offset(0.001), BookFraction: 1},
			{MinProfitPct: 0.01, StopOffsetPct: offset(0.006), BookFraction: 1},
			{MinProfitPct: 0.015, StopOffsetPct: offset(0.012), BookFraction: 1},
			{MinProfitPct: 0.02, BookFraction: 0.9},
		},
		CloseTimeInForce: "ioc",
	}
	c.Signals = SignalsConfig{
		PollInterval:     5 * time.Second,
		SettleDelay:      2 * time.Second,
		PriceWaitTimeout: 30 * time.Second,
		EntryOffset:      50,
		StopOffset:       500,
		TargetOffset:     3000,
		OrderSize:        1,
		TimeInForce:      "gtc",
	}
	c.Execution = ExecutionConfig{
		StaleAfter:  60 * time.Second,
		VerifyDelay: time.Second,
	}
	return c
}

func NewConfig() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	env := viper.New()
	env.AutomaticEnv()

	configFileName := env.GetString(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}

	data, err := os.ReadFile(filepath.Join(configDir, configFileName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse декодирует yaml поверх Default. Переменные окружения не читает.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// levels из файла заменяют дефолтные целиком, а не мержатся по индексу
	var probe struct {
		Trailing struct {
			Levels []TrailingLevel `yaml:"levels"`
		} `yaml:"trailing"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}
	if len(probe.Trailing.Levels) > 0 {
		cfg.Trailing.Levels = nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config file")
	}
	return &cfg, nil
}

// applyEnv — секреты и адреса из окружения перекрывают файл.
func applyEnv(cfg *Config, env *viper.Viper) {
	override := func(dst *string, key string) {
		if v := env.GetString(key); v != "" {
			*dst = v
		}
	}

	override(&cfg.Exchange.APIKey, "DELTA_API_KEY")
	override(&cfg.Exchange.APISecret, "DELTA_API_SECRET")
	override(&cfg.Exchange.BaseURL, "DELTA_BASE_URL")
	override(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	override(&cfg.DB, "DATABASE_DSN")
	override(&cfg.Redis.Addr, "REDIS_ADDR")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Log.Level, "LOG_LEVEL")
	override(&cfg.Alerts.Recipient, "ALERT_RECIPIENT")

	if env.IsSet("TELEGRAM_CHAT_ID") {
		if id := env.GetInt64("TELEGRAM_CHAT_ID"); id != 0 {
			cfg.Telegram.ChatID = id
		}
	}
	if env.IsSet("REDIS_DB") {
		cfg.Redis.DB = env.GetInt("REDIS_DB")
	}
}

func (c *Config) Validate() error {
	if c.Exchange.Symbol == "" {
		return errors.New("exchange.symbol is required")
	}
	if c.Signals.OrderSize <= 0 {
		return fmt.Errorf("signals.order_size must be > 0, got %v", c.Signals.OrderSize)
	}

	intervals := map[string]time.Duration{
		"trailing.check_interval":          c.Trailing.CheckInterval,
		"trailing.position_fetch_interval": c.Trailing.PositionFetchInterval,
		"signals.poll_interval":            c.Signals.PollInterval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	return c.Trailing.Validate()
}

func (t TrailingConfig) Validate() error {
	if t.FixedStopLossPct <= 0 {
		return errors.New("trailing.fixed_stop_loss_pct must be > 0")
	}
	if len(t.Levels) == 0 {
		return errors.New("trailing.levels must not be empty")
	}
	if !sort.SliceIsSorted(t.Levels, func(i, j int) bool {
		return t.Levels[i].MinProfitPct < t.Levels[j].MinProfitPct
	}) {
		return errors.New("trailing.levels must be sorted by min_profit_pct ascending")
	}
	for i := 1; i < len(t.Levels); i++ {
		if t.Levels[i].MinProfitPct == t.Levels[i-1].MinProfitPct {
			return fmt.Errorf("trailing.levels: duplicate min_profit_pct %v", t.Levels[i].MinProfitPct)
		}
	}
	for _, l := range t.Levels {
		if l.StopOffsetPct == nil && l.BookFraction <= 0 {
			return fmt.Errorf("trailing.levels: partial booking level %v needs book_fraction > 0", l.MinProfitPct)
		}
	}
	return nil
}
