package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xutil "FinLearn/pkg/util"
)

// TierConfig is one retraining tier as written in YAML.
type TierConfig struct {
	Tier       int           `yaml:"tier" validate:"gte=1"`
	Interval   time.Duration `yaml:"interval" validate:"gt=0"`
	Slots      []string      `yaml:"slots" validate:"min=1,dive,oneof=fast_linear gradient_boosted sequence"`
	MaxSamples int           `yaml:"max_samples" validate:"gte=0"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
		// ShipTopic publishes aggregated logs to Kafka when set and Kafka is enabled.
		ShipTopic     string        `yaml:"ship_topic"`
		ShipLevel     string        `yaml:"ship_level" default:"error" validate:"oneof=warn error"`
		ShipInterval  time.Duration `yaml:"ship_interval" default:"30s"`
		ShipThreshold int           `yaml:"ship_threshold" default:"100" validate:"gte=1"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Engine struct {
		Symbol          string        `yaml:"symbol" default:"BTCUSDT" validate:"required"`
		Timeframe       string        `yaml:"timeframe" default:"1h" validate:"oneof=1s 1m 5m 1h"`
		TickInterval    time.Duration `yaml:"tick_interval" default:"1m" validate:"gt=0"`
		LookbackDays    int           `yaml:"lookback_days" default:"60" validate:"gte=1"`
		MinConfidence   float64       `yaml:"min_confidence" default:"0.3" validate:"gte=0,lte=1"`
		Equity          float64       `yaml:"equity" default:"10000" validate:"gt=0"`
		AutoTrade       bool          `yaml:"auto_trade"`
		OutcomeHorizon  time.Duration `yaml:"outcome_horizon" default:"1h" validate:"gt=0"`
		OutcomeDeadband float64       `yaml:"outcome_deadband" default:"0.001" validate:"gte=0"`
	} `yaml:"engine"`
	Ensemble struct {
		MinSamples        int                `yaml:"min_samples" default:"30" validate:"gte=2"`
		Arity             int                `yaml:"arity" validate:"gte=0"`
		BuyThreshold      float64            `yaml:"buy_threshold" default:"0.6" validate:"gt=0,lte=1"`
		SellThreshold     float64            `yaml:"sell_threshold" default:"0.4" validate:"gte=0,ltfield=BuyThreshold"`
		StaleAfter        time.Duration      `yaml:"stale_after" default:"48h"`
		RollbackPolicy    string             `yaml:"rollback_policy" default:"overwrite" validate:"oneof=overwrite keep_better"`
		RollbackTolerance float64            `yaml:"rollback_tolerance" default:"0.02" validate:"gte=0"`
		HistorySize       int                `yaml:"history_size" default:"5" validate:"gte=1"`
		ValidationSplit   float64            `yaml:"validation_split" default:"0.2" validate:"gt=0,lt=1"`
		Weights           map[string]float64 `yaml:"weights"`
		LegacyWeights     bool               `yaml:"legacy_weights"`
		Seed              int64              `yaml:"seed" default:"42"`
	} `yaml:"ensemble"`
	Feedback struct {
		PerformanceThreshold float64       `yaml:"performance_threshold" default:"0.55" validate:"gt=0,lt=1"`
		EvaluationWindow     int           `yaml:"evaluation_window" default:"10" validate:"gte=1"`
		Cooldown             time.Duration `yaml:"cooldown" default:"15m"`
		TrainingTimeout      time.Duration `yaml:"training_timeout" default:"10m" validate:"gt=0"`
		DegradedWeightFactor float64       `yaml:"degraded_weight_factor" default:"0.5" validate:"gte=0,lte=1"`
		Tiers                []TierConfig  `yaml:"tiers" validate:"dive"`
	} `yaml:"feedback"`
	Tracker struct {
		Capacity       int     `yaml:"capacity" default:"1000" validate:"gte=1"`
		SampleCapacity int     `yaml:"sample_capacity" default:"5000" validate:"gte=1"`
		Window         int     `yaml:"window" default:"10" validate:"gte=1"`
		TrendDelta     float64 `yaml:"trend_delta" default:"0.02" validate:"gte=0"`
	} `yaml:"tracker"`
	Risk struct {
		MaxPositionFraction float64 `yaml:"max_position_fraction" default:"0.1" validate:"gt=0,lte=1"`
		StopLossFraction    float64 `yaml:"stop_loss_fraction" default:"0.05" validate:"gt=0,lt=1"`
		TakeProfitFraction  float64 `yaml:"take_profit_fraction" default:"0.15" validate:"gt=0"`
		MaxDailyTrades      int     `yaml:"max_daily_trades" default:"5" validate:"gte=1"`
		MinOrderNotional    float64 `yaml:"min_order_notional" default:"10" validate:"gte=0"`
	} `yaml:"risk"`
	Exchange struct {
		Mode        string        `yaml:"mode" default:"paper" validate:"oneof=paper http"`
		BaseURL     string        `yaml:"base_url" validate:"required_if=Mode http"`
		APIKey      string        `yaml:"api_key"`
		Timeout     time.Duration `yaml:"timeout" default:"5s"`
		Attempts    int           `yaml:"attempts" default:"3" validate:"gte=1"`
		SlippageBps float64       `yaml:"slippage_bps" default:"5" validate:"gte=0"`
		MaxQuoteAge time.Duration `yaml:"max_quote_age" default:"2m"`
		OrderBurst  float64       `yaml:"order_burst" default:"5" validate:"gt=0"`
		OrderRate   float64       `yaml:"order_rate" default:"0.5" validate:"gt=0"`
	} `yaml:"exchange"`
	Stream struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key" validate:"required_if=Enabled true"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		Sink           string        `yaml:"sink" default:"clickhouse" validate:"oneof=clickhouse kafka"`
		BatchSize      int           `yaml:"batch_size" default:"500" validate:"gte=1"`
		BatchTimeout   time.Duration `yaml:"batch_timeout" default:"1s"`
		MaxRPS         int           `yaml:"max_rps" validate:"gte=0"`
		BufferSize     int           `yaml:"buffer_size" default:"4096" validate:"gte=1"`
		MaxClockSkew   time.Duration `yaml:"max_clock_skew" default:"5s"`
	} `yaml:"stream"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Topics       struct {
			Quotes   string `yaml:"quotes" default:"finlearn.quotes"`
			Signals  string `yaml:"signals" default:"finlearn.signals"`
			Intents  string `yaml:"intents" default:"finlearn.intents"`
			Outcomes string `yaml:"outcomes" default:"finlearn.outcomes"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"finlearn"`
			Workers    int           `yaml:"workers" default:"4" validate:"gte=1"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finlearn" validate:"required"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		Retention        time.Duration `yaml:"retention" default:"2160h"`
		ConnectAttempts  int           `yaml:"connect_attempts" default:"5" validate:"gte=1"`
		ConnectDelay     time.Duration `yaml:"connect_delay" default:"2s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		Prefix       string        `yaml:"prefix" default:"finlearn"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		Timeout      time.Duration `yaml:"timeout" default:"3s"`
	} `yaml:"redis"`
	Queue struct {
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		QueueSize  int           `yaml:"queue_size" default:"16"`
		RetryLimit int           `yaml:"retry_limit" default:"2"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue"`
	Telegram struct {
		Enabled    bool          `yaml:"enabled"`
		BotToken   string        `yaml:"bot_token" validate:"required_if=Enabled true"`
		ChatID     string        `yaml:"chat_id" validate:"required_if=Enabled true"`
		MaxRetries int           `yaml:"max_retries" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
	} `yaml:"telegram"`
	Maintenance struct {
		JobTimeout       time.Duration `yaml:"job_timeout" default:"5m"`
		ResolveOutcomes  string        `yaml:"resolve_outcomes" default:"@every 1m"`
		FlushTracker     string        `yaml:"flush_tracker" default:"@every 30s"`
		ResetDailyTrades string        `yaml:"reset_daily_trades" default:"0 0 0 * * *"`
		CleanupVersions  string        `yaml:"cleanup_versions" default:"0 30 3 * * *"`
		PruneSink        string        `yaml:"prune_sink" default:"0 0 4 * * *"`
		AutoTrade        string        `yaml:"auto_trade" default:"@every 5m"`
	} `yaml:"maintenance"`
}

// Error names the configuration key that failed validation.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file in the working directory is read first when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(b)
}

func decode(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ENGINE_SYMBOL"); v != "" {
		c.Engine.Symbol = strings.ToUpper(v)
	}
	if v := os.Getenv("AUTO_TRADE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "AUTO_TRADE", Reason: err.Error()}
		}
		c.Engine.AutoTrade = b
	}
	if v := os.Getenv("STREAM_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Stream.Symbols = xutil.SplitCSV(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitCSV(v)
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &Error{Field: fieldPath(fe.Namespace()), Reason: "failed " + fe.Tag() + " " + fe.Param()}
		}
		return err
	}
	if c.Stream.Sink == "kafka" && c.Stream.Enabled && !c.Kafka.Enabled {
		return &Error{Field: "stream.sink", Reason: "kafka sink requires kafka.enabled"}
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return &Error{Field: "kafka.consumer.enabled", Reason: "requires kafka.enabled"}
	}
	seen := make(map[int]bool, len(c.Feedback.Tiers))
	for _, t := range c.Feedback.Tiers {
		if seen[t.Tier] {
			return &Error{Field: "feedback.tiers", Reason: fmt.Sprintf("duplicate tier %d", t.Tier)}
		}
		seen[t.Tier] = true
	}
	return nil
}

// fieldPath strips the root type, leaving the YAML key path.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
