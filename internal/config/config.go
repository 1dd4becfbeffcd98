package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
// Infrastructure adapters are disabled when their address is empty.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Ingestion pipeline.
	WindowSize           int
	SampleInterval       time.Duration
	RainUnitFactor       float64
	SensorMountHeightCm  float64
	StoreTimeout         time.Duration
	AggregateMaxAttempts int
	StaleAfter           time.Duration
	SweepInterval        time.Duration
	SweepMaxAge          time.Duration
	PolicyFile           string

	// Fire-and-forget fan-out.
	DispatchWorkers   int
	DispatchQueueSize int
	DispatchTimeout   time.Duration

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers        []string
	KafkaTelemetryTopic string
	KafkaEventsTopic    string
	KafkaGroupID        string

	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
	MQTTQoS       byte
	MQTTUsername  string
	MQTTPassword  string

	NATSURL           string
	NATSSubjectPrefix string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	TelegramBotToken string
	TelegramChatID   string
	TelegramTimeout  time.Duration
}

// WindowDuration is the nominal wall-clock span of one aggregation window.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.WindowSize) * c.SampleInterval
}

// TelegramEnabled reports whether both Telegram credentials are set.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var p parser

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		WindowSize:           p.positiveInt("WINDOW_SIZE", 12),
		SampleInterval:       p.positiveDuration("SAMPLE_INTERVAL", "5s"),
		RainUnitFactor:       p.positiveFloat("RAIN_UNIT_FACTOR", 3600),
		SensorMountHeightCm:  p.float("SENSOR_MOUNT_HEIGHT_CM", 0),
		StoreTimeout:         p.positiveDuration("STORE_TIMEOUT", "3s"),
		AggregateMaxAttempts: p.positiveInt("AGGREGATE_MAX_ATTEMPTS", 5),
		StaleAfter:           p.positiveDuration("STALE_AFTER", "5m"),
		SweepInterval:        p.positiveDuration("SWEEP_INTERVAL", "10m"),
		SweepMaxAge:          p.positiveDuration("SWEEP_MAX_AGE", "15m"),
		PolicyFile:           os.Getenv("POLICY_FILE"),

		DispatchWorkers:   p.positiveInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize: p.positiveInt("DISPATCH_QUEUE_SIZE", 1024),
		DispatchTimeout:   p.positiveDuration("DISPATCH_TIMEOUT", "5s"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.nonNegativeInt("REDIS_DB", 0),

		KafkaBrokers:        sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTelemetryTopic: sharedcfg.EnvOrDefault("KAFKA_TELEMETRY_TOPIC", "river-telemetry"),
		KafkaEventsTopic:    sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "hydroalert-events"),
		KafkaGroupID:        sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "hydroalert"),

		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),
		MQTTTopic:     sharedcfg.EnvOrDefault("MQTT_TOPIC", "hydroalert/+/telemetry"),
		MQTTClientID:  sharedcfg.EnvOrDefault("MQTT_CLIENT_ID", "hydroalert-ingest"),
		MQTTQoS:       p.qos("MQTT_QOS", 1),
		MQTTUsername:  os.Getenv("MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),

		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: sharedcfg.EnvOrDefault("NATS_SUBJECT_PREFIX", "hydroalert"),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: sharedcfg.EnvOrDefault("INFLUX_BUCKET", "hydroalert"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramTimeout:  p.positiveDuration("TELEGRAM_TIMEOUT", "5s"),
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.InfluxURL != "" && (cfg.InfluxToken == "" || cfg.InfluxOrg == "") {
		return nil, errors.New("INFLUX_URL is set but INFLUX_TOKEN or INFLUX_ORG is not")
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		return nil, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	if cfg.SweepMaxAge < cfg.StaleAfter {
		return nil, errors.New("SWEEP_MAX_AGE must not be shorter than STALE_AFTER")
	}

	return cfg, nil
}

// parser records the first invalid variable so Load can report it by name.
type parser struct {
	err error
}

func (p *parser) fail(key string, cause error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, cause)
	}
}

func (p *parser) positiveDuration(key, def string) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		p.fail(key, err)
		return 0
	}
	if d <= 0 {
		p.fail(key, errors.New("must be positive"))
	}
	return d
}

func (p *parser) positiveInt(key string, def int) int {
	n := p.int(key, def)
	if n <= 0 {
		p.fail(key, errors.New("must be positive"))
	}
	return n
}

func (p *parser) nonNegativeInt(key string, def int) int {
	n := p.int(key, def)
	if n < 0 {
		p.fail(key, errors.New("must not be negative"))
	}
	return n
}

func (p *parser) int(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) positiveFloat(key string, def float64) float64 {
	f := p.float(key, def)
	if f <= 0 {
		p.fail(key, errors.New("must be positive"))
	}
	return f
}

func (p *parser) qos(key string, def int) byte {
	n := p.int(key, def)
	if n < 0 || n > 2 {
		p.fail(key, errors.New("must be 0, 1, or 2"))
		return 0
	}
	return byte(n)
}
