package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	Events string `mapstructure:"events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

type Generation struct {
	BaseURL          string `mapstructure:"base-url"`
	APIKey           string `mapstructure:"api-key"`
	DefaultModel     string `mapstructure:"default-model"`
	PollIntervalMs   int    `mapstructure:"poll-interval-ms"`
	MaxPollAttempts  int    `mapstructure:"max-poll-attempts"`
	RequestTimeoutMs int    `mapstructure:"request-timeout-ms"`
}

type Payment struct {
	ServerKey   string `mapstructure:"server-key"`
	ClientKey   string `mapstructure:"client-key"`
	Production  bool   `mapstructure:"production"`
	OrderPrefix string `mapstructure:"order-prefix"`
	MinAmount   int64  `mapstructure:"min-amount"`
	AppURL      string `mapstructure:"app-url"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt-secret"`
}

type Server struct {
	Port         string `mapstructure:"port"`
	AllowOrigins string `mapstructure:"allow-origins"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Generation Generation `mapstructure:"generation"`
	Payment    Payment    `mapstructure:"payment"`
	Auth       Auth       `mapstructure:"auth"`
	Server     Server     `mapstructure:"server"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("kafka.topic.events", "melodia-events")
	v.SetDefault("kafka.writer.batch-size", DefaultKafkaBatchSize)
	v.SetDefault("kafka.writer.batch-timeout-ms", DefaultKafkaBatchTimeoutMs)
	v.SetDefault("generation.default-model", "V5")
	v.SetDefault("generation.poll-interval-ms", 5_000)
	v.SetDefault("generation.max-poll-attempts", 60)
	v.SetDefault("generation.request-timeout-ms", 30_000)
	v.SetDefault("payment.order-prefix", "MELODIA")
	v.SetDefault("payment.min-amount", 10_000)
	v.SetDefault("metrics.interval-ms", 10_000)
}

// LoadConfig reads config.yaml from path. Any key can be overridden from the
// environment, e.g. PAYMENT_SERVER_KEY for payment.server-key. A .env file in
// the working directory is loaded first when present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
