package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	MySQLDSN   string
	SQLitePath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicOrder    string
	ConsumerGroup string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL is overridable so tests can point the client at a local server.
	BaseURL string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

type BusinessConfig struct {
	OrderPrefix        string
	Currency           string
	DefaultPrepMinutes int
	OrderRateLimitRPS  int
	OrderRateBurst     int
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	prepMinutes, _ := strconv.Atoi(getEnv("DEFAULT_PREP_MINUTES", "30"))
	rateRPS, _ := strconv.Atoi(getEnv("ORDER_RATE_LIMIT_RPS", "10"))
	rateBurst, _ := strconv.Atoi(getEnv("ORDER_RATE_BURST", "20"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			MySQLDSN:   getEnv("MYSQL_DSN", "app:secret@tcp(localhost:3306)/tableside?parseTime=true"),
			SQLitePath: getEnv("SQLITE_PATH", "tableside.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicOrder:    getEnv("KAFKA_TOPIC_ORDER_EVENTS", "order-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "tableside-group"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Business: BusinessConfig{
			OrderPrefix:        getEnv("ORDER_NUMBER_PREFIX", "ORD"),
			Currency:           getEnv("CURRENCY", "usd"),
			DefaultPrepMinutes: prepMinutes,
			OrderRateLimitRPS:  rateRPS,
			OrderRateBurst:     rateBurst,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
