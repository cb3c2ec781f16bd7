package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	BotToken        string
	DatabaseURL     string
	DefaultLanguage string
	LogLevel        string
	HTTPAddr        string
	SupportAdminIDs []int64

	MasterNodeURL     string
	PollInterval      time.Duration
	PollTimeout       time.Duration
	PollMaxAttempts   int
	PendingOrderTTL   time.Duration
	SimulationEnabled bool

	StarsEnabled     bool
	CryptoBotEnabled bool
	CryptoBotToken   string
	CryptoBotAsset   string
	CryptoBotAPIBase string

	DraftBackend string
	RedisAddr    string

	KafkaBrokers            []string
	KafkaPaymentEventsTopic string
}

type MockNodeConfig struct {
	Addr      string
	TaskDelay time.Duration
	FailRate  float64
}

var AppCfg AppConfig

// LoadConfig fills AppCfg and stops the process when required settings are missing.
func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Critical environment variables are missing: %v. Bot will exit.", err)
	}
	AppCfg = *cfg
}

func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on environment variables")
	}

	cfg := &AppConfig{
		BotToken:        strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DefaultLanguage: strings.ToLower(getEnv("DEFAULT_LANGUAGE", "en")),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		SupportAdminIDs: parseIDs(os.Getenv("SUPPORT_ADMIN_IDS")),

		MasterNodeURL:     getEnv("MASTER_NODE_URL", "http://127.0.0.1:6767"),
		PollInterval:      time.Duration(getEnvInt("CONFIG_POLL_INTERVAL_SEC", 15)) * time.Second,
		PollTimeout:       time.Duration(getEnvInt("CONFIG_POLL_TIMEOUT_SEC", 12)) * time.Second,
		PollMaxAttempts:   getEnvInt("CONFIG_POLL_MAX_ATTEMPTS", 0),
		PendingOrderTTL:   time.Duration(getEnvInt("PENDING_ORDER_TTL_MIN", 60)) * time.Minute,
		SimulationEnabled: getEnvBool("SIMULATION_ENABLED", true),

		StarsEnabled:     getEnvBool("STARS_ENABLED", true),
		CryptoBotEnabled: getEnvBool("CRYPTOBOT_ENABLED", false),
		CryptoBotToken:   strings.TrimSpace(os.Getenv("CRYPTOBOT_TOKEN")),
		CryptoBotAsset:   strings.ToUpper(getEnv("CRYPTOBOT_ASSET", "USDT")),
		CryptoBotAPIBase: getEnv("CRYPTOBOT_API_BASE", "https://pay.crypt.bot/api"),

		DraftBackend: strings.ToLower(getEnv("DRAFT_BACKEND", "postgres")),
		RedisAddr:    getEnv("REDIS_ADDR", "127.0.0.1:6379"),

		KafkaBrokers:            splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaPaymentEventsTopic: getEnv("KAFKA_PAYMENT_EVENTS_TOPIC", "payment-events"),
	}

	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is not set")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("CONFIG_POLL_INTERVAL_SEC must be positive")
	}
	if cfg.DraftBackend != "postgres" && cfg.DraftBackend != "redis" {
		return nil, errors.New("DRAFT_BACKEND must be postgres or redis")
	}
	if cfg.CryptoBotEnabled && cfg.CryptoBotToken == "" {
		return nil, errors.New("CRYPTOBOT_TOKEN is required when CRYPTOBOT_ENABLED=true")
	}
	return cfg, nil
}

func LoadMockNode() MockNodeConfig {
	_ = godotenv.Load()
	rate, err := strconv.ParseFloat(getEnv("MOCK_FAIL_RATE", "0"), 64)
	if err != nil || rate < 0 || rate > 1 {
		rate = 0
	}
	return MockNodeConfig{
		Addr:      getEnv("MOCK_MASTER_ADDR", "127.0.0.1:6767"),
		TaskDelay: time.Duration(getEnvInt("MOCK_TASK_DELAY_SEC", 5)) * time.Second,
		FailRate:  rate,
	}
}

// IsAdmin reports whether the Telegram user may run /admin_ commands.
func (c AppConfig) IsAdmin(userID int64) bool {
	for _, id := range c.SupportAdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, item := range splitList(raw) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
