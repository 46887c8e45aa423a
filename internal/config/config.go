// Package config loads runtime configuration. Precedence, lowest to
// highest: built-in defaults, an optional YAML file, environment variables.
// A local .env file is folded into the environment first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the API server, the worker
// and the CLI.
type Config struct {
	HTTPPort    string `yaml:"http_port"`
	DatabaseURL string `yaml:"database_url"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	GeminiAPIKey string `yaml:"-"`
	GeminiModel  string `yaml:"gemini_model"`

	OpenAIAPIKey  string `yaml:"-"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// Hex-encoded keys for payer identifier protection.
	EncryptionKeyHex string `yaml:"-"`
	HashKeyHex       string `yaml:"-"`

	WhatsAppEndpoint string `yaml:"whatsapp_endpoint"`
	WhatsAppToken    string `yaml:"-"`
	SMTPAddr         string `yaml:"smtp_addr"`
	SMTPFrom         string `yaml:"smtp_from"`

	IngestRateLimit  int           `yaml:"ingest_rate_limit"`
	IngestRateWindow time.Duration `yaml:"ingest_rate_window"`
	NotifyRateLimit  int           `yaml:"notify_rate_limit"`
	NotifyRateWindow time.Duration `yaml:"notify_rate_window"`

	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`

	// Ages after which the maintenance sweep picks records up.
	StaleMessageAge time.Duration `yaml:"stale_message_age"`
	StalePaymentAge time.Duration `yaml:"stale_payment_age"`
	EscalationAge   time.Duration `yaml:"escalation_age"`
	SweepBatchSize  int           `yaml:"sweep_batch_size"`
	DefaultCurrency string        `yaml:"default_currency"`
}

func defaults() Config {
	return Config{
		HTTPPort:         "8080",
		KafkaTopic:       "payment-events",
		GeminiModel:      "gemini-2.0-flash",
		OpenAIModel:      "gpt-4o-mini",
		OpenAIBaseURL:    "https://api.openai.com/v1",
		IngestRateLimit:  60,
		IngestRateWindow: time.Minute,
		NotifyRateLimit:  30,
		NotifyRateWindow: time.Minute,
		DispatchInterval: 15 * time.Second,
		PollInterval:     time.Minute,
		SweepInterval:    5 * time.Minute,
		StaleMessageAge:  10 * time.Minute,
		StalePaymentAge:  48 * time.Hour,
		EscalationAge:    72 * time.Hour,
		SweepBatchSize:   100,
		DefaultCurrency:  "RWF",
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded if present; the YAML file named by SACCOPAY_CONFIG (or the path
// argument, when non-empty) is applied next, then individual environment
// variables override.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path == "" {
		path = os.Getenv("SACCOPAY_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTPPort, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.KafkaTopic, "KAFKA_TOPIC")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCSV(v)
	}
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.EncryptionKeyHex, "PII_ENCRYPTION_KEY")
	setString(&cfg.HashKeyHex, "PII_HASH_KEY")
	setString(&cfg.WhatsAppEndpoint, "WHATSAPP_ENDPOINT")
	setString(&cfg.WhatsAppToken, "WHATSAPP_TOKEN")
	setString(&cfg.SMTPAddr, "SMTP_ADDR")
	setString(&cfg.SMTPFrom, "SMTP_FROM")
	setString(&cfg.DefaultCurrency, "DEFAULT_CURRENCY")
	setInt(&cfg.IngestRateLimit, "INGEST_RATE_LIMIT")
	setInt(&cfg.NotifyRateLimit, "NOTIFY_RATE_LIMIT")
	setInt(&cfg.SweepBatchSize, "SWEEP_BATCH_SIZE")
	setDuration(&cfg.IngestRateWindow, "INGEST_RATE_WINDOW")
	setDuration(&cfg.NotifyRateWindow, "NOTIFY_RATE_WINDOW")
	setDuration(&cfg.DispatchInterval, "DISPATCH_INTERVAL")
	setDuration(&cfg.PollInterval, "POLL_INTERVAL")
	setDuration(&cfg.SweepInterval, "SWEEP_INTERVAL")
	setDuration(&cfg.StaleMessageAge, "STALE_MESSAGE_AGE")
	setDuration(&cfg.StalePaymentAge, "STALE_PAYMENT_AGE")
	setDuration(&cfg.EscalationAge, "ESCALATION_AGE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
