package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	KafkaBrokers         []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic      string        `mapstructure:"KAFKA_AUDIT_TOPIC"`
	AdminWallets         []string      `mapstructure:"ADMIN_WALLETS"`
	WalletChecksumStrict bool          `mapstructure:"WALLET_CHECKSUM_STRICT"`
	QRSigningKey         string        `mapstructure:"QR_SIGNING_KEY"`
	QRTTL                time.Duration `mapstructure:"QR_TTL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	UploadBodyLimit      string        `mapstructure:"UPLOAD_BODY_LIMIT"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BreakGlassPerHour    int           `mapstructure:"BREAK_GLASS_PER_HOUR"`
	MetricsEnabled       bool          `mapstructure:"METRICS_ENABLED"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("KAFKA_AUDIT_TOPIC", "medvault.audit")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	// Record files and avatars travel base64-encoded, up to 10MB decoded.
	v.SetDefault("UPLOAD_BODY_LIMIT", "15M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BREAK_GLASS_PER_HOUR", 10)
	v.SetDefault("QR_TTL", "0s")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("KAFKA_AUDIT_TOPIC")
	v.BindEnv("ADMIN_WALLETS")
	v.BindEnv("WALLET_CHECKSUM_STRICT")
	v.BindEnv("QR_SIGNING_KEY")
	v.BindEnv("QR_TTL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("UPLOAD_BODY_LIMIT")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BREAK_GLASS_PER_HOUR")
	v.BindEnv("METRICS_ENABLED")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.AdminWallets = splitList(strings.ToLower(v.GetString("ADMIN_WALLETS")))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.QRSigningKey == "" && cfg.IsDev() {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate development signing key: %w", err)
		}
		cfg.QRSigningKey = hex.EncodeToString(key)
		log.Println("WARNING: QR_SIGNING_KEY not set, using an ephemeral key. Emergency credentials will not survive a restart.")
	}

	if len(cfg.AdminWallets) == 0 {
		log.Println("WARNING: ADMIN_WALLETS is empty. No account will be granted the admin role on registration.")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes QR_SIGNING_KEY.
func (c *Config) SigningKey() ([]byte, error) {
	key, err := hex.DecodeString(c.QRSigningKey)
	if err != nil {
		return nil, fmt.Errorf("QR_SIGNING_KEY is not valid hex: %w", err)
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. The emergency
// credential signing key must be at least 32 bytes, and production
// deployments must name at least one admin wallet.
func (c *Config) Validate() error {
	if c.QRSigningKey == "" {
		return fmt.Errorf("QR_SIGNING_KEY is required outside development")
	}
	key, err := c.SigningKey()
	if err != nil {
		return err
	}
	if len(key) < 32 {
		return fmt.Errorf("QR_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	if c.QRTTL < 0 {
		return fmt.Errorf("QR_TTL must not be negative, got %s", c.QRTTL)
	}

	if c.IsProduction() && len(c.AdminWallets) == 0 {
		return fmt.Errorf("ADMIN_WALLETS is required in production")
	}
	for _, w := range c.AdminWallets {
		if len(w) != 42 || !strings.HasPrefix(w, "0x") {
			return fmt.Errorf("ADMIN_WALLETS entry %q is not a wallet address", w)
		}
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.BreakGlassPerHour < 0 {
		return fmt.Errorf("BREAK_GLASS_PER_HOUR must not be negative")
	}

	return nil
}
