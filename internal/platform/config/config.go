package config

import (
	"os"
	"strings"
	"time"
)

// Environment names recognised by fail-closed checks.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Server captures process-level configuration sourced from the environment.
type Server struct {
	Addr        string
	Environment string

	DatabaseURL string
	RedisURL    string

	// WebhookSecret authenticates inbound provider callbacks (HMAC-SHA256).
	// Empty is tolerated outside production and rejected inside it.
	WebhookSecret string

	// SigningKeyPEM holds the PKCS#1/PKCS#8 private key used to sign
	// settlement certificates. Empty selects the deterministic mock signer.
	SigningKeyPEM string
	SigningKeyID  string

	JWTSigningKey string

	// StreamKeepAlive is the interval between SSE keep-alive comments.
	StreamKeepAlive time.Duration

	// KafkaBrokers enables the ledger export worker when non-empty.
	KafkaBrokers []string
	KafkaTopic   string

	// SignerTimeout bounds a single sign/verify call against a remote signer.
	SignerTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:            envOr("CLEARGATE_ADDR", ":8080"),
		Environment:     envOr("CLEARGATE_ENV", EnvDevelopment),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		WebhookSecret:   os.Getenv("KYB_WEBHOOK_SECRET"),
		SigningKeyPEM:   os.Getenv("CERT_SIGNING_KEY_PEM"),
		SigningKeyID:    envOr("CERT_SIGNING_KEY_ID", "local-rsa"),
		JWTSigningKey:   envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		StreamKeepAlive: durationOr("STREAM_KEEPALIVE", 25*time.Second),
		KafkaTopic:      envOr("LEDGER_EXPORT_TOPIC", "compliance.ledger"),
		SignerTimeout:   durationOr("SIGNER_TIMEOUT", 5*time.Second),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

// IsProduction reports whether fail-closed rules apply.
func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
