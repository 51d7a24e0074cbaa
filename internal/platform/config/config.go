package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process-level configuration.
type Server struct {
	Addr            string
	Debug           bool
	JWTSigningKey   string
	SessionTTL      time.Duration
	LinkTTL         time.Duration
	SignupRedirect  string
	PostgresDSN     string
	ShutdownTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean. A .env file in the working directory is loaded first when present.
func FromEnv() Server {
	_ = godotenv.Load()

	cfg := Server{
		Addr:            ":8080",
		SessionTTL:      24 * time.Hour,
		LinkTTL:         15 * time.Minute,
		SignupRedirect:  "/signup/complete",
		ShutdownTimeout: 10 * time.Second,
	}
	if addr := os.Getenv("ARTFOLIO_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.Debug = os.Getenv("ARTFOLIO_DEBUG") == "true"

	cfg.JWTSigningKey = os.Getenv("ARTFOLIO_JWT_SIGNING_KEY")
	if cfg.JWTSigningKey == "" {
		// Development default - override in production.
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	if ttl := os.Getenv("ARTFOLIO_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.SessionTTL = d
		}
	}
	if ttl := os.Getenv("ARTFOLIO_LINK_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.LinkTTL = d
		}
	}
	if redirect := os.Getenv("ARTFOLIO_SIGNUP_REDIRECT"); redirect != "" {
		cfg.SignupRedirect = redirect
	}
	cfg.PostgresDSN = os.Getenv("ARTFOLIO_POSTGRES_DSN")

	return cfg
}
