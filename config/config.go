/*
Package config loads the server configuration.

PURPOSE:
  Configuration lives in a TOML file; secrets can be overridden from the
  environment so the file can be committed without keys. Everything is
  resolved once at startup and passed down explicitly - no package reads
  the environment after Load returns.

EXAMPLE (fichflow.toml):

  [server]
  addr = ":8080"
  allowed_origins = ["http://localhost:5173"]

  [database]
  path = "./data/fichflow.db"

  [auth]
  jwt_secret = ""            # env FICHFLOW_JWT_SECRET
  admin_emails = ["ops@fichflow.example"]

  [stripe]
  secret_key = ""            # env STRIPE_SECRET_KEY
  webhook_secret = ""        # env STRIPE_WEBHOOK_SECRET
  [stripe.price_ids]
  pack_10 = "price_..."
  pack_50 = "price_..."

  [anthropic]
  api_key = ""               # env ANTHROPIC_API_KEY
  model = "claude-haiku-4-5-20251001"

  [resend]
  api_key = ""               # env RESEND_API_KEY
  from = "FichFlow <no-reply@fichflow.example>"

  [app]
  url = "http://localhost:8080"
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Server    Server    `toml:"server"`
	Database  Database  `toml:"database"`
	Auth      Auth      `toml:"auth"`
	Stripe    Stripe    `toml:"stripe"`
	Anthropic Anthropic `toml:"anthropic"`
	Resend    Resend    `toml:"resend"`
	App       App       `toml:"app"`
}

type Server struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type Database struct {
	Path string `toml:"path"`
}

type Auth struct {
	JWTSecret   string   `toml:"jwt_secret"`
	AdminEmails []string `toml:"admin_emails"`
}

type Stripe struct {
	SecretKey     string            `toml:"secret_key"`
	WebhookSecret string            `toml:"webhook_secret"`
	PriceIDs      map[string]string `toml:"price_ids"`
}

type Anthropic struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

type Resend struct {
	APIKey string `toml:"api_key"`
	From   string `toml:"from"`
}

type App struct {
	URL string `toml:"url"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database:  Database{Path: "fichflow.db"},
		Anthropic: Anthropic{Model: "claude-haiku-4-5-20251001"},
		App:       App{URL: "http://localhost:8080"},
	}
}

// Load reads the TOML file at path (if non-empty), applies environment
// overrides for secrets, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	applyEnv(&cfg.Auth.JWTSecret, "FICHFLOW_JWT_SECRET")
	applyEnv(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	applyEnv(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	applyEnv(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	applyEnv(&cfg.Resend.APIKey, "RESEND_API_KEY")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the server cannot run without.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or FICHFLOW_JWT_SECRET)")
	}
	return nil
}

// IsAdminEmail reports whether email is in the admin bootstrap list.
func (c Config) IsAdminEmail(email string) bool {
	for _, e := range c.Auth.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
