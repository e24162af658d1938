// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	AppEnv         string   `env:"APP_ENV" envDefault:"production"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	DBPath         string   `env:"DB_PATH" envDefault:"./data/leads.db"`
	AdminToken     string   `env:"ADMIN_TOKEN"`
	GRPCHealthPort string   `env:"GRPC_HEALTH_PORT"`

	Model     ModelConfig
	Prompt    PromptConfig
	CRM       CRMConfig
	Intake    IntakeConfig
	LeadSync  LeadSyncConfig
	RateLimit RateLimitConfig
}

// ModelConfig configures the language model collaborator.
type ModelConfig struct {
	APIKey      string        `env:"OPENAI_API_KEY"`
	BaseURL     string        `env:"OPENAI_BASE_URL"`
	Name        string        `env:"MODEL_NAME" envDefault:"gpt-4o-mini"`
	Temperature float32       `env:"MODEL_TEMPERATURE" envDefault:"0.3"`
	Timeout     time.Duration `env:"MODEL_TIMEOUT" envDefault:"60s"`
}

// PromptConfig selects the system prompt.
type PromptConfig struct {
	Version string `env:"SYSTEM_PROMPT_VERSION" envDefault:"v3"`
	Path    string `env:"SYSTEM_PROMPT_PATH"`
}

// CRMConfig configures the HubSpot collaborator. An empty token disables it.
type CRMConfig struct {
	Token   string        `env:"HUBSPOT_PRIVATE_APP_TOKEN"`
	BaseURL string        `env:"HUBSPOT_BASE_URL" envDefault:"https://api.hubapi.com"`
	Timeout time.Duration `env:"CRM_TIMEOUT" envDefault:"20s"`
}

// Enabled reports whether a CRM token is configured.
func (c CRMConfig) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

// IntakeConfig tunes the extraction pipeline.
type IntakeConfig struct {
	TopicsPath             string `env:"TOPICS_PATH"`
	ConsentUserWindow      int    `env:"CONSENT_USER_WINDOW" envDefault:"20"`
	ConsentAdjacencyWindow int    `env:"CONSENT_ADJACENCY_WINDOW" envDefault:"6"`
}

// LeadSyncConfig controls the post-reply CRM hand-off and its audit trail.
type LeadSyncConfig struct {
	Async     bool          `env:"LEAD_SYNC_ASYNC" envDefault:"true"`
	Timeout   time.Duration `env:"LEAD_SYNC_TIMEOUT" envDefault:"30s"`
	Retention time.Duration `env:"SYNC_RETENTION" envDefault:"720h"`
}

// RateLimitConfig bounds chat traffic per visitor.
type RateLimitConfig struct {
	Requests       int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	Window         time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	MaxRequestBody int64         `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.Model.APIKey = strings.TrimSpace(cfg.Model.APIKey)
	cfg.CRM.Token = strings.TrimSpace(cfg.CRM.Token)
	cfg.AllowedOrigins = cleanOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("MODEL_TEMPERATURE must be between 0 and 2")
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Model.BaseURL != "" {
		if err := validateURL(c.Model.BaseURL); err != nil {
			return fmt.Errorf("OPENAI_BASE_URL: %w", err)
		}
	}
	if err := validateURL(c.CRM.BaseURL); err != nil {
		return fmt.Errorf("HUBSPOT_BASE_URL: %w", err)
	}
	if c.CRM.Timeout <= 0 {
		return fmt.Errorf("CRM_TIMEOUT must be > 0")
	}
	if c.Intake.ConsentUserWindow <= 0 {
		return fmt.Errorf("CONSENT_USER_WINDOW must be > 0")
	}
	if c.Intake.ConsentAdjacencyWindow < 2 {
		return fmt.Errorf("CONSENT_ADJACENCY_WINDOW must be >= 2")
	}
	if c.LeadSync.Timeout <= 0 {
		return fmt.Errorf("LEAD_SYNC_TIMEOUT must be > 0")
	}
	if c.LeadSync.Retention < 0 {
		return fmt.Errorf("SYNC_RETENTION cannot be negative")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RateLimit.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || strings.EqualFold(c.AppEnv, "dev")
}

// AdminEnabled reports whether the admin API is exposed.
func (c *Config) AdminEnabled() bool {
	return c.AdminToken != ""
}

func cleanOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
