package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the optional YAML file layered between the
// built-in defaults and the environment.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Security SecurityConfig `koanf:"security"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	Google   GoogleConfig   `koanf:"google"`
	Company  CompanyConfig  `koanf:"company"`
	Logging  LoggingConfig  `koanf:"logging"`

	// Parsed version of Server.FrontendURL, nil when no frontend is configured.
	ParsedFrontendURL *url.URL `koanf:"-"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	FrontendURL       string        `koanf:"frontend_url"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	MaxUploadBytes    int64         `koanf:"max_upload_bytes"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type SecurityConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// SMTPConfig is optional. Challenge notifications are only sent when Host is set.
type SMTPConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Sender string `koanf:"sender"`
}

// GoogleConfig is optional. Google sign-in is enabled when ClientID is set.
type GoogleConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url"`
}

// CompanyConfig backs the public company details endpoint.
type CompanyConfig struct {
	Name     string `koanf:"name"`
	Slogan   string `koanf:"slogan"`
	Contacts string `koanf:"contacts"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// GoogleEnabled reports whether Google sign-in routes should be served.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != ""
}

// SMTPEnabled reports whether challenge notifications can be sent.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != ""
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			MaxUploadBytes:    10 << 20,
		},
		Database: DatabaseConfig{Path: "./data/runtracker.db"},
		Security: SecurityConfig{TokenTTL: 24 * time.Hour},
		SMTP:     SMTPConfig{Port: 587},
		Company: CompanyConfig{
			Name:   "RunTracker",
			Slogan: "Every kilometre counts",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// New loads configuration from defaults, then an optional YAML file named by
// CONFIG_PATH, then the environment. The environment always wins.
func New() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Anything not listed is ignored.
var envMappings = map[string]string{
	"server_addr":                "server.addr",
	"frontend_url":               "server.frontend_url",
	"rate_limit_requests":        "server.rate_limit_requests",
	"rate_limit_window":          "server.rate_limit_window",
	"rate_limit_disabled":        "server.rate_limit_disabled",
	"max_upload_bytes":           "server.max_upload_bytes",
	"db_path":                    "database.path",
	"jwt_secret":                 "security.jwt_secret",
	"token_ttl":                  "security.token_ttl",
	"smtp_host":                  "smtp.host",
	"smtp_port":                  "smtp.port",
	"smtp_user":                  "smtp.user",
	"smtp_pass":                  "smtp.pass",
	"smtp_sender":                "smtp.sender",
	"google_oauth_client_id":     "google.client_id",
	"google_oauth_client_secret": "google.client_secret",
	"google_oauth_redirect_url":  "google.redirect_url",
	"company_name":               "company.name",
	"company_slogan":             "company.slogan",
	"company_contacts":           "company.contacts",
	"log_level":                  "logging.level",
	"log_format":                 "logging.format",
	"log_caller":                 "logging.caller",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate fails fast on settings the server cannot run without and fills in
// derived fields.
func (c *Config) Validate() error {
	if c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.Security.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if c.Server.RateLimitRequests <= 0 || c.Server.RateLimitWindow <= 0 {
		if !c.Server.RateLimitDisabled {
			return errors.New("rate limit requests and window must be positive")
		}
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}

	if c.Server.FrontendURL != "" {
		parsed, err := url.Parse(c.Server.FrontendURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid FRONTEND_URL %q", c.Server.FrontendURL)
		}
		c.ParsedFrontendURL = parsed
	}

	if c.GoogleEnabled() {
		if c.Google.ClientSecret == "" || c.Google.RedirectURL == "" {
			return errors.New("GOOGLE_OAUTH_CLIENT_SECRET and GOOGLE_OAUTH_REDIRECT_URL are required with GOOGLE_OAUTH_CLIENT_ID")
		}
		if c.Server.FrontendURL == "" {
			return errors.New("FRONTEND_URL is required for Google sign-in")
		}
	}

	if c.SMTPEnabled() {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("invalid SMTP_PORT %d", c.SMTP.Port)
		}
		if c.SMTP.Sender == "" {
			return errors.New("SMTP_SENDER is required with SMTP_HOST")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.Logging.Format)
	}
	return nil
}
