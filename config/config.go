package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Strategy selects where tenant credentials come from.
type Strategy string

const (
	// StrategyLocalFile keeps one tenant's token in an encrypted local keyring.
	StrategyLocalFile Strategy = "local-file-oauth"
	// StrategyEnvVar seeds one tenant from GOOGLE_REFRESH_TOKEN and ACCOUNT_EMAIL.
	StrategyEnvVar Strategy = "env-var-oauth"
	// StrategyProviderManaged stores many tenants in the database and serves HTTP.
	StrategyProviderManaged Strategy = "provider-managed-oauth"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds the application configuration
type Config struct {
	Strategy      Strategy `env:"AUTH_STRATEGY" envDefault:"local-file-oauth"`
	Transport     string   `env:"TRANSPORT"`
	Port          int      `env:"PORT" envDefault:"8000"`
	TenantHeader  string   `env:"TENANT_HEADER" envDefault:"X-User-ID"`
	DefaultTenant string   `env:"DEFAULT_TENANT" envDefault:"me"`
	LogLevel      string   `env:"LOG_LEVEL" envDefault:"INFO"`

	Google GoogleConfig
	DB     DBConfig `envPrefix:"DB_"`

	KeyringDir      string `env:"KEYRING_DIR"`
	KeyringPassword string `env:"KEYRING_PASSWORD"`
	RedisAddr       string `env:"REDIS_ADDR"`

	IMAPAddr     string `env:"IMAP_ADDR" envDefault:"imap.gmail.com:993"`
	SMTPAddr     string `env:"SMTP_ADDR" envDefault:"smtp.gmail.com:587"`
	PeopleAPIURL string `env:"PEOPLE_API_URL" envDefault:"https://people.googleapis.com"`
	SenderName   string `env:"SENDER_NAME" envDefault:"Plan_Manager"`

	Scheduler SchedulerConfig

	ToolTimeout time.Duration `env:"TOOL_TIMEOUT" envDefault:"60s"`
}

// GoogleConfig is the OAuth client registration.
type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8085/oauth/callback"`
	RefreshToken string `env:"GOOGLE_REFRESH_TOKEN"`
	AccountEmail string `env:"ACCOUNT_EMAIL"`
}

// DBConfig locates the job ledger and the credentials table.
type DBConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN" envDefault:"jobs.sqlite"`
}

// SchedulerConfig tunes the report dispatcher.
type SchedulerConfig struct {
	Interval          time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"15s"`
	BatchSize         int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"20"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"60s"`
	StaleAfter        time.Duration `env:"JOB_STALE_AFTER" envDefault:"10m"`
	Retention         time.Duration `env:"JOB_RETENTION" envDefault:"168h"`
	SearchLimit       int           `env:"SEARCH_LIMIT" envDefault:"5"`
	SnippetLength     int           `env:"SNIPPET_LENGTH" envDefault:"100"`
	ValidateOnEnqueue bool          `env:"VALIDATE_ON_ENQUEUE" envDefault:"true"`
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom builds a Config from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	c.Strategy = Strategy(strings.ToLower(strings.TrimSpace(string(c.Strategy))))
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportStdio
		if c.Strategy == StrategyProviderManaged {
			c.Transport = TransportHTTP
		}
	}
	if c.KeyringDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.KeyringDir = filepath.Join(home, ".config", "mail-tracker", "credentials")
		}
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 60 * time.Second
	}
	c.Scheduler.Sanitize()
}

// Sanitize clamps scheduler values into their supported ranges.
func (s *SchedulerConfig) Sanitize() {
	s.Interval = clampDuration(s.Interval, time.Second, 60*time.Second)
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.JobTimeout < time.Second {
		s.JobTimeout = time.Second
	}
	if s.StaleAfter < s.JobTimeout {
		s.StaleAfter = s.JobTimeout
	}
	if s.Retention < 0 {
		s.Retention = 0
	}
	s.SearchLimit = clampInt(s.SearchLimit, 1, 10)
	s.SnippetLength = clampInt(s.SnippetLength, 100, 200)
}

// Validate checks that the selected strategy has what it needs.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyLocalFile, StrategyEnvVar, StrategyProviderManaged:
	default:
		return fmt.Errorf("AUTH_STRATEGY must be one of %s, %s, %s (got %q)",
			StrategyLocalFile, StrategyEnvVar, StrategyProviderManaged, c.Strategy)
	}
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("TRANSPORT must be stdio or http (got %q)", c.Transport)
	}
	if c.Google.ClientID == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID environment variable is required")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_SECRET environment variable is required")
	}
	if c.Strategy == StrategyEnvVar {
		if c.Google.RefreshToken == "" {
			return fmt.Errorf("GOOGLE_REFRESH_TOKEN environment variable is required for env-var-oauth")
		}
		if c.Google.AccountEmail == "" {
			return fmt.Errorf("ACCOUNT_EMAIL environment variable is required for env-var-oauth")
		}
	}
	if c.Transport == TransportHTTP && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("PORT must be between 1 and 65535 (got %d)", c.Port)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("DB_DSN environment variable is required")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
