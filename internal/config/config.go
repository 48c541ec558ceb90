// Package config loads the gratulo configuration from a YAML file with
// environment overrides on top. A missing file is not an error; defaults
// and environment variables can drive a full deployment. Validation is
// strict: a malformed value aborts startup instead of falling back.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/gratulo/internal/dates"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Fields    FieldsConfig    `yaml:"fields"`
	Auth      AuthConfig      `yaml:"auth"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string    `yaml:"listen_addr"`
	BaseURL    string    `yaml:"base_url"`
	TLS        TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool       `yaml:"enabled"`
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type QueueConfig struct {
	Path        string        `yaml:"path"`
	Interval    time.Duration `yaml:"interval"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	Retention   time.Duration `yaml:"retention"`
	LogSize     int           `yaml:"log_size"`
	DryRun      bool          `yaml:"dry_run"`
}

type RateLimitConfig struct {
	Mails  int           `yaml:"mails"`
	Window time.Duration `yaml:"window"`
}

type FieldsConfig struct {
	Date1  FieldConfig  `yaml:"date1"`
	Date2  FieldConfig  `yaml:"date2"`
	Entity EntityConfig `yaml:"entity"`
}

// EntityConfig names what a mailing list row is, for salutations and UI
// headings. A sports club may prefer "Spieler", a company "Mitarbeiter".
type EntityConfig struct {
	Singular string `yaml:"singular"`
	Plural   string `yaml:"plural"`
}

type FieldConfig struct {
	Label           string `yaml:"label"`
	Type            string `yaml:"type"`
	FrequencyMonths int    `yaml:"frequency_months"`
	RoundYears      []int  `yaml:"round_years"`
	RoundEvery      int    `yaml:"round_every"`
}

type AuthConfig struct {
	SessionTTL   time.Duration      `yaml:"session_ttl"`
	InitialAdmin InitialAdminConfig `yaml:"initial_admin"`
	OIDC         OIDCConfig         `yaml:"oidc"`
}

type InitialAdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type OIDCConfig struct {
	Enabled       bool     `yaml:"enabled"`
	IssuerURL     string   `yaml:"issuer_url"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	RedirectURL   string   `yaml:"redirect_url"`
	Scopes        []string `yaml:"scopes"`
	AllowedGroups []string `yaml:"allowed_groups"`
}

type APIConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"`
	AllowedIPs []string `yaml:"allowed_ips"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result. A nonexistent file is tolerated;
// any other error is fatal.
func Load(path string) (*Config, error) {
	// .env values never override variables already set in the environment.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// APIEnabled reports whether the JSON API should be mounted. Defaults to
// true when the config leaves it unset.
func (c *Config) APIEnabled() bool {
	return c.API.Enabled == nil || *c.API.Enabled
}

// DateFields converts the configured field surface into classifier fields.
// Index 0 is date1, index 1 is date2.
func (c *Config) DateFields() [2]dates.Field {
	return [2]dates.Field{
		fieldFromConfig("date1", c.Fields.Date1),
		fieldFromConfig("date2", c.Fields.Date2),
	}
}

func fieldFromConfig(key string, fc FieldConfig) dates.Field {
	return dates.Field{
		Key:             key,
		Label:           fc.Label,
		Kind:            dates.Kind(fc.Type),
		FrequencyMonths: fc.FrequencyMonths,
		Round:           dates.RoundRule{Every: fc.RoundEvery, Years: fc.RoundYears},
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "gratulo.db"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = "queue.db"
	}
	if cfg.Queue.Interval == 0 {
		cfg.Queue.Interval = 120 * time.Second
	}
	if cfg.Queue.SendTimeout == 0 {
		cfg.Queue.SendTimeout = 30 * time.Second
	}
	if cfg.Queue.Retention == 0 {
		cfg.Queue.Retention = 30 * 24 * time.Hour
	}
	if cfg.Queue.LogSize == 0 {
		cfg.Queue.LogSize = 500
	}
	if cfg.RateLimit.Mails == 0 {
		cfg.RateLimit.Mails = 40
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 60 * time.Second
	}
	setFieldDefaults(&cfg.Fields.Date1, "Geburtstag", dates.DefaultRoundYears)
	setFieldDefaults(&cfg.Fields.Date2, "Eintritt", dates.DefaultSecondRoundYears)
	if cfg.Fields.Entity.Singular == "" {
		cfg.Fields.Entity.Singular = "Mitglied"
	}
	if cfg.Fields.Entity.Plural == "" {
		cfg.Fields.Entity.Plural = "Mitglieder"
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if len(cfg.Auth.OIDC.Scopes) == 0 {
		cfg.Auth.OIDC.Scopes = []string{"openid", "profile", "email"}
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Server.TLS.ACME.CacheDir == "" {
		cfg.Server.TLS.ACME.CacheDir = "acme-cache"
	}
}

func setFieldDefaults(fc *FieldConfig, label string, roundYears []int) {
	if fc.Label == "" {
		fc.Label = label
	}
	if fc.Type == "" {
		fc.Type = string(dates.KindAnniversary)
	}
	if fc.FrequencyMonths == 0 {
		fc.FrequencyMonths = 12
	}
	if fc.RoundYears == nil && fc.RoundEvery == 0 {
		fc.RoundYears = roundYears
	}
}

func applyEnv(cfg *Config) error {
	envString("LABEL_DATE1", &cfg.Fields.Date1.Label)
	envString("LABEL_DATE1_TYPE", &cfg.Fields.Date1.Type)
	envString("LABEL_DATE2", &cfg.Fields.Date2.Label)
	envString("LABEL_DATE2_TYPE", &cfg.Fields.Date2.Type)
	envString("LABEL_ENTITY_SINGULAR", &cfg.Fields.Entity.Singular)
	envString("LABEL_ENTITY_PLURAL", &cfg.Fields.Entity.Plural)
	envString("GRATULO_DB_PATH", &cfg.Database.Path)
	envString("GRATULO_LISTEN_ADDR", &cfg.Server.ListenAddr)
	envString("INITIAL_ADMIN_USER", &cfg.Auth.InitialAdmin.Email)
	envString("INITIAL_ADMIN_PASSWORD", &cfg.Auth.InitialAdmin.Password)

	if err := envInt("LABEL_DATE1_FREQUENCY_MONTHS", &cfg.Fields.Date1.FrequencyMonths); err != nil {
		return err
	}
	if err := envInt("LABEL_DATE2_FREQUENCY_MONTHS", &cfg.Fields.Date2.FrequencyMonths); err != nil {
		return err
	}
	if err := envInt("RATE_LIMIT_MAILS", &cfg.RateLimit.Mails); err != nil {
		return err
	}
	if err := envSeconds("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window); err != nil {
		return err
	}
	if err := envSeconds("MAIL_QUEUE_INTERVAL_SECONDS", &cfg.Queue.Interval); err != nil {
		return err
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.URL = v
	}

	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, v)
	}
	*dst = n
	return nil
}

func envSeconds(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number of seconds", key, v)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func validate(cfg *Config) error {
	if err := validateField("date1", cfg.Fields.Date1); err != nil {
		return err
	}
	if err := validateField("date2", cfg.Fields.Date2); err != nil {
		return err
	}
	if strings.EqualFold(cfg.Fields.Date1.Label, cfg.Fields.Date2.Label) {
		return fmt.Errorf("fields.date1 and fields.date2 must have distinct labels")
	}
	if cfg.RateLimit.Mails < 1 {
		return fmt.Errorf("rate_limit.mails must be at least 1")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if cfg.Queue.Interval <= 0 {
		return fmt.Errorf("queue.interval must be positive")
	}
	if cfg.Queue.SendTimeout <= 0 {
		return fmt.Errorf("queue.send_timeout must be positive")
	}
	if cfg.Queue.LogSize < 1 {
		return fmt.Errorf("queue.log_size must be at least 1")
	}
	if cfg.Redis.Enabled && cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if cfg.Server.TLS.Enabled && !cfg.Server.TLS.ACME.Enabled {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and key_file are required when TLS is enabled")
		}
	}
	if cfg.Server.TLS.ACME.Enabled && len(cfg.Server.TLS.ACME.Domains) == 0 {
		return fmt.Errorf("server.tls.acme.domains is required when ACME is enabled")
	}
	if cfg.Auth.OIDC.Enabled {
		if cfg.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
		if cfg.Auth.OIDC.ClientSecret == "" {
			return fmt.Errorf("auth.oidc.client_secret is required when OIDC is enabled")
		}
		if cfg.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if cfg.Auth.OIDC.RedirectURL == "" {
			return fmt.Errorf("auth.oidc.redirect_url is required when OIDC is enabled")
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}

func validateField(name string, fc FieldConfig) error {
	if fc.Label == "" {
		return fmt.Errorf("fields.%s.label must not be empty", name)
	}
	if !dates.Kind(fc.Type).Valid() {
		return fmt.Errorf("fields.%s.type must be ANNIVERSARY or EVENT", name)
	}
	if fc.FrequencyMonths < 1 {
		return fmt.Errorf("fields.%s.frequency_months must be at least 1", name)
	}
	if fc.RoundEvery < 0 {
		return fmt.Errorf("fields.%s.round_every must not be negative", name)
	}
	return nil
}
