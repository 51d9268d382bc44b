package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`

	// SecureCookies marks session cookies Secure; enable behind TLS.
	SecureCookies bool `mapstructure:"secure_cookies" yaml:"secure_cookies"`

	// AdminToken guards the provisioning and auto-login routes. Requests
	// must send it in the X-Admin-Token header. Empty disables the routes.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// Connection security modes for IMAP and SMTP.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
)

// MailConfig holds the default mail server endpoints. Credentials may
// override host and port per mailbox.
type MailConfig struct {
	IMAPHost     string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port" yaml:"imap_port"`
	IMAPSecurity string `mapstructure:"imap_security" yaml:"imap_security"`
	SMTPHost     string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port" yaml:"smtp_port"`
	SMTPSecurity string `mapstructure:"smtp_security" yaml:"smtp_security"`

	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	DialTimeoutSec     int  `mapstructure:"dial_timeout_sec" yaml:"dial_timeout_sec"`

	// CreateMissingSpecialFolders issues CREATE for a guessed Sent/Drafts/
	// Trash path before writing into it.
	CreateMissingSpecialFolders bool `mapstructure:"create_missing_special_folders" yaml:"create_missing_special_folders"`
}

// DialTimeout returns the connect timeout as a duration.
func (c MailConfig) DialTimeout() time.Duration {
	if c.DialTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// PleskConfig holds the control panel API settings. APIKey takes
// precedence over basic auth with AdminUser/AdminPassword.
type PleskConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	APIKey             string `mapstructure:"api_key" yaml:"api_key"`
	AdminUser          string `mapstructure:"admin_user" yaml:"admin_user"`
	AdminPassword      string `mapstructure:"admin_password" yaml:"admin_password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	TimeoutSec         int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// ReconcileIntervalMin is how often registered accounts are compared
	// with the panel's mailbox lists in the background. Zero leaves the
	// check on demand only.
	ReconcileIntervalMin int `mapstructure:"reconcile_interval_min" yaml:"reconcile_interval_min"`
}

// ReconcileInterval returns the reconcile period, zero when disabled.
func (c PleskConfig) ReconcileInterval() time.Duration {
	if c.ReconcileIntervalMin <= 0 {
		return 0
	}
	return time.Duration(c.ReconcileIntervalMin) * time.Minute
}

// SessionConfig controls webmail session tokens and stored passwords.
type SessionConfig struct {
	// Secret seeds the token and at-rest encryption keys. When empty and
	// UseKeyring is set, random keys are kept in the system keyring.
	Secret     string `mapstructure:"secret" yaml:"secret"`
	TTLHours   int    `mapstructure:"ttl_hours" yaml:"ttl_hours"`
	UseKeyring bool   `mapstructure:"use_keyring" yaml:"use_keyring"`
}

// TTL returns the session lifetime.
func (c SessionConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// DatabaseConfig selects the account registry backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Mail     MailConfig     `mapstructure:"mail" yaml:"mail"`
	Plesk    PleskConfig    `mapstructure:"plesk" yaml:"plesk"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// envPrefix namespaces environment overrides, e.g. MAILPANEL_MAIL_IMAP_HOST.
const envPrefix = "MAILPANEL"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailpanel/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailpanel", "config.yaml")
}

// DefaultDatabasePath returns the sqlite file next to the default config.
func DefaultDatabasePath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "mailpanel.db")
}

// configDefaults lists every key with its default. Registering all keys
// lets AutomaticEnv overrides reach Unmarshal.
func configDefaults() map[string]any {
	return map[string]any{
		"server.addr":                         ":8080",
		"server.secure_cookies":               false,
		"server.admin_token":                  "",
		"mail.imap_host":                      "localhost",
		"mail.imap_port":                      993,
		"mail.imap_security":                  SecurityTLS,
		"mail.smtp_host":                      "localhost",
		"mail.smtp_port":                      465,
		"mail.smtp_security":                  SecurityTLS,
		"mail.insecure_skip_verify":           false,
		"mail.dial_timeout_sec":               30,
		"mail.create_missing_special_folders": true,
		"plesk.host":                          "",
		"plesk.api_key":                       "",
		"plesk.admin_user":                    "",
		"plesk.admin_password":                "",
		"plesk.insecure_skip_verify":          false,
		"plesk.timeout_sec":                   30,
		"plesk.reconcile_interval_min":        0,
		"session.secret":                      "",
		"session.ttl_hours":                   24,
		"session.use_keyring":                 false,
		"database.driver":                     "sqlite",
		"database.dsn":                        DefaultDatabasePath(),
		"log.level":                           "info",
		"log.format":                          "text",
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range configDefaults() {
		v.SetDefault(key, val)
	}
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A missing file yields the defaults, still subject to env overrides.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *AppConfig) Validate() error {
	for name, mode := range map[string]string{
		"mail.imap_security": c.Mail.IMAPSecurity,
		"mail.smtp_security": c.Mail.SMTPSecurity,
	} {
		if mode != SecurityTLS && mode != SecurityStartTLS {
			return fmt.Errorf("%s must be %q or %q, got %q", name, SecurityTLS, SecurityStartTLS, mode)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("mail", cfg.Mail)
	v.Set("plesk", cfg.Plesk)
	v.Set("session", cfg.Session)
	v.Set("database", cfg.Database)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return os.Chmod(path, 0o600)
}
