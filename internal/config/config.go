package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/isometry/adauth/internal/auth"
	"github.com/isometry/adauth/internal/ldap"
	"github.com/isometry/adauth/internal/store"

	"github.com/creasty/defaults"
	goldap "github.com/go-ldap/ldap/v3"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from ADAUTH_* environment
// variables and an optional .env file.
type Config struct {
	// Directory
	Domain        string   // ADAUTH_DOMAIN, required
	NetBIOSDomain string   // ADAUTH_NETBIOS_DOMAIN, defaults to Domain
	LDAPURLs      []string // ADAUTH_LDAP_URL, comma separated; SRV discovery when empty
	BaseDN        string   // ADAUTH_BASE_DN, defaults to the domain components
	UserOU        string   `default:"Users"` // ADAUTH_USER_OU, RDN path below OU=, e.g. "Users,OU=Corp"

	// Transport
	StartTLS           bool
	InsecureSkipVerify bool
	TLSCACertFile      string
	Timeout            time.Duration `default:"10s"`
	MaxRetries         int           `default:"1"`
	InitialBackoff     time.Duration `default:"250ms"`
	MaxBackoff         time.Duration `default:"2s"`
	BackoffFactor      float64       `default:"2.0"`
	FetchServerInfo    bool          `default:"true"`

	// Database
	DatabaseDriver string `default:"sqlite"`
	DatabaseDSN    string `default:"adauth.db"`
}

// Load reads the configuration. Unset variables keep their defaults.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	cfg.Domain = getEnv("ADAUTH_DOMAIN", cfg.Domain)
	cfg.NetBIOSDomain = getEnv("ADAUTH_NETBIOS_DOMAIN", cfg.NetBIOSDomain)
	cfg.LDAPURLs = getEnvSlice("ADAUTH_LDAP_URL", cfg.LDAPURLs)
	cfg.BaseDN = getEnv("ADAUTH_BASE_DN", cfg.BaseDN)
	cfg.UserOU = getEnv("ADAUTH_USER_OU", cfg.UserOU)

	cfg.StartTLS = getEnvBool("ADAUTH_START_TLS", cfg.StartTLS)
	cfg.InsecureSkipVerify = getEnvBool("ADAUTH_TLS_SKIP_VERIFY", cfg.InsecureSkipVerify)
	cfg.TLSCACertFile = getEnv("ADAUTH_TLS_CA_CERT_FILE", cfg.TLSCACertFile)
	cfg.Timeout = getEnvDuration("ADAUTH_TIMEOUT", cfg.Timeout)
	cfg.MaxRetries = getEnvInt("ADAUTH_MAX_RETRIES", cfg.MaxRetries)
	cfg.FetchServerInfo = getEnvBool("ADAUTH_FETCH_SERVER_INFO", cfg.FetchServerInfo)

	cfg.DatabaseDriver = getEnv("ADAUTH_DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseDSN = getEnv("ADAUTH_DATABASE_DSN", cfg.DatabaseDSN)

	return cfg, nil
}

// Validate checks the configuration for values the rest of the process
// cannot recover from.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return fmt.Errorf("ADAUTH_DOMAIN is required")
	}

	if strings.TrimSpace(c.UserOU) == "" {
		return fmt.Errorf("ADAUTH_USER_OU is required")
	}
	if _, err := goldap.ParseDN("OU=" + c.UserOU); err != nil {
		return fmt.Errorf("invalid ADAUTH_USER_OU value: %q: %w", c.UserOU, err)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("invalid ADAUTH_TIMEOUT value: %s (must be positive)", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid ADAUTH_MAX_RETRIES value: %d (must be >= 0)", c.MaxRetries)
	}

	for _, raw := range c.LDAPURLs {
		if _, err := ldap.ParseLDAPURL(raw); err != nil {
			return fmt.Errorf("invalid ADAUTH_LDAP_URL value: %w", err)
		}
	}

	if _, err := store.GetDialector(c.DatabaseDriver, c.DatabaseDSN); err != nil {
		return fmt.Errorf("invalid ADAUTH_DATABASE_DRIVER value: %q", c.DatabaseDriver)
	}

	if c.TLSCACertFile != "" {
		if _, err := os.Stat(c.TLSCACertFile); err != nil {
			return fmt.Errorf("invalid ADAUTH_TLS_CA_CERT_FILE value: %w", err)
		}
	}

	return nil
}

// Directory returns the naming settings used to build bind DN candidates.
func (c *Config) Directory() auth.Directory {
	return auth.Directory{
		Domain:        c.Domain,
		NetBIOSDomain: c.NetBIOSDomain,
		UserOU:        c.UserOU,
		BaseDN:        c.BaseDN,
	}
}

// ConnectionConfig returns the directory transport settings.
func (c *Config) ConnectionConfig() *ldap.ConnectionConfig {
	cc := ldap.DefaultConfig()
	cc.Domain = c.Domain
	cc.LDAPURLs = c.LDAPURLs
	cc.Timeout = c.Timeout
	cc.StartTLS = c.StartTLS
	cc.InsecureSkipVerify = c.InsecureSkipVerify
	cc.TLSCACertFile = c.TLSCACertFile
	cc.FetchServerInfo = c.FetchServerInfo
	cc.MaxRetries = c.MaxRetries
	cc.InitialBackoff = c.InitialBackoff
	cc.MaxBackoff = c.MaxBackoff
	cc.BackoffFactor = c.BackoffFactor
	return cc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var parts []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}
