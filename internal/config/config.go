package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tokens     TokenConfig      `yaml:"tokens"`
	DeviceFlow DeviceFlowConfig `yaml:"device_flow"`
	Upstream   []UpstreamConfig `yaml:"upstream"`
	Compat     CompatConfig     `yaml:"compat"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	Domain         string          `yaml:"domain"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-requester throttling settings
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second allowed per
	// requester fingerprint.
	Rate float64 `yaml:"rate"`
	// Burst is the bucket size per fingerprint.
	Burst int `yaml:"burst"`
}

// AuthConfig holds signing key configuration
type AuthConfig struct {
	KeysPath  string `yaml:"keys_path"`
	ActiveKID string `yaml:"active_kid"`
}

// TokenConfig holds token lifetimes and the authorization grant TTL
type TokenConfig struct {
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	GrantTTL        time.Duration `yaml:"grant_ttl"`
	IDTokenTTL      time.Duration `yaml:"id_token_ttl"`
}

// DeviceFlowConfig holds RFC 8628 device authorization settings
type DeviceFlowConfig struct {
	UserCodeLength int           `yaml:"user_code_length"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	GrantTTL       time.Duration `yaml:"grant_ttl"`
}

// UpstreamConfig describes one federated identity provider
type UpstreamConfig struct {
	ID           string   `yaml:"id"`
	Issuer       string   `yaml:"issuer"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	RedirectURI  string   `yaml:"redirect_uri"`
	// SupportsNonce is false for providers that reject the nonce parameter.
	SupportsNonce bool          `yaml:"supports_nonce"`
	LinkTTL       time.Duration `yaml:"link_ttl"`
}

// CompatConfig holds settings for the legacy client bridge
type CompatConfig struct {
	// Scopes is the fixed, non-negotiable scope set granted to legacy clients.
	Scopes     []string      `yaml:"scopes"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds redis-specific configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Tokens.AccessTokenTTL == 0 {
		c.Tokens.AccessTokenTTL = 5 * time.Minute
	}
	if c.Tokens.RefreshTokenTTL == 0 {
		c.Tokens.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Tokens.GrantTTL == 0 {
		c.Tokens.GrantTTL = 10 * time.Minute
	}
	if c.Tokens.IDTokenTTL == 0 {
		c.Tokens.IDTokenTTL = time.Hour
	}
	if c.DeviceFlow.UserCodeLength == 0 {
		c.DeviceFlow.UserCodeLength = 8
	}
	if c.DeviceFlow.PollInterval == 0 {
		c.DeviceFlow.PollInterval = 5 * time.Second
	}
	if c.DeviceFlow.GrantTTL == 0 {
		c.DeviceFlow.GrantTTL = 15 * time.Minute
	}
	if len(c.Compat.Scopes) == 0 {
		c.Compat.Scopes = []string{"urn:emberfed:api:legacy"}
	}
	if c.Compat.SessionTTL == 0 {
		c.Compat.SessionTTL = 30 * 24 * time.Hour
	}
	if c.Server.RateLimit.Rate == 0 {
		c.Server.RateLimit.Rate = 5
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 10
	}
	for i := range c.Upstream {
		if c.Upstream[i].LinkTTL == 0 {
			c.Upstream[i].LinkTTL = 10 * time.Minute
		}
	}
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}

// URL returns the database connection URL in postgres:// format for golang-migrate
func (d *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&search_path=public", url.QueryEscape(d.SSLMode)),
	}
	return u.String()
}

// quoteDSNValue quotes a DSN value when it contains characters libpq treats
// specially. Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':'
		if !safe {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return value
	}

	escaped := ""
	for _, r := range value {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}
