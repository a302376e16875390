// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds action-gateway configuration.
type Config struct {
	// Event stream
	COMMSURL           string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName          string `envconfig:"SERVICE_NAME" default:"action-gateway"`
	EventsEnabled      bool   `envconfig:"EVENTS_ENABLED" default:"false"`
	ActionEventSubject string `envconfig:"ACTION_EVENT_SUBJECT"`

	// Site
	SiteURL    string `envconfig:"SITE_URL" default:"http://localhost:8080/"`
	SiteSecret string `envconfig:"SITE_SECRET"`

	// Actions
	ActionsPath     string        `envconfig:"ACTIONS_PATH"`
	ActionsManifest string        `envconfig:"ACTIONS_MANIFEST"`
	ActionsWatch    bool          `envconfig:"ACTIONS_WATCH" default:"true"`
	GateExempt      []string      `envconfig:"ACTION_GATE_EXEMPT" default:"admin/plugins/disable,logout,login,file/download"`
	DuplicatePolicy string        `envconfig:"ACTION_DUPLICATE_POLICY" default:"replace"`
	TokenWindow     time.Duration `envconfig:"ACTION_TOKEN_WINDOW" default:"1h"`
	RequestTimeout  time.Duration `envconfig:"ACTION_REQUEST_TIMEOUT" default:"25s"`
	XHRHeader       string        `envconfig:"XHR_HEADER" default:"X-Requested-With"`
	XHRMarker       string        `envconfig:"XHR_MARKER" default:"XMLHttpRequest"`

	// Sessions
	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"actiongate_session"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	SessionSecure bool          `envconfig:"SESSION_SECURE" default:"false"`

	// Database
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP (HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	c.GateExempt = trimList(c.GateExempt)
	return &c, nil
}

// ListenAddr returns HTTPAddr, or ":<HTTPPort>" when it is unset.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the gateway.
func (c *Config) ValidateForServe() error {
	if c.DatabaseURL == "" && c.SiteSecret == "" {
		return fmt.Errorf("%s - DATABASE_URL or SITE_SECRET is required for serve", logPrefix)
	}
	if !strings.HasPrefix(c.SiteURL, "http://") && !strings.HasPrefix(c.SiteURL, "https://") {
		return fmt.Errorf("%s - SITE_URL must be an absolute http(s) URL, got %q", logPrefix, c.SiteURL)
	}
	if c.TokenWindow < time.Second {
		return fmt.Errorf("%s - ACTION_TOKEN_WINDOW must be at least 1s", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - ACTION_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s - SESSION_TTL must be positive", logPrefix)
	}
	switch c.DuplicatePolicy {
	case "replace", "reject":
	default:
		return fmt.Errorf("%s - ACTION_DUPLICATE_POLICY must be replace or reject, got %q", logPrefix, c.DuplicatePolicy)
	}
	if c.EventsEnabled && c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required when EVENTS_ENABLED is set", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, rotate-secret).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
