package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string  `mapstructure:"PORT"`
	Env                string  `mapstructure:"ENV"`
	Issuer             string  `mapstructure:"ISSUER"`
	UpstreamFHIRURL    string  `mapstructure:"UPSTREAM_FHIR_URL"`
	AppsFile           string  `mapstructure:"APPS_FILE"`
	ApplySmartScopes   bool    `mapstructure:"APPLY_SMART_SCOPES"`
	EnforceTokenExpiry bool    `mapstructure:"ENFORCE_TOKEN_EXPIRY"`
	DatabaseURL        string  `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32   `mapstructure:"DB_MIN_CONNS"`
	IDTokenKeyFile     string  `mapstructure:"ID_TOKEN_KEY_FILE"`
	CORSOrigins        string  `mapstructure:"CORS_ORIGINS"`
	RequestTimeoutSecs int     `mapstructure:"REQUEST_TIMEOUT_SECS"`
	RateLimitRPS       float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled         bool    `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string  `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string  `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("APPLY_SMART_SCOPES", true)
	v.SetDefault("ENFORCE_TOKEN_EXPIRY", false)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("REQUEST_TIMEOUT_SECS", 30)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("ISSUER")
	v.BindEnv("UPSTREAM_FHIR_URL")
	v.BindEnv("APPS_FILE")
	v.BindEnv("APPLY_SMART_SCOPES")
	v.BindEnv("ENFORCE_TOKEN_EXPIRY")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("ID_TOKEN_KEY_FILE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("REQUEST_TIMEOUT_SECS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the gateway is configured for production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Application
// registrations must come from somewhere: a JSON file or the database.
func (c *Config) Validate() error {
	if c.AppsFile == "" && c.DatabaseURL == "" {
		return fmt.Errorf("either APPS_FILE or DATABASE_URL must be set so application registrations can be loaded")
	}

	if c.UpstreamFHIRURL == "" {
		return fmt.Errorf("UPSTREAM_FHIR_URL is required (the FHIR server this gateway fronts)")
	}

	if c.Issuer == "" {
		return fmt.Errorf("ISSUER is required (the externally visible base URL of this gateway)")
	}
	if strings.HasSuffix(c.Issuer, "/") {
		return fmt.Errorf("ISSUER must not end with a trailing slash, got %q", c.Issuer)
	}

	if c.IsProduction() && !strings.HasPrefix(c.Issuer, "https://") {
		return fmt.Errorf("ISSUER must be an https:// URL in production, got %q", c.Issuer)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}

// CORSOrigin returns the single origin the gateway advertises on CORS
// responses. A comma-separated list falls back to its first entry since the
// browser-facing header carries exactly one value.
func (c *Config) CORSOrigin() string {
	origins := strings.Split(c.CORSOrigins, ",")
	origin := strings.TrimSpace(origins[0])
	if origin == "" {
		return "*"
	}
	return origin
}
