// Package config loads application configuration from environment variables,
// an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port   string
	AppEnv string

	// APIKeyFile is a single-line file holding the shared secret.
	APIKeyFile string

	Converter ConverterConfig

	// ExportFormat is the default target of /convertFromHTML. Empty means the
	// converter's own HTML extension.
	ExportFormat string

	MaxUploadSize        int64
	AllowUnknownFileEnds bool
	TidyHTML             bool

	TempDir      string
	CleanupGrace time.Duration

	RateLimit RateLimitConfig

	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Everyone else is identified by the connection.
	TrustedProxies []netip.Prefix
}

// ConverterConfig selects and bounds the external conversion engine. It is
// fixed once the process has started.
type ConverterConfig struct {
	AbiwordPath string
	SofficePath string

	// Timeout bounds a single conversion; zero disables the bound.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous conversions; zero means unbounded.
	MaxConcurrent int
}

// Enabled reports whether any converter binary is configured.
func (c ConverterConfig) Enabled() bool {
	return c.AbiwordPath != "" || c.SofficePath != ""
}

// RateLimitConfig is the per-client sliding window shared by the conversion routes.
type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

var defaults = map[string]interface{}{
	"port":                       "9001",
	"app_env":                    "development",
	"apikey_file":                "./APIKEY.txt",
	"abiword_path":               "",
	"soffice_path":               "",
	"export_format":              "",
	"max_upload_size":            "50MiB",
	"allow_unknown_file_ends":    false,
	"tidy_html":                  false,
	"temp_dir":                   "",
	"cleanup_grace":              "60s",
	"conversion_timeout":         "2m",
	"max_concurrent_conversions": 0,
	"rate_limit_window":          "15m",
	"rate_limit_max":             10,
	"trusted_proxies":            "",
}

// Load reads configuration from a .env file (if present), environment
// variables and, when file is not empty, the given config file.
// Environment variables win over the file.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, reading from environment")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	size, err := humanize.ParseBytes(v.GetString("max_upload_size"))
	if err != nil {
		return nil, fmt.Errorf("parse max_upload_size: %w", err)
	}

	proxies, err := ParseTrustedProxies(v.GetString("trusted_proxies"))
	if err != nil {
		return nil, err
	}

	tempDir := v.GetString("temp_dir")
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	cfg := &Config{
		Port:       v.GetString("port"),
		AppEnv:     v.GetString("app_env"),
		APIKeyFile: v.GetString("apikey_file"),

		Converter: ConverterConfig{
			AbiwordPath:   v.GetString("abiword_path"),
			SofficePath:   v.GetString("soffice_path"),
			Timeout:       v.GetDuration("conversion_timeout"),
			MaxConcurrent: v.GetInt("max_concurrent_conversions"),
		},

		ExportFormat:         NormalizeFormat(v.GetString("export_format")),
		MaxUploadSize:        int64(size),
		AllowUnknownFileEnds: v.GetBool("allow_unknown_file_ends"),
		TidyHTML:             v.GetBool("tidy_html"),

		TempDir:      tempDir,
		CleanupGrace: v.GetDuration("cleanup_grace"),

		RateLimit: RateLimitConfig{
			Window: v.GetDuration("rate_limit_window"),
			Max:    v.GetInt("rate_limit_max"),
		},

		TrustedProxies: proxies,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can run a server.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max_upload_size must be positive"))
	}
	if c.CleanupGrace < 0 {
		errs = append(errs, errors.New("cleanup_grace must not be negative"))
	}
	if c.Converter.Timeout < 0 {
		errs = append(errs, errors.New("conversion_timeout must not be negative"))
	}
	if c.Converter.MaxConcurrent < 0 {
		errs = append(errs, errors.New("max_concurrent_conversions must not be negative"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit_window must be positive"))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("rate_limit_max must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// NormalizeFormat lower-cases a format name and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// ParseTrustedProxies parses a comma or space separated list of IPs and
// CIDR prefixes. A bare IP is a single-address prefix.
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, field := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' }) {
		if strings.Contains(field, "/") {
			prefix, err := netip.ParsePrefix(field)
			if err != nil {
				return nil, fmt.Errorf("parse trusted_proxies: %w", err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, fmt.Errorf("parse trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
