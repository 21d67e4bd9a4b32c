// Package config loads the daemon configuration from the environment, an optional .env file
// and an optional INI file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// IP sources accepted by IPConfig.Source.
const (
	SourceWeb       = "web"
	SourceDNS       = "dns"
	SourceInterface = "interface"
	SourceStatic    = "static"
)

// ErrRefreshInterval is returned when the refresh interval is missing or not a positive number of seconds.
var ErrRefreshInterval = errors.New("REFRESH_INTERVAL must be a positive number of seconds")

// maxSeconds is the largest number of seconds a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// Config holds all configuration
type Config struct {
	Domain          string
	RefreshInterval time.Duration
	Cloudflare      CloudflareConfig
	IP              IPConfig
	Log             LogConfig
	MetricsAddr     string
}

// CloudflareConfig holds Cloudflare configuration
type CloudflareConfig struct {
	APIToken string
	KeyFile  string
	ZoneID   string
	// Proxied is nil when the proxy status should be left to the provider defaults.
	Proxied *bool
	Comment string
	TTL     int
}

// IPConfig selects and configures the external IP provider
type IPConfig struct {
	Source    string
	URL       string
	DNSServer string
	DNSName   string
	Interface string
	Static    string
	Timeout   time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration with priority ENV > INI > default.
// A .env file in the working directory is loaded into the environment first, if present.
// iniPath may be empty.
func Load(iniPath string) (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	var cfgFile *ini.File
	if iniPath != "" {
		f, err := ini.Load(iniPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load INI file: %w", err)
		}
		cfgFile = f
	}
	src := source{ini: cfgFile}

	cfg := &Config{
		Domain: src.get("DOMAIN_NAME", "ddns", "domain", ""),
		Cloudflare: CloudflareConfig{
			APIToken: src.get("CLOUDFLARE_API_TOKEN", "cloudflare", "api_token", ""),
			KeyFile:  src.get("CLOUDFLARE_KEY_FILE", "cloudflare", "key_file", filepath.Join(os.Getenv("HOME"), ".cloudflare")),
			ZoneID:   src.get("CLOUDFLARE_ZONE_ID", "cloudflare", "zone_id", ""),
			Comment:  src.get("CLOUDFLARE_COMMENT", "cloudflare", "comment", "managed by ddns"),
		},
		IP: IPConfig{
			Source:    strings.ToLower(src.get("IP_SOURCE", "ip", "source", SourceWeb)),
			URL:       src.get("IP_URL", "ip", "url", "https://api.ipify.org"),
			DNSServer: src.get("IP_DNS_SERVER", "ip", "dns_server", "resolver1.opendns.com:53"),
			DNSName:   src.get("IP_DNS_NAME", "ip", "dns_name", "myip.opendns.com."),
			Interface: src.get("IP_INTERFACE", "ip", "interface", ""),
			Static:    src.get("IP_STATIC", "ip", "static", ""),
		},
		Log: LogConfig{
			Level:  src.get("LOG_LEVEL", "log", "level", "info"),
			Format: src.get("LOG_FORMAT", "log", "format", "text"),
		},
		MetricsAddr: src.get("METRICS_ADDR", "metrics", "addr", ""),
	}

	var errs []error

	interval, err := src.getInt("REFRESH_INTERVAL", "ddns", "refresh_interval", 0)
	if err != nil || interval <= 0 || int64(interval) > maxSeconds {
		errs = append(errs, fmt.Errorf("%w: %v", ErrRefreshInterval, orValue(err, interval)))
	}
	cfg.RefreshInterval = time.Duration(interval) * time.Second

	if cfg.Cloudflare.TTL, err = src.getInt("CLOUDFLARE_TTL", "cloudflare", "ttl", 1); err != nil {
		errs = append(errs, err)
	}
	timeout, err := src.getInt("HTTP_TIMEOUT_SEC", "ip", "timeout_sec", 5)
	if err != nil || timeout <= 0 || int64(timeout) > maxSeconds {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT_SEC must be a positive number of seconds: %v", orValue(err, timeout)))
	}
	cfg.IP.Timeout = time.Duration(timeout) * time.Second

	if v := src.get("CLOUDFLARE_PROXIED", "cloudflare", "proxied", ""); v != "" {
		proxied, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CLOUDFLARE_PROXIED: %w", err))
		} else {
			cfg.Cloudflare.Proxied = &proxied
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (cfg *Config) validate() (errs []error) {
	// Validate required fields
	if cfg.Domain == "" {
		errs = append(errs, errors.New("DOMAIN_NAME is required"))
	} else if !strings.Contains(cfg.Domain, ".") {
		errs = append(errs, errors.New("DOMAIN_NAME must have at least one dot"))
	}

	switch cfg.IP.Source {
	case SourceWeb, SourceDNS:
	case SourceInterface:
		if cfg.IP.Interface == "" {
			errs = append(errs, errors.New("IP_INTERFACE is required when IP_SOURCE is interface"))
		}
	case SourceStatic:
		if cfg.IP.Static == "" {
			errs = append(errs, errors.New("IP_STATIC is required when IP_SOURCE is static"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IP_SOURCE %q", cfg.IP.Source))
	}
	return errs
}

// source resolves a key from the environment first, then the INI file.
type source struct {
	ini *ini.File
}

func (s source) get(envKey, section, key, defaultValue string) string {
	// Priority 1: Environment variable
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	// Priority 2: INI file
	if s.ini != nil {
		if value := s.ini.Section(section).Key(key).String(); value != "" {
			return value
		}
	}
	// Priority 3: Default value
	return defaultValue
}

func (s source) getInt(envKey, section, key string, defaultValue int) (int, error) {
	value := s.get(envKey, section, key, "")
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", envKey, value)
	}
	return i, nil
}

func orValue(err error, v int) any {
	if err != nil {
		return err
	}
	return v
}
