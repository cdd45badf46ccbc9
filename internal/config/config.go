package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/viper"
)

const appName = "originbridge"

// Config holds all application configuration
type Config struct {
	Backend     BackendConfig     `mapstructure:"backend"`
	Local       LocalConfig       `mapstructure:"local"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// BackendConfig holds account service endpoints
type BackendConfig struct {
	AuthURL     string        `mapstructure:"auth_url"`
	ClientID    string        `mapstructure:"client_id"`
	RedirectURI string        `mapstructure:"redirect_uri"`
	Locale      string        `mapstructure:"locale"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LocalConfig controls local installation scanning
type LocalConfig struct {
	ContentPath     string        `mapstructure:"content_path"`     // empty = platform default
	RefreshInterval time.Duration `mapstructure:"refresh_interval"` // minimum time between tick-driven scans
}

// CacheConfig holds persistent cache settings
type CacheConfig struct {
	Path string `mapstructure:"path"` // empty = memory only
}

// CredentialsConfig holds the stored session cookies.
// Cookies are a list rather than a map because viper lowercases map keys.
type CredentialsConfig struct {
	Cookies []Cookie `mapstructure:"cookies"`
}

// Cookie is one stored session cookie
type Cookie struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// CookieMap returns the stored cookies keyed by name
func (c CredentialsConfig) CookieMap() map[string]string {
	m := make(map[string]string, len(c.Cookies))
	for _, ck := range c.Cookies {
		m[ck.Name] = ck.Value
	}
	return m
}

// cookieList converts cookies to the list form written to disk, sorted by name
func cookieList(cookies map[string]string) []map[string]string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]map[string]string, 0, len(names))
	for _, name := range names {
		list = append(list, map[string]string{"name": name, "value": cookies[name]})
	}
	return list
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// MetricsConfig controls the prometheus listener
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // e.g. "127.0.0.1:9464", empty disables
}

// TracingConfig controls OTLP export
type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"` // OTLP gRPC endpoint, empty disables
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			AuthURL:     "https://accounts.ea.com/connect/auth",
			ClientID:    "ORIGIN_JS_SDK",
			RedirectURI: "nucleus:rest",
			Locale:      "en_US",
			Timeout:     30 * time.Second,
		},
		Local: LocalConfig{
			RefreshInterval: 5 * time.Second,
		},
		Cache: CacheConfig{
			Path: defaultCachePath(),
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName, appName+".log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName, appName+".log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appName, "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName, "cache")
	}
}

// Loader reads and writes one config file through its own viper instance
type Loader struct {
	v   *viper.Viper
	dir string
}

// NewLoader creates a loader rooted at dir; an empty dir uses the OS default
func NewLoader(dir string) *Loader {
	if dir == "" {
		dir = defaultConfigPath()
	}
	return &Loader{v: viper.New(), dir: dir}
}

// LoadConfig loads configuration from the default location and environment
func LoadConfig() (*Config, error) {
	return NewLoader("").Load()
}

// Load reads the config file (if any) and environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.v.SetConfigName("config")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath(l.dir)
	l.v.AddConfigPath(".")

	// Environment variable overrides, e.g. ORIGINBRIDGE_LOGGING_LEVEL
	l.v.SetEnvPrefix("ORIGINBRIDGE")
	l.v.SetEnvKeyReplacer(envKeyReplacer)
	l.v.AutomaticEnv()
	bindEnv(l.v)

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes the whole configuration to config.yaml
func (l *Loader) Save(cfg *Config) error {
	l.v.Set("backend.auth_url", cfg.Backend.AuthURL)
	l.v.Set("backend.client_id", cfg.Backend.ClientID)
	l.v.Set("backend.redirect_uri", cfg.Backend.RedirectURI)
	l.v.Set("backend.locale", cfg.Backend.Locale)
	l.v.Set("backend.timeout", cfg.Backend.Timeout.String())

	l.v.Set("local.content_path", cfg.Local.ContentPath)
	l.v.Set("local.refresh_interval", cfg.Local.RefreshInterval.String())

	l.v.Set("cache.path", cfg.Cache.Path)
	l.v.Set("credentials.cookies", cookieList(cfg.Credentials.CookieMap()))

	l.v.Set("logging.file", cfg.Logging.File)
	l.v.Set("logging.level", cfg.Logging.Level)

	l.v.Set("metrics.listen", cfg.Metrics.Listen)
	l.v.Set("tracing.endpoint", cfg.Tracing.Endpoint)

	return l.write()
}

// SaveCookies updates just the stored session cookies
func (l *Loader) SaveCookies(cookies map[string]string) error {
	l.v.Set("credentials.cookies", cookieList(cookies))
	return l.write()
}

// ClearCredentials forgets the stored session cookies
func (l *Loader) ClearCredentials() error {
	l.v.Set("credentials.cookies", []map[string]string{})
	return l.write()
}

// Path returns the config file location
func (l *Loader) Path() string {
	return filepath.Join(l.dir, "config.yaml")
}

func (l *Loader) write() error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := l.v.WriteConfigAs(l.Path()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// HasCredentials returns true if session cookies are stored
func (c *Config) HasCredentials() bool {
	return len(c.Credentials.Cookies) > 0
}
