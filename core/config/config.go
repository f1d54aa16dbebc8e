package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Cache      CacheConfig
	Upstreams  []UpstreamConfig
	Network    NetworkConfig
	Deferred   DeferredConfig
	Refresh    RefreshConfig
	Push       PushConfig
	WorkerPool WorkerPoolConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	CorsAllowedOrigins []string
	EntryPoint         string
}

type PathsConfig struct {
	Storages    string
	OverlayFile string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

// VolatileRule mirrors application.VolatileRule in overlay form.
type VolatileRule struct {
	Host         string        `mapstructure:"host"`
	PathPrefix   string        `mapstructure:"path_prefix"`
	RequireQuery string        `mapstructure:"require_query"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type CacheConfig struct {
	Backend          string // memory, valkey or sql
	Version          int
	Manifest         []string
	ShellURL         string
	StaticExtensions []string
	APIPrefixes      []string
	APIHosts         []string
	Volatile         []VolatileRule
	DefaultTTL       time.Duration
	ShareTargetPath  string
}

// UpstreamConfig maps a gateway mount to a base URL. The empty mount is the
// application origin.
type UpstreamConfig struct {
	Mount   string `mapstructure:"mount"`
	BaseURL string `mapstructure:"base_url"`
}

type NetworkConfig struct {
	// Timeout of zero leaves upstream calls without a deadline.
	Timeout         time.Duration
	MaxConnsPerHost int
}

type DeferredConfig struct {
	MaxAttempts int
	Prefixes    []string
}

type RefreshResource struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type RefreshConfig struct {
	Interval  time.Duration
	Resources []RefreshResource
}

type PushConfig struct {
	DefaultTitle string
	DefaultIcon  string
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from environment variables, then applies
// the optional YAML overlay for list-valued settings.
func LoadConfig() (*Config, error) {
	storages := getEnv("APP_STORAGES", "storages")

	cfg := &Config{
		App: AppConfig{
			Version:            "v0.4.0",
			Port:               getEnv("APP_PORT", "3000"),
			Debug:              getEnvBool("APP_DEBUG", false),
			Environment:        getEnv("APP_ENV", "development"),
			BasicAuth:          getEnvList("APP_BASIC_AUTH", nil),
			BasePath:           getEnv("APP_BASE_PATH", ""),
			TrustedProxies:     getEnvList("APP_TRUSTED_PROXIES", nil),
			CorsAllowedOrigins: getEnvList("APP_CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
			EntryPoint:         getEnv("APP_ENTRY_POINT", "/"),
		},
		Paths: PathsConfig{
			Storages:    storages,
			OverlayFile: getEnv("OFFLINE_CONFIG", "offline.yaml"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite"),
			Name:            getEnv("DB_NAME", filepath.Join(storages, "offline.db")),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
			ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
			ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
			ValkeyDB:        getEnvInt("VALKEY_DB", 0),
			ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "azoffline:"),
		},
		Cache: CacheConfig{
			Backend:          getEnv("CACHE_BACKEND", "memory"),
			Version:          getEnvInt("CACHE_VERSION", 1),
			Manifest:         getEnvList("CACHE_MANIFEST", nil),
			ShellURL:         getEnv("CACHE_SHELL_URL", ""),
			StaticExtensions: getEnvList("CACHE_STATIC_EXTENSIONS", []string{".js", ".css", ".png", ".jpg", ".jpeg", ".svg", ".ico", ".webp", ".woff", ".woff2", ".json", ".webmanifest"}),
			APIPrefixes:      getEnvList("CACHE_API_PREFIXES", []string{"/api/"}),
			APIHosts:         getEnvList("CACHE_API_HOSTS", nil),
			DefaultTTL:       getEnvDuration("CACHE_DEFAULT_TTL", 30*time.Second),
			ShareTargetPath:  getEnv("CACHE_SHARE_TARGET_PATH", "/share-target"),
		},
		Network: NetworkConfig{
			Timeout:         getEnvDuration("UPSTREAM_TIMEOUT", 0),
			MaxConnsPerHost: getEnvInt("UPSTREAM_MAX_CONNS_PER_HOST", 512),
		},
		Deferred: DeferredConfig{
			MaxAttempts: getEnvInt("DEFERRED_MAX_ATTEMPTS", 5),
			Prefixes:    getEnvList("DEFERRED_PREFIXES", nil),
		},
		Refresh: RefreshConfig{
			Interval: getEnvDuration("REFRESH_INTERVAL", 0),
		},
		Push: PushConfig{
			DefaultTitle: getEnv("PUSH_DEFAULT_TITLE", "New notification"),
			DefaultIcon:  getEnv("PUSH_DEFAULT_ICON", ""),
		},
		WorkerPool: WorkerPoolConfig{
			Size:      getEnvInt("CACHE_WORKER_POOL_SIZE", 8),
			QueueSize: getEnvInt("CACHE_WORKER_QUEUE_SIZE", 1000),
		},
	}

	if v := os.Getenv("APP_UPSTREAM"); v != "" {
		cfg.Upstreams = append(cfg.Upstreams, UpstreamConfig{Mount: "", BaseURL: v})
	}

	if err := cfg.applyOverlay(cfg.Paths.OverlayFile); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Global = cfg
	return cfg, nil
}

// applyOverlay reads list-valued settings that do not fit in environment
// variables. A missing file is not an error.
func (c *Config) applyOverlay(path string) error {
	if path == "" || !fileExists(path) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read overlay %s: %w", path, err)
	}

	lists := map[string]*[]string{
		"cache.manifest":          &c.Cache.Manifest,
		"cache.static_extensions": &c.Cache.StaticExtensions,
		"cache.api_prefixes":      &c.Cache.APIPrefixes,
		"cache.api_hosts":         &c.Cache.APIHosts,
		"deferred.prefixes":       &c.Deferred.Prefixes,
	}
	for key, dst := range lists {
		if v.IsSet(key) {
			*dst = v.GetStringSlice(key)
		}
	}

	if v.IsSet("cache.version") {
		c.Cache.Version = v.GetInt("cache.version")
	}
	if v.IsSet("cache.shell_url") {
		c.Cache.ShellURL = v.GetString("cache.shell_url")
	}
	if v.IsSet("cache.default_ttl") {
		c.Cache.DefaultTTL = v.GetDuration("cache.default_ttl")
	}
	if v.IsSet("refresh.interval") {
		c.Refresh.Interval = v.GetDuration("refresh.interval")
	}

	if err := v.UnmarshalKey("cache.volatile", &c.Cache.Volatile); err != nil {
		return fmt.Errorf("decode cache.volatile: %w", err)
	}
	if err := v.UnmarshalKey("refresh.resources", &c.Refresh.Resources); err != nil {
		return fmt.Errorf("decode refresh.resources: %w", err)
	}
	if v.IsSet("upstreams") {
		var ups []UpstreamConfig
		if err := v.UnmarshalKey("upstreams", &ups); err != nil {
			return fmt.Errorf("decode upstreams: %w", err)
		}
		c.Upstreams = ups
	}
	return nil
}

// Validate checks the settings the gateway cannot start without.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(&c.Cache,
		validation.Field(&c.Cache.Backend, validation.Required, validation.In("memory", "valkey", "sql")),
		validation.Field(&c.Cache.Version, validation.Required, validation.Min(1)),
		validation.Field(&c.Cache.Manifest, validation.Each(is.URL)),
		validation.Field(&c.Cache.DefaultTTL, validation.Required, validation.Min(time.Second)),
	)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	err = validation.ValidateStruct(&c.Deferred,
		validation.Field(&c.Deferred.MaxAttempts, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("deferred: %w", err)
	}

	seen := map[string]bool{}
	for _, up := range c.Upstreams {
		if seen[up.Mount] {
			return fmt.Errorf("upstreams: duplicate mount %q", up.Mount)
		}
		seen[up.Mount] = true
		u, err := url.Parse(up.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstreams: mount %q needs an absolute base_url", up.Mount)
		}
	}

	for _, r := range c.Refresh.Resources {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("refresh: resource %q needs a name", r.URL)
		}
	}
	if c.Cache.Backend == "valkey" && !c.Database.ValkeyEnabled {
		return fmt.Errorf("cache: backend valkey requires VALKEY_ENABLED")
	}
	return nil
}

// AppOrigin is the base URL of the empty mount, if configured.
func (c *Config) AppOrigin() string {
	for _, up := range c.Upstreams {
		if up.Mount == "" {
			return up.BaseURL
		}
	}
	return ""
}
