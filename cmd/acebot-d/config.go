package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultAddr       = "127.0.0.1:8090"
	defaultCatalog    = "secured"
	defaultSSOTTL     = 10 * time.Minute
	defaultPruneEvery = time.Minute
	envPrefix         = "ACEBOT"
)

// Config is the resolved daemon configuration.
type Config struct {
	Addr     string
	LogLevel string
	Trace    bool
	TLSCert  string
	TLSKey   string

	// Catalog is an embedded catalog name. CatalogPath, when set, wins.
	Catalog     string
	CatalogPath string

	Storage   StorageConfig
	Identity  IdentityConfig
	Directory DirectoryConfig

	// PrincipalSource is "claims" or "directory".
	PrincipalSource string
	SSOTTL          time.Duration
}

type StorageConfig struct {
	// Backend is one of memory, sqlite, redis.
	Backend       string
	SQLitePath    string
	PruneEvery    time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type IdentityConfig struct {
	// Provider is "dev" or "tokenservice".
	Provider       string
	ConnectionName string
	// BaseURL is the public URL of this daemon, used in dev sign-in links.
	BaseURL    string
	SigningKey string
	Endpoint   string
	AppID      string
	AppToken   string
}

type DirectoryConfig struct {
	// Backend is "dev" or "graph".
	Backend  string
	Endpoint string
	Timeout  time.Duration
}

// bindFlags registers the daemon flags on fs and binds them to v under
// their config keys.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("config", "", "optional YAML config file")
	fs.String("addr", defaultAddr, "HTTP listen address")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.Bool("trace", false, "export OpenTelemetry spans to stdout")
	fs.String("tls-cert", "", "TLS certificate file")
	fs.String("tls-key", "", "TLS key file")
	fs.String("catalog", defaultCatalog, "embedded catalog name")
	fs.String("catalog-path", "", "catalog YAML file, overrides --catalog")
	fs.String("storage", "memory", "session storage: memory|sqlite|redis")
	fs.String("sqlite-path", "acebot.db", "SQLite database path")
	fs.String("redis-addr", "127.0.0.1:6379", "Redis address")
	fs.String("identity", "dev", "identity provider: dev|tokenservice")
	fs.String("directory", "dev", "user directory: dev|graph")
	fs.String("principal-source", "claims", "principal source: claims|directory")

	for key, flag := range map[string]string{
		"config":              "config",
		"addr":                "addr",
		"log_level":           "log-level",
		"trace":               "trace",
		"tls.cert":            "tls-cert",
		"tls.key":             "tls-key",
		"catalog.name":        "catalog",
		"catalog.path":        "catalog-path",
		"storage.backend":     "storage",
		"storage.sqlite.path": "sqlite-path",
		"storage.redis.addr":  "redis-addr",
		"identity.provider":   "identity",
		"directory.backend":   "directory",
		"principal_source":    "principal-source",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("catalog.name", defaultCatalog)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite.path", "acebot.db")
	v.SetDefault("storage.sqlite.prune_every", defaultPruneEvery)
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("identity.provider", "dev")
	v.SetDefault("directory.backend", "dev")
	v.SetDefault("directory.timeout", 10*time.Second)
	v.SetDefault("principal_source", "claims")
	v.SetDefault("sso.ttl", defaultSSOTTL)
}

// LoadConfig resolves the configuration from v: flags, then ACEBOT_*
// environment variables, then the optional config file, then defaults.
func LoadConfig(v *viper.Viper) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(resolvePath(file, cwd))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		Addr:        strings.TrimSpace(v.GetString("addr")),
		LogLevel:    strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		Trace:       v.GetBool("trace"),
		TLSCert:     resolvePath(v.GetString("tls.cert"), cwd),
		TLSKey:      resolvePath(v.GetString("tls.key"), cwd),
		Catalog:     strings.TrimSpace(v.GetString("catalog.name")),
		CatalogPath: resolvePath(v.GetString("catalog.path"), cwd),
		Storage: StorageConfig{
			Backend:       normalize(v.GetString("storage.backend")),
			SQLitePath:    resolvePath(v.GetString("storage.sqlite.path"), cwd),
			PruneEvery:    v.GetDuration("storage.sqlite.prune_every"),
			RedisAddr:     strings.TrimSpace(v.GetString("storage.redis.addr")),
			RedisPassword: v.GetString("storage.redis.password"),
			RedisDB:       v.GetInt("storage.redis.db"),
		},
		Identity: IdentityConfig{
			Provider:       normalize(v.GetString("identity.provider")),
			ConnectionName: strings.TrimSpace(v.GetString("identity.connection_name")),
			BaseURL:        strings.TrimSpace(v.GetString("identity.base_url")),
			SigningKey:     v.GetString("identity.signing_key"),
			Endpoint:       strings.TrimSpace(v.GetString("identity.endpoint")),
			AppID:          strings.TrimSpace(v.GetString("identity.app_id")),
			AppToken:       v.GetString("identity.app_token"),
		},
		Directory: DirectoryConfig{
			Backend:  normalize(v.GetString("directory.backend")),
			Endpoint: strings.TrimSpace(v.GetString("directory.endpoint")),
			Timeout:  v.GetDuration("directory.timeout"),
		},
		PrincipalSource: normalize(v.GetString("principal_source")),
		SSOTTL:          v.GetDuration("sso.ttl"),
	}

	if cfg.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("unsupported log level: %s", cfg.LogLevel)
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Config{}, errors.New("tls requires both cert and key")
	}
	if cfg.Catalog == "" && cfg.CatalogPath == "" {
		return Config{}, errors.New("catalog name or path is required")
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			return Config{}, errors.New("storage=sqlite requires sqlite-path")
		}
		if cfg.Storage.PruneEvery <= 0 {
			return Config{}, errors.New("sqlite prune interval must be positive")
		}
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			return Config{}, errors.New("storage=redis requires redis-addr")
		}
	default:
		return Config{}, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}

	switch cfg.Identity.Provider {
	case "dev":
		if cfg.Identity.BaseURL == "" {
			cfg.Identity.BaseURL = "http://" + cfg.Addr
		}
	case "tokenservice":
		if cfg.Identity.Endpoint == "" {
			return Config{}, errors.New("identity=tokenservice requires identity.endpoint")
		}
		if cfg.Identity.ConnectionName == "" {
			return Config{}, errors.New("identity=tokenservice requires identity.connection_name")
		}
	default:
		return Config{}, fmt.Errorf("unsupported identity provider: %s", cfg.Identity.Provider)
	}

	switch cfg.Directory.Backend {
	case "dev", "graph":
	default:
		return Config{}, fmt.Errorf("unsupported directory: %s", cfg.Directory.Backend)
	}

	switch cfg.PrincipalSource {
	case "claims", "directory":
	default:
		return Config{}, fmt.Errorf("unsupported principal source: %s", cfg.PrincipalSource)
	}

	if cfg.SSOTTL <= 0 {
		return Config{}, errors.New("sso ttl must be positive")
	}

	return cfg, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
