// Package config loads ekaya-connect configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// DefaultPath is read when neither --config nor CONFIG_PATH is given.
const DefaultPath = "config.yaml"

// Config holds all configuration for ekaya-connect.
// Environment variables override YAML values for fields that support both.
// The credentials key must only come from the environment.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Datasource DatasourceConfig `yaml:"datasource"`
	Query      QueryConfig      `yaml:"query"`
	Sync       SyncConfig       `yaml:"sync"`
	Sources    []SourceConfig   `yaml:"sources"`

	// CredentialsKey opens "enc:" values in sources. Generate with: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
}

// CatalogConfig selects where synchronized table and column descriptors live.
type CatalogConfig struct {
	// Driver is "memory", "badger" or "postgres".
	Driver string `yaml:"driver" env:"CATALOG_DRIVER" env-default:"memory"`
	// Path is the badger store directory.
	Path           string `yaml:"path" env:"CATALOG_PATH" env-default:".ekaya/catalog"`
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_connect"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	// Migrate applies pending migrations when the catalog is opened.
	Migrate bool `yaml:"migrate" env:"CATALOG_MIGRATE" env-default:"true"`
}

// DatasourceConfig holds connection pooling settings for external sources.
type DatasourceConfig struct {
	ConnectionTTL time.Duration `yaml:"connection_ttl" env:"DATASOURCE_CONNECTION_TTL" env-default:"5m"`
	MaxPools      int           `yaml:"max_pools" env:"DATASOURCE_MAX_POOLS" env-default:"50"`
	PoolMaxConns  int32         `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	PoolMinConns  int32         `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// QueryConfig bounds compiled queries and their execution.
type QueryConfig struct {
	DefaultLimit    int           `yaml:"default_limit" env:"QUERY_DEFAULT_LIMIT" env-default:"1000"`
	MaxLimit        int           `yaml:"max_limit" env:"QUERY_MAX_LIMIT" env-default:"10000"`
	Timeout         time.Duration `yaml:"timeout" env:"QUERY_TIMEOUT" env-default:"30s"`
	PreviewLimit    int           `yaml:"preview_limit" env:"QUERY_PREVIEW_LIMIT" env-default:"100"`
	OptionsLimit    int           `yaml:"options_limit" env:"QUERY_OPTIONS_LIMIT" env-default:"50"`
	OptionsCacheTTL time.Duration `yaml:"options_cache_ttl" env:"QUERY_OPTIONS_CACHE_TTL" env-default:"5m"`
}

// SyncConfig configures the schema synchronizer.
type SyncConfig struct {
	// IgnoredTables are regular expressions over raw remote table identifiers.
	IgnoredTables []string `yaml:"ignored_tables" env:"SYNC_IGNORED_TABLES" env-separator:"," env-default:"^__,^sqlite_"`
	Workers       int      `yaml:"workers" env:"SYNC_WORKERS" env-default:"2"`
}

// SourceConfig is one configured external data source. CredentialsFile, when set,
// is read into StructuredCredentials.
type SourceConfig struct {
	models.ConnectionConfig `yaml:",inline"`
	CredentialsFile         string `yaml:"credentials_file"`
}

// DotenvPath is loaded into the environment, when present, before configuration is read.
// Variables already set in the environment win.
const DotenvPath = ".env"

// Load reads configuration from path, CONFIG_PATH, or ./config.yaml, in that order.
// A missing default file is not an error: everything then comes from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", DotenvPath, err)
	}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil || explicit {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.resolveSources(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveSources opens sealed secrets and loads credential files.
func (c *Config) resolveSources() error {
	var sealer *crypto.Sealer
	if c.CredentialsKey != "" {
		s, err := crypto.NewSealer(c.CredentialsKey)
		if err != nil {
			return fmt.Errorf("failed to initialize credentials key: %w", err)
		}
		sealer = s
	}

	for i := range c.Sources {
		src := &c.Sources[i]
		if src.CredentialsFile != "" && src.StructuredCredentials == "" {
			data, err := os.ReadFile(src.CredentialsFile)
			if err != nil {
				return fmt.Errorf("source %q: failed to read credentials_file: %w", src.Name(), err)
			}
			src.StructuredCredentials = string(data)
		}
		for _, field := range []*string{&src.Password, &src.ConnectionString, &src.StructuredCredentials} {
			plain, err := crypto.Reveal(sealer, *field)
			if err != nil {
				return fmt.Errorf("source %q: %w", src.Name(), err)
			}
			*field = plain
		}
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Catalog.Driver {
	case "memory", "postgres":
	case "badger":
		if c.Catalog.Path == "" {
			errs = append(errs, errors.New("catalog.path is required for the badger catalog"))
		}
	default:
		errs = append(errs, fmt.Errorf("catalog.driver must be memory, badger or postgres, got %q", c.Catalog.Driver))
	}
	if c.Query.MaxLimit <= 0 || c.Query.DefaultLimit <= 0 || c.Query.DefaultLimit > c.Query.MaxLimit {
		errs = append(errs, fmt.Errorf("query limits must satisfy 0 < default_limit (%d) <= max_limit (%d)",
			c.Query.DefaultLimit, c.Query.MaxLimit))
	}
	if c.Query.Timeout <= 0 {
		errs = append(errs, errors.New("query.timeout must be positive"))
	}
	for _, pattern := range c.Sync.IgnoredTables {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("sync.ignored_tables: %w", err))
		}
	}
	seen := make(map[string]bool)
	for _, src := range c.Sources {
		name := src.Name()
		if name == "" {
			errs = append(errs, errors.New("every source needs an id or title"))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("duplicate source %q", name))
		}
		seen[name] = true
	}
	return errors.Join(errs...)
}

// Source returns the connection config of the named source.
func (c *Config) Source(name string) (models.ConnectionConfig, error) {
	for _, src := range c.Sources {
		if src.Name() == name || src.ID == name {
			return src.ConnectionConfig, nil
		}
	}
	return models.ConnectionConfig{}, fmt.Errorf("source %q is not configured", name)
}

// ConnectionString returns the catalog database URL.
func (c *CatalogConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     ResolveHostForDocker(c.Host) + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
