package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Prices   PricesConfig   `mapstructure:"prices"`
	Tokens   TokensConfig   `mapstructure:"tokens"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
}

type ChainConfig struct {
	Name              string        `mapstructure:"name"`
	RPCEndpoint       string        `mapstructure:"rpc_endpoint"`
	NetworkPassphrase string        `mapstructure:"network_passphrase"`
	FactoryAddress    string        `mapstructure:"factory_address"`
	StartLedger       uint32        `mapstructure:"start_ledger"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxConcurrent     int64         `mapstructure:"max_concurrent_requests"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
	// URL overrides the discrete fields when set.
	URL string `mapstructure:"url"`
}

// SyncConfig drives the factory and pair polling loops.
type SyncConfig struct {
	PollingInterval time.Duration `mapstructure:"polling_interval"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	FetchLimit      int           `mapstructure:"fetch_limit"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	BackoffAttempts int           `mapstructure:"backoff_attempts"`
	PairWorkers     int           `mapstructure:"pair_workers"`
	SkipMalformed   bool          `mapstructure:"skip_malformed"`
}

type PricesConfig struct {
	Intervals       []string `mapstructure:"intervals"`
	DefaultDecimals uint32   `mapstructure:"default_decimals"`
}

type TokensConfig struct {
	RegistryFile string `mapstructure:"registry_file"`
}

type StatsConfig struct {
	RecountInterval time.Duration `mapstructure:"recount_interval"`
}

type RealtimeConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Key           string        `mapstructure:"key"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the YAML file at configPath, overlays INDEXER_* environment
// variables and applies defaults. A .env file in the working directory is
// loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("chain.name", "testnet")
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.max_concurrent_requests", 4)
	v.SetDefault("chain.start_ledger", 0)
	v.SetDefault("chain.factory_address", "")
	v.SetDefault("chain.rpc_endpoint", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "astroswap")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("sync.polling_interval", "5s")
	v.SetDefault("sync.retry_delay", "10s")
	v.SetDefault("sync.fetch_limit", 100)
	v.SetDefault("sync.backoff_base", "1s")
	v.SetDefault("sync.backoff_cap", "10s")
	v.SetDefault("sync.backoff_attempts", 3)
	v.SetDefault("sync.pair_workers", 1)
	v.SetDefault("sync.skip_malformed", false)
	v.SetDefault("prices.intervals", []string{"1m", "5m", "1h", "1d"})
	v.SetDefault("prices.default_decimals", 7)
	v.SetDefault("tokens.registry_file", "")
	v.SetDefault("stats.recount_interval", "5m")
	v.SetDefault("realtime.enabled", false)
	v.SetDefault("realtime.addr", "")
	v.SetDefault("realtime.key", "")
	v.SetDefault("realtime.flush_interval", "250ms")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the values the sync engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Chain.RPCEndpoint == "" {
		errs = append(errs, errors.New("chain.rpc_endpoint is required"))
	}
	if c.Chain.FactoryAddress == "" {
		errs = append(errs, errors.New("chain.factory_address is required"))
	}
	if c.Sync.PollingInterval <= 0 {
		errs = append(errs, errors.New("sync.polling_interval must be positive"))
	}
	if c.Sync.FetchLimit <= 0 {
		errs = append(errs, errors.New("sync.fetch_limit must be positive"))
	}
	if c.Sync.BackoffAttempts < 1 {
		errs = append(errs, errors.New("sync.backoff_attempts must be at least 1"))
	}
	if c.Sync.PairWorkers < 1 {
		errs = append(errs, errors.New("sync.pair_workers must be at least 1"))
	}
	if len(c.Prices.Intervals) == 0 {
		errs = append(errs, errors.New("prices.intervals must not be empty"))
	}
	if c.Realtime.Enabled && c.Realtime.Addr == "" {
		errs = append(errs, errors.New("realtime.addr is required when realtime is enabled"))
	}
	return errors.Join(errs...)
}

func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
