package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	FX       FXConfig       `mapstructure:"fx"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// FXConfig drives the exchange-rate provider. Mode selects how rates are
// refreshed: static (fixed at startup), random (pick from RandomValues on
// each tick), or api (fetch from the external feed on each tick).
type FXConfig struct {
	Mode           string        `mapstructure:"mode"`
	USDToMXN       string        `mapstructure:"usd_to_mxn"`
	MXNToUSD       string        `mapstructure:"mxn_to_usd"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	RandomValues   string        `mapstructure:"random_values"` // comma-separated USD->MXN candidates
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	APITimeout     time.Duration `mapstructure:"api_timeout"`
}

// RandomCandidates parses the comma-separated candidate list.
func (f FXConfig) RandomCandidates() ([]decimal.Decimal, error) {
	if strings.TrimSpace(f.RandomValues) == "" {
		return nil, nil
	}
	parts := strings.Split(f.RandomValues, ",")
	out := make([]decimal.Decimal, 0, len(parts))
	for _, p := range parts {
		d, err := decimal.NewFromString(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parsing fx candidate %q: %w", p, err)
		}
		if d.Sign() <= 0 {
			return nil, fmt.Errorf("fx candidate %q is not positive", p)
		}
		out = append(out, d)
	}
	return out, nil
}

// WalletConfig holds the business-policy knobs of the mutation engine.
type WalletConfig struct {
	MaxBalancePerCurrency string `mapstructure:"max_balance_per_currency"`
	MinTransactionAmount  string `mapstructure:"min_transaction_amount"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: WL_ (Wallet Ledger).
// Nested keys use underscore: WL_DATABASE_HOST, WL_FX_MODE, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("fx.mode", "static")
	v.SetDefault("fx.usd_to_mxn", "18.70")
	v.SetDefault("fx.mxn_to_usd", "0.0535")
	v.SetDefault("fx.update_interval", "5m")
	v.SetDefault("fx.random_values", "18.50,18.60,18.70,18.80,18.90,19.00")
	v.SetDefault("fx.api_url", "")
	v.SetDefault("fx.api_key", "")
	v.SetDefault("fx.api_timeout", "10s")
	v.SetDefault("wallet.max_balance_per_currency", "1000000.00")
	v.SetDefault("wallet.min_transaction_amount", "0.01")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: WL_FX_MODE -> fx.mode
	v.SetEnvPrefix("WL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
