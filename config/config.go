package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/rule-proxy/internal/circuitbreaker"
	"github.com/angeloszaimis/rule-proxy/internal/direct"
	"github.com/angeloszaimis/rule-proxy/internal/httpserver"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const envPrefix = "PROXY"

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AdminAddress    string        `mapstructure:"admin_address"`
	Environment     string        `mapstructure:"environment"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ProxyConfig struct {
	DirectPrefix        string        `mapstructure:"direct_prefix"`
	HealthPath          string        `mapstructure:"health_path"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	Via                 string        `mapstructure:"via"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	MaxHosts         int           `mapstructure:"max_hosts"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Proxy          ProxyConfig          `mapstructure:"proxy"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Reconcile      ReconcileConfig      `mapstructure:"reconcile"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.admin_address", ":8081")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("proxy.direct_prefix", "/proxy/")
	v.SetDefault("proxy.health_path", "/health")
	v.SetDefault("proxy.default_timeout", "30s")
	v.SetDefault("proxy.dial_timeout", "10s")
	v.SetDefault("proxy.max_idle_conns_per_host", 200)
	v.SetDefault("proxy.via", "rule-proxy")

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")
	v.SetDefault("circuit_breaker.max_hosts", circuitbreaker.DefaultMaxHosts)

	v.SetDefault("database.path", "./proxy.db")
	v.SetDefault("metrics.buffer_size", 1000)
	v.SetDefault("reconcile.interval", "30s")
	v.SetDefault("logging.level", LogLevelInfo)
}

// Load reads the configuration. With an empty path it looks for config.yaml
// in ./config and the working directory and falls back to defaults when
// none exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Proxy),
		validation.Field(&c.CircuitBreaker),
		validation.Field(&c.Database),
		validation.Field(&c.Metrics),
		validation.Field(&c.Reconcile),
		validation.Field(&c.Logging),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.Address, validation.Required, validation.By(httpserver.ValidateAddr)),
		validation.Field(&s.AdminAddress, validation.Required, validation.By(httpserver.ValidateAddr)),
		validation.Field(&s.ReadTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.WriteTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&s.ShutdownTimeout, validation.Required),
	)
}

func (p ProxyConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DirectPrefix, validation.Required, validation.By(validatePrefix)),
		validation.Field(&p.HealthPath,
			validation.Required,
			validation.By(func(value interface{}) error {
				if path, _ := value.(string); !strings.HasPrefix(path, "/") {
					return validation.NewError("validation_invalid_path", "must start with /")
				}
				return nil
			}),
		),
		validation.Field(&p.DefaultTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.DialTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&p.MaxIdleConnsPerHost, validation.Required, validation.Min(1)),
		validation.Field(&p.Via, validation.Required, is.PrintableASCII),
	)
}

func (c CircuitBreakerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FailureThreshold, validation.Min(0)),
		validation.Field(&c.ResetTimeout,
			validation.When(c.FailureThreshold > 0, validation.Required, validation.Min(time.Second)),
		),
		validation.Field(&c.MaxHosts, validation.Min(1)),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Path, validation.Required),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BufferSize, validation.Required, validation.Min(1)),
	)
}

func (r ReconcileConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Interval, validation.Required, validation.Min(time.Second)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func validatePrefix(value interface{}) error {
	prefix, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := direct.NormalizePrefix(prefix); err != nil {
		return validation.NewError("validation_invalid_prefix", err.Error())
	}

	return nil
}
