package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Slicer     SlicerConfig     `mapstructure:"slicer"`
	Storefront StorefrontConfig `mapstructure:"storefront"`
	Order      OrderConfig      `mapstructure:"order"`
	Session    SessionConfig    `mapstructure:"session"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Prefix      string        `mapstructure:"prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type GatewayConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// CheckoutURL is where the browser is sent after a successful checkout.
	CheckoutURL   string `mapstructure:"checkout_url"`
	SessionCookie string `mapstructure:"session_cookie"`
	MaxUploadMB   int64  `mapstructure:"max_upload_mb"`
}

// SlicerConfig locates the slicing engine. ServiceName is looked up in etcd first.
type SlicerConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Address     string        `mapstructure:"address"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type StorefrontConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type OrderConfig struct {
	// Retention is "retain" or "purge"; purge deletes a file's durable record when it is removed
	// from the order.
	Retention   string        `mapstructure:"retention"`
	CheckoutTTL time.Duration `mapstructure:"checkout_ttl"`
	MetadataTTL time.Duration `mapstructure:"metadata_ttl"`
}

type SessionConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	OpTimeout      time.Duration `mapstructure:"op_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Encoding    string   `mapstructure:"encoding"`
	OutputPaths []string `mapstructure:"output_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "printshop-gateway")
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.checkout_url", "/checkout")
	v.SetDefault("gateway.session_cookie", "printshop_session")
	v.SetDefault("gateway.max_upload_mb", 64)
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/services/")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mongodb.collection", "audit_logs")
	v.SetDefault("slicer.service_name", "slicer-engine")
	v.SetDefault("slicer.address", "localhost:50061")
	v.SetDefault("slicer.timeout", 5*time.Minute)
	v.SetDefault("storefront.timeout", 10*time.Second)
	v.SetDefault("storefront.cache_ttl", 5*time.Minute)
	v.SetDefault("order.retention", "retain")
	v.SetDefault("order.checkout_ttl", time.Hour)
	v.SetDefault("session.request_timeout", 30*time.Second)
	v.SetDefault("session.op_timeout", 20*time.Second)
	v.SetDefault("session.idle_timeout", 30*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.output_paths", []string{"stdout"})
}

// Load reads the YAML file at configPath. Any key can be overridden from the environment, e.g.
// PRINTSHOP_REDIS_ADDR.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("printshop")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
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

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port))
	}
	switch c.Order.Retention {
	case "retain", "purge":
	default:
		errs = append(errs, fmt.Errorf("order.retention must be retain or purge, got %q", c.Order.Retention))
	}
	if c.Session.IdleTimeout < 0 {
		errs = append(errs, errors.New("session.idle_timeout must not be negative"))
	}
	if c.Order.CheckoutTTL < 0 || c.Order.MetadataTTL < 0 {
		errs = append(errs, errors.New("order TTLs must not be negative"))
	}
	if c.Slicer.Address == "" && len(c.Etcd.Endpoints) == 0 {
		errs = append(errs, errors.New("slicer.address or etcd.endpoints is required"))
	}
	if c.Storefront.BaseURL == "" {
		errs = append(errs, errors.New("storefront.base_url is required"))
	}
	return errors.Join(errs...)
}

func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}
