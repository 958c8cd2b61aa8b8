package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	HTTP      HTTPConfig
	GRPC      GRPCConfig
	Logging   LoggingConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Directory DirectoryConfig
	Realtime  RealtimeConfig
}

type ServerConfig struct {
	Host            string
	ShutdownTimeout time.Duration
}

type HTTPConfig struct {
	Port        string
	CORSOrigins []string
	RateLimit   int
}

type GRPCConfig struct {
	Enabled           bool
	Port              string
	ReflectionEnabled bool
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Driver  string
	Timeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DirectoryConfig struct {
	Driver   string
	CacheTTL time.Duration
	// StaticUsers seeds the static directory, as "id" or "id=Display Name".
	StaticUsers []string
}

type RealtimeConfig struct {
	Broker        string
	ChannelPrefix string
	PingInterval  time.Duration
	PongTimeout   time.Duration
	SendBuffer    int
	SendRate      float64
	SendBurst     int
}

// DSN builds a lib/pq connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// Load reads an optional .env file, then the YAML config from ./config or
// /app/config, then environment overrides. A missing config file is not an
// error; defaults cover every key.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper applies defaults and environment overrides to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		HTTP: HTTPConfig{
			Port:        v.GetString("http.port"),
			CORSOrigins: v.GetStringSlice("http.cors_origins"),
			RateLimit:   v.GetInt("http.rate_limit"),
		},
		GRPC: GRPCConfig{
			Enabled:           v.GetBool("grpc.enabled"),
			Port:              v.GetString("grpc.port"),
			ReflectionEnabled: v.GetBool("grpc.reflection_enabled"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Storage: StorageConfig{
			Driver:  v.GetString("storage.driver"),
			Timeout: v.GetDuration("storage.timeout"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Directory: DirectoryConfig{
			Driver:      v.GetString("directory.driver"),
			CacheTTL:    v.GetDuration("directory.cache_ttl"),
			StaticUsers: v.GetStringSlice("directory.static_users"),
		},
		Realtime: RealtimeConfig{
			Broker:        v.GetString("realtime.broker"),
			ChannelPrefix: v.GetString("realtime.channel_prefix"),
			PingInterval:  v.GetDuration("realtime.ping_interval"),
			PongTimeout:   v.GetDuration("realtime.pong_timeout"),
			SendBuffer:    v.GetInt("realtime.send_buffer"),
			SendRate:      v.GetFloat64("realtime.send_rate"),
			SendBurst:     v.GetInt("realtime.send_burst"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Directory.Driver {
	case "postgres", "redis", "static":
	default:
		return fmt.Errorf("unknown directory driver %q", c.Directory.Driver)
	}
	switch c.Realtime.Broker {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown realtime broker %q", c.Realtime.Broker)
	}
	if c.Directory.Driver != "static" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("%s directory requires the postgres storage driver", c.Directory.Driver)
	}
	if c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return errors.New("realtime.pong_timeout must be longer than realtime.ping_interval")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.rate_limit", 100)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", "50055")
	v.SetDefault("grpc.reflection_enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.timeout", 5*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "potluck")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("directory.driver", "postgres")
	v.SetDefault("directory.cache_ttl", 5*time.Minute)

	v.SetDefault("realtime.broker", "local")
	v.SetDefault("realtime.channel_prefix", "potluck:")
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.pong_timeout", 60*time.Second)
	v.SetDefault("realtime.send_buffer", 128)
	v.SetDefault("realtime.send_rate", 5.0)
	v.SetDefault("realtime.send_burst", 10)
}
