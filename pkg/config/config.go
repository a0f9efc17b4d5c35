package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "EVAL_DASHBOARD"

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Stats     StatsConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Backup    BackupConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   int
	WriteTimeout  int
	BodyLimit     int
	IsDevelopment bool
}

type SQLiteConfig struct {
	Path         string
	MaxAttempts  int
	RetryDelayMs int
}

func (c SQLiteConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

type StatsConfig struct {
	CacheTTLSeconds int
}

func (c StatsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

type RateLimitConfig struct {
	Enabled       bool
	MaxRequests   int
	WindowSeconds int
	// Backend is "memory" or "redis".
	Backend string
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	Origins string
	Methods string
}

type BackupConfig struct {
	DataDir    string
	BackupDir  string
	MaxBackups int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml from the standard search paths. A missing file is
// not an error; defaults and EVAL_DASHBOARD_* environment variables apply.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/eval-dashboard")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile reads an explicit config file. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.RateLimit.Backend != "memory" && config.RateLimit.Backend != "redis" {
		return nil, fmt.Errorf("invalid rateLimit.backend %q: want memory or redis", config.RateLimit.Backend)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("sqlite.path", "./data/evaluations.db")
	v.SetDefault("sqlite.maxAttempts", 3)
	v.SetDefault("sqlite.retryDelayMs", 1000)

	v.SetDefault("stats.cacheTTLSeconds", 300)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.maxRequests", 100)
	v.SetDefault("rateLimit.windowSeconds", 60)
	v.SetDefault("rateLimit.backend", "memory")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("cors.origins", "*")
	v.SetDefault("cors.methods", "GET,HEAD,PUT,PATCH,POST,DELETE")

	v.SetDefault("backup.dataDir", "./data")
	v.SetDefault("backup.backupDir", "./backups")
	v.SetDefault("backup.maxBackups", 7)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
