package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Port      string `mapstructure:"port"`       // HTTP port
	DataDir   string `mapstructure:"data_dir"`   // Data directory root
	DBPath    string `mapstructure:"db_path"`    // SQLite database path
	JWTSecret string `mapstructure:"jwt_secret"` // Bridge token signing secret, also seeds API key encryption

	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Host     HostConfig     `mapstructure:"host"`
	Director DirectorConfig `mapstructure:"director"`
	LLM      LLMConfig      `mapstructure:"llm"`
	UI       UIConfig       `mapstructure:"ui"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

// AuthConfig controls bridge authentication.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CORSConfig lists the host application origins allowed to call the API and
// open the UI websocket.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// HostConfig selects how host context is read.
type HostConfig struct {
	Mode string `mapstructure:"mode"` // "auto", "accessors" or "snapshot"
}

// DirectorConfig controls the polling generation director.
type DirectorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LLMConfig holds transport settings for outbound API calls.
type LLMConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// UIConfig holds rendering settings pushed to bridges.
type UIConfig struct {
	TypewriterDelay time.Duration `mapstructure:"typewriter_delay"`
}

// CacheConfig configures the suggestion cache. An empty RedisAddr keeps the
// cache in memory.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const envPrefix = "TIOPTIONS"

// Load reads configuration from an optional config file, then environment
// variables (TIOPTIONS_PORT, TIOPTIONS_DIRECTOR_ENABLED, ...), then defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "ti-options.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure directories exist
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &cfg, nil
}

const (
	minSecretLen = 32
	// legacyDefaultSecret shipped as the default in early configs.
	legacyDefaultSecret = "ti-options-change-me-in-production"
)

// Validate checks value ranges that viper cannot express.
func (c *Config) Validate() error {
	switch c.Host.Mode {
	case "auto", "accessors", "snapshot":
	default:
		return fmt.Errorf("invalid host.mode %q: want auto, accessors or snapshot", c.Host.Mode)
	}
	if c.Director.PollInterval < 50*time.Millisecond {
		return fmt.Errorf("director.poll_interval %s is below 50ms", c.Director.PollInterval)
	}
	if c.Auth.Enabled {
		if c.JWTSecret == "" {
			return fmt.Errorf("auth.enabled requires jwt_secret")
		}
		if len(c.JWTSecret) < minSecretLen || c.JWTSecret == legacyDefaultSecret {
			return fmt.Errorf("jwt_secret is too weak: use at least %d random characters", minSecretLen)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("db_path", "")
	v.SetDefault("jwt_secret", "")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:8000", "http://127.0.0.1:8000"})
	v.SetDefault("host.mode", "auto")

	v.SetDefault("director.enabled", false)
	v.SetDefault("director.poll_interval", "300ms")

	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("ui.typewriter_delay", "30ms")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
