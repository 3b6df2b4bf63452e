package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddr     = "localhost:8000"
	DefaultUploadDir      = "./uploads"
	DefaultMaxUploadBytes = 50 << 20
	DefaultMaxAvatarBytes = 5 << 20
	DefaultTypingTimeout  = 3 * time.Second
)

type RateLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type Logging struct {
	Env       string `yaml:"env"`     // dev|stage|prod
	Backend   string `yaml:"backend"` // std|zap
	Level     string `yaml:"level"`
	Service   string `yaml:"service"`
	Version   string `yaml:"version"`
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`
}

type Config struct {
	ServerAddr     string        `yaml:"addr"`
	DatabaseDSN    string        `yaml:"dsn"`
	RedisAddr      string        `yaml:"redisAddr"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	UploadDir      string        `yaml:"uploadDir"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes"`
	MaxAvatarBytes int64         `yaml:"maxAvatarBytes"`
	RateLimit      RateLimit     `yaml:"rateLimit"`
	TypingTimeout  time.Duration `yaml:"typingTimeout"`
	EchoToSender   bool          `yaml:"echoToSender"`
	Logging        Logging       `yaml:"logging"`
}

func Default() *Config {
	return &Config{
		ServerAddr:     DefaultServerAddr,
		UploadDir:      DefaultUploadDir,
		MaxUploadBytes: DefaultMaxUploadBytes,
		MaxAvatarBytes: DefaultMaxAvatarBytes,
		RateLimit: RateLimit{
			Limit:  5,
			Window: 10 * time.Second,
		},
		TypingTimeout: DefaultTypingTimeout,
		EchoToSender:  true,
		Logging: Logging{
			Service: "go-realtime-chat",
			Level:   "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}
	if c.MaxUploadBytes <= 0 || c.MaxAvatarBytes <= 0 {
		return fmt.Errorf("upload limits must be positive")
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("typing timeout must be positive, got %s", c.TypingTimeout)
	}

	switch c.Logging.Backend {
	case "", "std", "zap":
	default:
		return fmt.Errorf("unknown logging backend %q", c.Logging.Backend)
	}

	return nil
}
