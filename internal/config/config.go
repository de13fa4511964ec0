package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultAPIBaseURL = "http://localhost:8000"
	envPrefix         = "CASEGEN"
)

type Config struct {
	APIBaseURL string        `mapstructure:"api_base_url"`
	WSBaseURL  string        `mapstructure:"ws_base_url"`
	UserID     string        `mapstructure:"user_id"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// Zero disables reconnection or the heartbeat.
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`

	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	DBPath      string `mapstructure:"db_path"`
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	Environment string `mapstructure:"environment"`
	Workers     int    `mapstructure:"workers"`
	ExportDir   string `mapstructure:"export_dir"`

	RateLimit float64 `mapstructure:"rate_limit"`
	ServeAddr string  `mapstructure:"serve_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base_url", DefaultAPIBaseURL)
	v.SetDefault("ws_base_url", "")
	v.SetDefault("user_id", "")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", 3*time.Second)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay", time.Second)
	v.SetDefault("db_path", ".casegen/casegen.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("environment", "development")
	v.SetDefault("workers", 3)
	v.SetDefault("export_dir", ".")
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("serve_addr", "127.0.0.1:7788")
}

// Load reads casegen.yaml (when present) and the environment. An explicit path
// must exist; otherwise the usual locations are searched and a missing file is fine.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("casegen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".casegen")
		v.AddConfigPath("$HOME/.casegen")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The web client used VITE_* variables; accept them as aliases.
	if err := v.BindEnv("api_base_url", envPrefix+"_API_BASE_URL", "VITE_API_BASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	if err := v.BindEnv("ws_base_url", envPrefix+"_WS_BASE_URL", "VITE_WS_BASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if !strings.Contains(c.APIBaseURL, "://") {
		c.APIBaseURL = "http://" + c.APIBaseURL
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid api_base_url %q: %w", c.APIBaseURL, err)
	}

	c.WSBaseURL = strings.TrimRight(strings.TrimSpace(c.WSBaseURL), "/")
	if c.WSBaseURL == "" {
		c.WSBaseURL = SameOriginWS(c.APIBaseURL)
	}

	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.RateLimit < 0 {
		c.RateLimit = 0
	}
	if c.ServeAddr == "" {
		c.ServeAddr = "127.0.0.1:7788"
	}
	return nil
}

// IsProduction reports whether errors should go to the external reporting hook.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SameOriginWS derives the websocket origin matching an HTTP base URL.
func SameOriginWS(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	}
	return httpBase
}
