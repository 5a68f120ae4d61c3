package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a master instance.
// It is read once at startup and is not hot-reloaded.
type Config struct {
	License   License   `mapstructure:"license"`
	Platform  Platform  `mapstructure:"platform"`
	Transport Transport `mapstructure:"transport"`
	Engine    Engine    `mapstructure:"engine"`
	Registry  Registry  `mapstructure:"registry"`
	Database  Database  `mapstructure:"database"`
	Journal   Journal   `mapstructure:"journal"`
	Logger    Logger    `mapstructure:"logger"`
}

// License holds the configuration for the license gate.
type License struct {
	Key            string        `mapstructure:"key"`
	DeviceID       string        `mapstructure:"device_id"`
	Endpoint       string        `mapstructure:"endpoint"`
	HelperPath     string        `mapstructure:"helper_path"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	RenewMargin    time.Duration `mapstructure:"renew_margin"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Platform holds the configuration for the trading terminal adapter.
type Platform struct {
	Kind      string        `mapstructure:"kind"` // "mt5http" or "sim"
	Name      string        `mapstructure:"name"` // reported in every envelope, e.g. "MT5"
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	AccountID string        `mapstructure:"account_id"`
	Broker    string        `mapstructure:"broker"`
	Server    string        `mapstructure:"server"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second
}

// Transport holds the configuration for the publish and command channels.
type Transport struct {
	Kind             string        `mapstructure:"kind"` // "zmq", "ws" or "file"
	BindHost         string        `mapstructure:"bind_host"`
	DataPort         int           `mapstructure:"data_port"`
	CommandPort      int           `mapstructure:"command_port"`
	EnableCommands   bool          `mapstructure:"enable_commands"`
	EnableEncryption bool          `mapstructure:"enable_encryption"`
	ReplyTimeout     time.Duration `mapstructure:"reply_timeout"`
	FileDir          string        `mapstructure:"file_dir"`
	FileMaxBytes     int64         `mapstructure:"file_max_bytes"`
}

// Engine holds the timing configuration of the synchronization loop.
type Engine struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PublishInterval   time.Duration `mapstructure:"publish_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RefreshTimeout    time.Duration `mapstructure:"refresh_timeout"`
}

// Registry holds the location of the discovery records.
type Registry struct {
	Dir string `mapstructure:"dir"`
}

// Database holds the configuration for the deal history database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Journal holds the configuration for the published event journal.
type Journal struct {
	Path      string `mapstructure:"path"`
	Retention int    `mapstructure:"retention"` // number of events kept
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	// Empty defaults make these keys visible to AutomaticEnv.
	for _, key := range []string{
		"license.key", "license.device_id", "license.helper_path",
		"platform.token", "platform.account_id", "platform.broker", "platform.server",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("license.endpoint", "https://api.hedge-edge.com/v1/license/validate")
	v.SetDefault("license.check_interval", 5*time.Minute)
	v.SetDefault("license.renew_margin", 60*time.Second)
	v.SetDefault("license.timeout", 10*time.Second)
	v.SetDefault("license.rate_limit", 1) // requests per second
	v.SetDefault("license.rate_limit_burst", 2)

	v.SetDefault("platform.kind", "mt5http")
	v.SetDefault("platform.name", "MT5")
	v.SetDefault("platform.base_url", "http://127.0.0.1:5000")
	v.SetDefault("platform.timeout", 2*time.Second)
	v.SetDefault("platform.rate_limit", 1) // the bridge allows 60 req/min

	v.SetDefault("transport.kind", "zmq")
	v.SetDefault("transport.bind_host", "127.0.0.1")
	v.SetDefault("transport.data_port", 51810)
	v.SetDefault("transport.command_port", 51811)
	v.SetDefault("transport.enable_commands", true)
	v.SetDefault("transport.enable_encryption", false)
	v.SetDefault("transport.reply_timeout", 2*time.Second)
	v.SetDefault("transport.file_dir", "./ipc")
	v.SetDefault("transport.file_max_bytes", 16<<20)

	v.SetDefault("engine.poll_interval", 100*time.Millisecond)
	v.SetDefault("engine.publish_interval", 500*time.Millisecond)
	v.SetDefault("engine.heartbeat_interval", 5*time.Second)
	v.SetDefault("engine.refresh_timeout", 2*time.Second)

	v.SetDefault("registry.dir", "./sessions")
	v.SetDefault("database.dsn", "hedge_history.db")
	v.SetDefault("journal.path", "./data/journal.db")
	v.SetDefault("journal.retention", 10000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.SetEnvPrefix("HEDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	err = config.Validate()
	return
}

// Validate checks values that would otherwise fail late at bind or tick time.
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case "zmq", "ws", "file":
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	switch c.Platform.Kind {
	case "mt5http", "sim":
	default:
		return fmt.Errorf("unknown platform kind %q", c.Platform.Kind)
	}
	if c.Transport.Kind != "file" {
		if c.Transport.DataPort <= 0 || c.Transport.DataPort > 65535 {
			return fmt.Errorf("invalid data port %d", c.Transport.DataPort)
		}
		if c.Transport.EnableCommands && (c.Transport.CommandPort <= 0 || c.Transport.CommandPort > 65535) {
			return fmt.Errorf("invalid command port %d", c.Transport.CommandPort)
		}
		if c.Transport.EnableCommands && c.Transport.DataPort == c.Transport.CommandPort {
			return fmt.Errorf("data and command ports must differ (both %d)", c.Transport.DataPort)
		}
	}
	if c.Engine.PollInterval <= 0 || c.Engine.PublishInterval <= 0 || c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine intervals must be positive")
	}
	if c.License.CheckInterval <= 0 {
		return fmt.Errorf("license check interval must be positive")
	}
	return nil
}
