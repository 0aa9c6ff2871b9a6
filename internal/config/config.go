package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/viper"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"

	BusDriverLocal = "local"
	BusDriverRedis = "redis"
	BusDriverNone  = "none"

	minTickInterval = time.Second
	maxTickInterval = 5 * time.Second
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Bus    BusConfig    `mapstructure:"bus"`
	Inbox  InboxConfig  `mapstructure:"inbox"`
	Push   PushConfig   `mapstructure:"push"`
}

type ServerConfig struct {
	HTTPPort    string `mapstructure:"http_port"`
	HTTPSPort   string `mapstructure:"https_port"`
	Domain      string `mapstructure:"domain"`
	HTTPOnly    bool   `mapstructure:"http_only"`
	FrontendURI string `mapstructure:"frontend_uri"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
}

type BusConfig struct {
	Driver   string `mapstructure:"driver"`
	RedisURL string `mapstructure:"redis_url"`
	Channel  string `mapstructure:"channel"`
	Buffer   int    `mapstructure:"buffer"`
}

type InboxConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Subject         string `mapstructure:"subject"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	KeysDir         string `mapstructure:"keys_dir"`
}

// BroadcastEnabled reports whether live cross-view delivery is available.
// Views fall back to the pending buffer when it is not.
func (c *Config) BroadcastEnabled() bool {
	return c.Bus.Driver != BusDriverNone
}

// Load reads defaults, then the config file (if any), then LIVEDESK_* env vars.
// An empty path searches for config.{yaml,json} next to the binary and in the
// working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(executableDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LIVEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Inbox.TickInterval = clampTickInterval(cfg.Inbox.TickInterval)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Bus.Driver = strings.ToLower(strings.TrimSpace(cfg.Bus.Driver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", "8080")
	v.SetDefault("server.https_port", "8443")
	v.SetDefault("server.domain", "localhost")
	v.SetDefault("server.http_only", false)
	v.SetDefault("server.frontend_uri", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", StoreDriverSQLite)
	v.SetDefault("store.path", filepath.Join(executableDir(), "livedesk.db"))
	v.SetDefault("store.redis_url", "")

	v.SetDefault("bus.driver", BusDriverLocal)
	v.SetDefault("bus.redis_url", "")
	v.SetDefault("bus.channel", "sc-inbox")
	v.SetDefault("bus.buffer", 64)

	v.SetDefault("inbox.tick_interval", "1s")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.subject", "mailto:admin@livedesk.local")
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.keys_dir", filepath.Join(executableDir(), "keys"))
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverMemory, StoreDriverSQLite:
	case StoreDriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("config: store.redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	switch c.Bus.Driver {
	case BusDriverLocal, BusDriverNone:
	case BusDriverRedis:
		if c.Bus.RedisURL == "" {
			return fmt.Errorf("config: bus.redis_url is required for the redis bus")
		}
	default:
		return fmt.Errorf("config: unknown bus.driver %q", c.Bus.Driver)
	}

	if c.Bus.Buffer <= 0 {
		return fmt.Errorf("config: bus.buffer must be positive")
	}
	if c.Server.HTTPOnly && c.Server.FrontendURI == "" {
		return fmt.Errorf("config: server.frontend_uri is required when http_only is set")
	}
	return nil
}

func clampTickInterval(d time.Duration) time.Duration {
	if d < minTickInterval {
		return minTickInterval
	}
	if d > maxTickInterval {
		return maxTickInterval
	}
	return d
}

// LoadVAPIDKeys returns the configured key pair, else the pair saved in
// KeysDir, else a freshly generated pair which is saved for the next start.
func (p *PushConfig) LoadVAPIDKeys() error {
	if p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != "" {
		return nil
	}

	publicKeyFile := filepath.Join(p.KeysDir, "vapid-public.key")
	privateKeyFile := filepath.Join(p.KeysDir, "vapid-private.key")

	if publicKeyData, err := os.ReadFile(publicKeyFile); err == nil {
		if privateKeyData, err := os.ReadFile(privateKeyFile); err == nil {
			p.VAPIDPublicKey = strings.TrimSpace(string(publicKeyData))
			p.VAPIDPrivateKey = strings.TrimSpace(string(privateKeyData))
			if p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != "" {
				return nil
			}
		}
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	p.VAPIDPublicKey = publicKey
	p.VAPIDPrivateKey = privateKey

	if err := os.MkdirAll(p.KeysDir, 0700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	if err := os.WriteFile(publicKeyFile, []byte(publicKey), 0600); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	if err := os.WriteFile(privateKeyFile, []byte(privateKey), 0600); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	return nil
}

func executableDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}
