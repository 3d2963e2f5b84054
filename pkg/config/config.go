// Package config loads the chatbubble settings from YAML or TOML files and
// CHATBUBBLE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

const (
	EnvPrefix = "CHATBUBBLE_"

	DefaultHTTPBaseURL          = "https://api.azrienlabs.com"
	DefaultReconnectIntervalMS  = 3000
	DefaultMaxReconnectAttempts = 5
	DefaultBackendAddr          = ":8080"
	DefaultRedisGroup           = "chatbubble"
	DefaultRedisConsumer        = "chatbubble-backend"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Group    string `yaml:"group" toml:"group"`
	Consumer string `yaml:"consumer" toml:"consumer"`
}

type Backend struct {
	Addr      string `yaml:"addr" toml:"addr"`
	SQLiteDSN string `yaml:"sqlite_dsn" toml:"sqlite_dsn"`
	Redis     Redis  `yaml:"redis" toml:"redis"`
}

type Config struct {
	SocketURL            string  `yaml:"socket_url" toml:"socket_url"`
	UseSocketTransport   bool    `yaml:"use_socket_transport" toml:"use_socket_transport"`
	ReconnectIntervalMS  int64   `yaml:"reconnect_interval_ms" toml:"reconnect_interval_ms"`
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	HTTPBaseURL          string  `yaml:"http_base_url" toml:"http_base_url"`
	SessionID            string  `yaml:"session_id" toml:"session_id"`
	CollectionName       string  `yaml:"collection_name" toml:"collection_name"`
	WelcomeMessage       string  `yaml:"welcome_message" toml:"welcome_message"`
	Log                  Log     `yaml:"log" toml:"log"`
	Backend              Backend `yaml:"backend" toml:"backend"`
}

func Default() Config {
	return Config{
		ReconnectIntervalMS:  DefaultReconnectIntervalMS,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HTTPBaseURL:          DefaultHTTPBaseURL,
		Log:                  Log{Level: "info", Format: "console"},
		Backend: Backend{
			Addr: DefaultBackendAddr,
			Redis: Redis{
				Addr:     "localhost:6379",
				Group:    DefaultRedisGroup,
				Consumer: DefaultRedisConsumer,
			},
		},
	}
}

// Load returns the defaults overlaid with the file at path (if any) and then
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, c); err != nil {
			return errors.Wrapf(err, "parse yaml config %s", path)
		}
	case ".toml":
		if _, err := toml.Decode(string(b), c); err != nil {
			return errors.Wrapf(err, "parse toml config %s", path)
		}
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
	return nil
}

// ApplyEnv overrides fields from CHATBUBBLE_* variables looked up through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "parse %s%s", EnvPrefix, key)
		}
		*dst = b
		return nil
	}

	str("SOCKET_URL", &c.SocketURL)
	str("HTTP_BASE_URL", &c.HTTPBaseURL)
	str("SESSION_ID", &c.SessionID)
	str("COLLECTION_NAME", &c.CollectionName)
	str("WELCOME_MESSAGE", &c.WelcomeMessage)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("BACKEND_ADDR", &c.Backend.Addr)
	str("BACKEND_SQLITE_DSN", &c.Backend.SQLiteDSN)
	str("BACKEND_REDIS_ADDR", &c.Backend.Redis.Addr)
	str("BACKEND_REDIS_GROUP", &c.Backend.Redis.Group)
	str("BACKEND_REDIS_CONSUMER", &c.Backend.Redis.Consumer)

	if err := boolean("USE_SOCKET_TRANSPORT", &c.UseSocketTransport); err != nil {
		return err
	}
	if err := boolean("BACKEND_REDIS_ENABLED", &c.Backend.Redis.Enabled); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "RECONNECT_INTERVAL_MS"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse %sRECONNECT_INTERVAL_MS", EnvPrefix)
		}
		c.ReconnectIntervalMS = n
	}
	if v, ok := lookup(EnvPrefix + "MAX_RECONNECT_ATTEMPTS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "parse %sMAX_RECONNECT_ATTEMPTS", EnvPrefix)
		}
		c.MaxReconnectAttempts = n
	}
	return nil
}

func (c *Config) normalize() {
	c.SocketURL = strings.TrimSpace(c.SocketURL)
	c.HTTPBaseURL = strings.TrimRight(strings.TrimSpace(c.HTTPBaseURL), "/")
	c.CollectionName = strings.TrimSpace(c.CollectionName)
	if c.ReconnectIntervalMS <= 0 {
		c.ReconnectIntervalMS = DefaultReconnectIntervalMS
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Backend.Addr == "" {
		c.Backend.Addr = DefaultBackendAddr
	}
}

func (c Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMS) * time.Millisecond
}

// Delivery converts the settings into a delivery manager configuration.
func (c Config) Delivery() delivery.Config {
	return delivery.Config{
		SocketURL:            c.SocketURL,
		UseSocketTransport:   c.UseSocketTransport,
		ReconnectInterval:    c.ReconnectInterval(),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		HTTPBaseURL:          c.HTTPBaseURL,
		SessionID:            c.SessionID,
		CollectionName:       c.CollectionName,
		WelcomeMessage:       c.WelcomeMessage,
	}
}
