package delivery

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatbubble/pkg/bubble/httpapi"
	"github.com/go-go-golems/chatbubble/pkg/bubble/reconnect"
	"github.com/go-go-golems/chatbubble/pkg/bubble/transport"
)

const (
	DefaultReconnectInterval    = reconnect.DefaultInterval
	DefaultMaxReconnectAttempts = reconnect.DefaultMaxAttempts
)

// Config holds the construction parameters of a Manager.
type Config struct {
	SocketURL          string
	UseSocketTransport bool
	// ReconnectInterval <= 0 selects DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts < 0 selects DefaultMaxReconnectAttempts; 0 disables retries.
	MaxReconnectAttempts int
	HTTPBaseURL          string

	// SessionID is generated when empty.
	SessionID      string
	CollectionName string
	// WelcomeMessage, when set, seeds the conversation with one assistant turn.
	WelcomeMessage string
}

// DefaultConfig returns the documented defaults with sockets disabled.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
	}
}

type Option func(*Manager) error

func WithTransport(t transport.Transport) Option {
	return func(m *Manager) error {
		if t == nil {
			return errors.New("transport is nil")
		}
		m.transport = t
		return nil
	}
}

// WithAsker replaces the HTTP fallback client.
func WithAsker(a httpapi.Asker) Option {
	return func(m *Manager) error {
		if a == nil {
			return errors.New("asker is nil")
		}
		m.asker = a
		return nil
	}
}

// WithHTTPClient builds the default fallback client on top of c.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) error {
		m.httpClient = c
		return nil
	}
}

func WithClock(c reconnect.Clock) Option {
	return func(m *Manager) error {
		if c == nil {
			return errors.New("clock is nil")
		}
		m.clock = c
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

func WithCallbacks(cb Callbacks) Option {
	return func(m *Manager) error {
		m.callbacks = cb
		return nil
	}
}

func normalizeConfig(cfg Config) Config {
	cfg.SocketURL = strings.TrimSpace(cfg.SocketURL)
	cfg.HTTPBaseURL = strings.TrimSpace(cfg.HTTPBaseURL)
	cfg.SessionID = strings.TrimSpace(cfg.SessionID)
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return cfg
}
