// Package delivery owns the conversation with the assistant backend: the
// socket lifecycle, the choice of transport per user message, inbound
// classification, and the turn list the UI renders.
//
// One Manager carries one conversation. Several managers may coexist in a
// process; they share nothing.
package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
	"github.com/go-go-golems/chatbubble/pkg/bubble/httpapi"
	"github.com/go-go-golems/chatbubble/pkg/bubble/reconnect"
	"github.com/go-go-golems/chatbubble/pkg/bubble/transport"
)

type Manager struct {
	cfg     Config
	session codec.Session

	transport  transport.Transport
	asker      httpapi.Asker
	httpClient *http.Client
	policy     *reconnect.Policy
	clock      reconnect.Clock
	logger     zerolog.Logger
	callbacks  Callbacks
	notify     *dispatcher

	mu               sync.Mutex
	state            ConnectionState
	intentionalClose bool
	awaitingReply    bool
	turns            []Turn
	tornDown         bool
}

// New builds a Manager. It does not dial; call Start or InitConnection.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = normalizeConfig(cfg)
	m := &Manager{
		cfg:    cfg,
		clock:  reconnect.SystemClock(),
		logger: log.Logger,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.Wrap(err, "apply delivery option")
		}
	}

	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID(m.clock.Now().UnixMilli())
		m.cfg.SessionID = cfg.SessionID
	}
	m.session = codec.Session{ID: cfg.SessionID, CollectionName: cfg.CollectionName}
	m.logger = m.logger.With().
		Str("component", "delivery").
		Str("session_id", m.session.ID).
		Logger()

	if m.transport == nil {
		m.transport = transport.NewWebSocket(transport.WithLogger(m.logger))
	}
	if m.asker == nil {
		var copts []httpapi.ClientOption
		if m.httpClient != nil {
			copts = append(copts, httpapi.WithHTTPClient(m.httpClient))
		}
		m.asker = httpapi.NewClient(cfg.HTTPBaseURL, copts...)
	}
	m.policy = reconnect.NewPolicy(cfg.ReconnectInterval, cfg.MaxReconnectAttempts, m.clock)
	m.notify = newDispatcher()

	if cfg.WelcomeMessage != "" {
		m.turns = append(m.turns, m.newTurn(RoleAssistant, TurnWelcome, cfg.WelcomeMessage))
	}
	return m, nil
}

// NewSessionID returns an id of the form session_<unix-ms>_<9 chars>.
func NewSessionID(unixMs int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", unixMs, suffix)
}

// Start dials the socket when socket transport is enabled and a URL is set.
// A missing URL is logged and the manager stays HTTP-only.
func (m *Manager) Start() error {
	if !m.cfg.UseSocketTransport {
		return nil
	}
	err := m.InitConnection()
	if errors.Is(err, ErrConfigurationMissing) {
		return nil
	}
	return err
}

// InitConnection moves Disconnected -> Connecting and starts dialing.
// It is a no-op in any other state.
func (m *Manager) InitConnection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initConnectionLocked()
}

func (m *Manager) initConnectionLocked() error {
	if m.tornDown {
		return ErrTornDown
	}
	if m.cfg.SocketURL == "" {
		m.logger.Warn().Err(ErrConfigurationMissing).Msg("socket url not provided, socket transport skipped")
		return ErrConfigurationMissing
	}
	if m.state != Disconnected || m.intentionalClose {
		m.logger.Debug().Stringer("state", m.state).Bool("closing", m.intentionalClose).Msg("init connection ignored")
		return nil
	}

	params := url.Values{"session_id": {m.session.ID}}
	if m.session.CollectionName != "" {
		params.Set("collection_name", m.session.CollectionName)
	}
	m.setStateLocked(Connecting)
	m.logger.Info().Str("url", m.cfg.SocketURL).Int("attempt", m.policy.Attempts()).Msg("connecting socket")

	if err := m.transport.Connect(m.cfg.SocketURL, params, socketObserver{m: m}); err != nil {
		m.logger.Error().Err(err).Msg("failed to initialize socket")
		m.setStateLocked(Disconnected)
		m.postError(err)
		return errors.Wrap(err, "connect socket")
	}
	return nil
}

// CloseConnection closes the socket without triggering a reconnect.
// It is valid in every state and does not touch an in-flight HTTP request.
func (m *Manager) CloseConnection() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.intentionalClose = true
	m.policy.Cancel()
	m.mu.Unlock()

	// The transport reports OnClose synchronously, which takes m.mu. The flag
	// stays set until that notification has been handled.
	m.transport.Close()

	m.mu.Lock()
	m.intentionalClose = false
	m.policy.Cancel()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()
}

// ReconnectNow closes, resets the retry budget and dials again.
func (m *Manager) ReconnectNow() error {
	m.CloseConnection()
	m.policy.Reset()
	if !m.cfg.UseSocketTransport {
		m.logger.Debug().Msg("manual reconnect requested with socket transport disabled")
		return nil
	}
	return m.InitConnection()
}

// Teardown cancels timers and closes the socket. No callback runs afterwards.
// An in-flight HTTP request is left to finish; its result is discarded.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	m.intentionalClose = true
	m.policy.Cancel()
	m.notify.close()
	m.mu.Unlock()

	m.transport.Close()

	m.mu.Lock()
	m.state = Disconnected
	m.awaitingReply = false
	m.mu.Unlock()
	m.logger.Debug().Msg("torn down")
}

// SendUserMessage appends the user turn and delivers it over exactly one
// transport. Socket delivery returns as soon as the frame is written; the HTTP
// path blocks until the exchange finishes and its reply (or error) is appended.
func (m *Manager) SendUserMessage(ctx context.Context, text string) (Route, error) {
	content := strings.TrimSpace(text)

	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return "", ErrTornDown
	}
	if content == "" {
		m.mu.Unlock()
		return "", ErrEmptyMessage
	}
	if m.awaitingReply {
		m.mu.Unlock()
		return "", ErrAwaitingReply
	}
	m.appendTurnLocked(m.newTurn(RoleUser, TurnUser, content))
	m.setAwaitingLocked(true)
	useSocket := m.cfg.UseSocketTransport && m.state == Connected
	m.mu.Unlock()

	if useSocket {
		if m.transport.Send(codec.EncodeAt(content, m.session, m.clock.Now())) {
			m.logger.Debug().Int("bytes", len(content)).Msg("message sent over socket")
			return RouteSocket, nil
		}
		m.logger.Warn().Err(ErrTransportUnavailable).Msg("socket send failed, falling back to HTTP")
	}

	m.sendHTTP(ctx, content)
	return RouteHTTP, nil
}

func (m *Manager) sendHTTP(ctx context.Context, content string) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := m.asker.Ask(ctx, httpapi.AskRequest{
		ThreadID:       m.session.ID,
		CollectionName: m.session.CollectionName,
		Message:        content,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("chat request failed")
		m.dispatchLocked(codec.Inbound{Kind: codec.KindError, Content: err.Error()})
		return
	}
	m.dispatchLocked(codec.Inbound{Kind: codec.KindResponse, Content: resp.Response})
}

func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Turns returns a copy of the conversation.
func (m *Manager) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns...)
}

func (m *Manager) AwaitingReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaitingReply
}

func (m *Manager) Session() codec.Session {
	return m.session
}

func (m *Manager) Config() Config {
	return m.cfg
}

// ReconnectAttempts returns the number of automatic reconnects since the last open.
func (m *Manager) ReconnectAttempts() int {
	return m.policy.Attempts()
}

// dispatchLocked applies a classified payload to the conversation.
func (m *Manager) dispatchLocked(in codec.Inbound) {
	switch in.Kind {
	case codec.KindResponse:
		m.appendTurnLocked(m.newTurn(RoleAssistant, TurnResponse, in.Content))
		m.setAwaitingLocked(false)
	case codec.KindNotification:
		m.appendTurnLocked(m.newTurn(RoleAssistant, TurnNotification, in.Content))
	case codec.KindError:
		m.appendTurnLocked(m.newTurn(RoleAssistant, TurnError, ErrorPrefix+in.Content))
		m.setAwaitingLocked(false)
	default:
		if in.Malformed() {
			m.logger.Warn().Err(ErrMalformedInboundPayload).AnErr("cause", in.Err).Int("bytes", len(in.Raw)).Msg("dropping inbound payload")
			return
		}
		m.logger.Info().Str("type", in.Type).Msg("unknown message type")
	}
}

func (m *Manager) newTurn(role Role, kind TurnKind, content string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Kind:      kind,
		Content:   content,
		Timestamp: m.clock.Now(),
	}
}

func (m *Manager) appendTurnLocked(t Turn) {
	m.turns = append(m.turns, t)
	if cb := m.callbacks.OnTurn; cb != nil {
		m.notify.post(func() { cb(t) })
	}
}

func (m *Manager) setAwaitingLocked(v bool) {
	if m.awaitingReply == v {
		return
	}
	m.awaitingReply = v
	if cb := m.callbacks.OnAwaiting; cb != nil {
		m.notify.post(func() { cb(v) })
	}
}

func (m *Manager) setStateLocked(s ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	if cb := m.callbacks.OnStateChange; cb != nil {
		m.notify.post(func() { cb(s) })
	}
}

func (m *Manager) postError(err error) {
	if cb := m.callbacks.OnError; cb != nil {
		m.notify.post(func() { cb(err) })
	}
}
