package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second

	clientCloseReason = "closed by client"
)

type connState int

const (
	stateIdle connState = iota
	stateDialing
	stateOpen
)

// WebSocket is a gorilla/websocket backed Transport.
type WebSocket struct {
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	logger       zerolog.Logger

	// emitMu serializes observer callbacks with Close so a closed connection
	// never reports after its OnClose.
	emitMu sync.Mutex

	mu         sync.Mutex
	state      connState
	gen        uint64
	conn       *websocket.Conn
	obs        Observer
	cancelDial context.CancelFunc
}

var _ Transport = (*WebSocket)(nil)

type Option func(*WebSocket)

func WithDialer(d *websocket.Dialer) Option {
	return func(w *WebSocket) {
		if d != nil {
			w.dialer = d
		}
	}
}

// WithHeader sets extra handshake headers (for example Origin).
func WithHeader(h http.Header) Option {
	return func(w *WebSocket) {
		w.header = h.Clone()
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(w *WebSocket) {
		w.writeTimeout = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(w *WebSocket) {
		w.logger = l
	}
}

func NewWebSocket(opts ...Option) *WebSocket {
	w := &WebSocket{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		writeTimeout: defaultWriteTimeout,
		logger:       log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Connect starts dialing in the background. Open or failure is reported to obs.
func (w *WebSocket) Connect(rawURL string, params url.Values, obs Observer) error {
	if obs == nil {
		return stderrors.New("transport observer is nil")
	}
	target, err := BuildURL(rawURL, params)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.state != stateIdle {
		w.mu.Unlock()
		return ErrAlreadyActive
	}
	w.gen++
	gen := w.gen
	ctx, cancel := context.WithCancel(context.Background())
	w.state = stateDialing
	w.obs = obs
	w.cancelDial = cancel
	w.mu.Unlock()

	w.logger.Debug().Str("url", target).Msg("dialing")
	go w.dial(ctx, gen, target, obs)
	return nil
}

func (w *WebSocket) dial(ctx context.Context, gen uint64, target string, obs Observer) {
	conn, resp, err := w.dialer.DialContext(ctx, target, w.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	w.emitMu.Lock()
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		w.emitMu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	w.cancelDial = nil
	if err != nil {
		w.state = stateIdle
		w.obs = nil
		w.mu.Unlock()
		w.logger.Warn().Err(err).Str("url", target).Msg("dial failed")
		obs.OnError(err)
		obs.OnClose(websocket.CloseAbnormalClosure, err.Error())
		w.emitMu.Unlock()
		return
	}
	w.state = stateOpen
	w.conn = conn
	w.mu.Unlock()
	obs.OnOpen()
	w.emitMu.Unlock()

	w.readLoop(gen, conn, obs)
}

func (w *WebSocket) readLoop(gen uint64, conn *websocket.Conn, obs Observer) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(gen, conn, obs, err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		w.emitMu.Lock()
		if w.current(gen) {
			obs.OnMessage(data)
		}
		w.emitMu.Unlock()
	}
}

func (w *WebSocket) finish(gen uint64, conn *websocket.Conn, obs Observer, err error) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	w.state = stateIdle
	w.conn = nil
	w.obs = nil
	w.mu.Unlock()
	_ = conn.Close()

	code, reason := closeDetails(err)
	var ce *websocket.CloseError
	if !stderrors.As(err, &ce) {
		w.logger.Debug().Err(err).Msg("read loop ended")
		obs.OnError(err)
	}
	obs.OnClose(code, reason)
}

func (w *WebSocket) current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen == gen
}

// Send writes one text frame. It returns false when no connection is open or the write fails.
func (w *WebSocket) Send(data []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != stateOpen || w.conn == nil {
		return false
	}
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.logger.Warn().Err(err).Msg("socket write failed")
		return false
	}
	return true
}

// Close tears down the dialing or open connection. Idempotent.
func (w *WebSocket) Close() {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.state == stateIdle {
		w.mu.Unlock()
		return
	}
	w.gen++
	conn := w.conn
	obs := w.obs
	cancel := w.cancelDial
	w.state = stateIdle
	w.conn = nil
	w.obs = nil
	w.cancelDial = nil
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, clientCloseReason), deadline)
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if obs != nil {
		obs.OnClose(websocket.CloseNormalClosure, clientCloseReason)
	}
}

// Connected reports whether a connection is currently open.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == stateOpen
}

func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err == nil {
		return websocket.CloseNoStatusReceived, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
