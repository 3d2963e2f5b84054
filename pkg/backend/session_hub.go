package backend

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatbubble/pkg/backend/notify"
	"github.com/go-go-golems/chatbubble/pkg/backend/threadstore"
	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
)

var (
	ErrMissingSessionID = errors.New("missing session_id")
	ErrHubClosed        = errors.New("session hub closed")
)

type chatSession struct {
	id     string
	pool   *ConnectionPool
	cancel context.CancelFunc
}

// SessionHub owns the socket pools and notification subscriptions of all
// live chat sessions.
type SessionHub struct {
	baseCtx     context.Context
	bus         *notify.Bus
	chat        *chatService
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*chatSession
	closed   bool
}

func newSessionHub(ctx context.Context, bus *notify.Bus, chat *chatService, idleTimeout time.Duration, logger zerolog.Logger) *SessionHub {
	return &SessionHub{
		baseCtx:     ctx,
		bus:         bus,
		chat:        chat,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    map[string]*chatSession{},
	}
}

// join returns the session for sessionID with conn already added to its pool.
func (h *SessionHub) join(sessionID string, conn wsConn) (*chatSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if s, ok := h.sessions[sessionID]; ok {
		s.pool.Add(conn)
		return s, nil
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	s := &chatSession{id: sessionID, cancel: cancel}
	s.pool = NewConnectionPool(sessionID, h.idleTimeout, func() { h.evict(s) })
	if err := h.bus.Subscribe(ctx, sessionID, func(n notify.Notification) {
		delivered := s.pool.Broadcast(marshalFrame(codec.KindNotification, n.Content, time.Now()))
		h.logger.Debug().Str("session_id", sessionID).Int("sockets", delivered).Msg("notification delivered")
	}); err != nil {
		cancel()
		return nil, err
	}
	h.sessions[sessionID] = s
	s.pool.Add(conn)
	h.logger.Debug().Str("session_id", sessionID).Msg("session created")
	return s, nil
}

func (h *SessionHub) evict(s *chatSession) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.id]; ok && cur == s && s.pool.IsEmpty() {
		delete(h.sessions, s.id)
	} else {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	s.cancel()
	h.logger.Debug().Str("session_id", s.id).Msg("idle session evicted")
}

// SocketCount returns the number of sockets attached to sessionID.
func (h *SessionHub) SocketCount(sessionID string) int {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return s.pool.Count()
}

func (h *SessionHub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Attach registers conn with the session and serves its frames until the
// socket closes.
func (h *SessionHub) Attach(sessionID, collectionName string, conn *websocket.Conn) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrMissingSessionID
	}
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	s, err := h.join(sessionID, conn)
	if err != nil {
		return err
	}

	wsLog := h.logger.With().
		Str("remote", conn.RemoteAddr().String()).
		Str("session_id", sessionID).
		Logger()
	wsLog.Info().Msg("ws connected")

	go func() {
		defer s.pool.Remove(conn)
		defer wsLog.Info().Msg("ws disconnected")
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			reply := h.handleFrame(sessionID, collectionName, data, wsLog)
			s.pool.SendToOne(conn, reply)
		}
	}()
	return nil
}

func (h *SessionHub) handleFrame(sessionID, collectionName string, data []byte, wsLog zerolog.Logger) []byte {
	var env codec.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		wsLog.Warn().Err(err).Msg("malformed frame")
		return marshalFrame(codec.KindError, "malformed message", time.Now())
	}
	if env.Type != codec.OutboundType {
		wsLog.Warn().Str("type", env.Type).Msg("unsupported frame type")
		return marshalFrame(codec.KindError, "unsupported message type: "+env.Type, time.Now())
	}
	if env.CollectionName != "" {
		collectionName = env.CollectionName
	}
	reply, err := h.chat.Ask(h.baseCtx, Request{
		SessionID:      sessionID,
		CollectionName: collectionName,
		Message:        env.Content,
		Channel:        threadstore.ChannelSocket,
	})
	if err != nil {
		wsLog.Warn().Err(err).Msg("socket ask failed")
		return marshalFrame(codec.KindError, err.Error(), time.Now())
	}
	return marshalFrame(codec.KindResponse, reply, time.Now())
}

// Close detaches every socket and ends all subscriptions.
func (h *SessionHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := h.sessions
	h.sessions = map[string]*chatSession{}
	h.mu.Unlock()
	for _, s := range sessions {
		s.pool.CloseAll()
		s.cancel()
	}
}
