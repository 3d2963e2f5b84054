// Package backend is a reference assistant backend speaking the chat bubble
// wire protocol: POST /chat/ask/ for request/response exchanges, /ws for the
// persistent socket, and POST /notify/{session_id} for pushed notifications.
package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatbubble/pkg/backend/notify"
	"github.com/go-go-golems/chatbubble/pkg/backend/threadstore"
	"github.com/go-go-golems/chatbubble/pkg/bubble/httpapi"
)

const DefaultIdleTimeout = 60 * time.Second

type Server struct {
	store       threadstore.Store
	bus         *notify.Bus
	responder   Responder
	idleTimeout time.Duration
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	hub    *SessionHub
	router chi.Router
}

type Option func(*Server) error

func WithStore(s threadstore.Store) Option {
	return func(srv *Server) error {
		if s == nil {
			return errors.New("thread store is nil")
		}
		srv.store = s
		return nil
	}
}

func WithBus(b *notify.Bus) Option {
	return func(srv *Server) error {
		if b == nil {
			return errors.New("notification bus is nil")
		}
		srv.bus = b
		return nil
	}
}

func WithResponder(r Responder) Option {
	return func(srv *Server) error {
		if r == nil {
			return errors.New("responder is nil")
		}
		srv.responder = r
		return nil
	}
}

// WithIdleTimeout sets how long a session without sockets keeps its
// notification subscription.
func WithIdleTimeout(d time.Duration) Option {
	return func(srv *Server) error {
		srv.idleTimeout = d
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(srv *Server) error {
		srv.logger = l
		return nil
	}
}

// NewServer wires the routes. Missing collaborators default to an in-memory
// store, an in-process bus and the echo responder.
func NewServer(opts ...Option) (*Server, error) {
	srv := &Server{
		idleTimeout: DefaultIdleTimeout,
		logger:      log.With().Str("component", "backend").Logger(),
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	for _, opt := range opts {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}
	if srv.store == nil {
		srv.store = threadstore.NewInMemoryStore(0)
	}
	if srv.bus == nil {
		bus, err := notify.NewBus(notify.Settings{})
		if err != nil {
			return nil, err
		}
		srv.bus = bus
	}
	if srv.responder == nil {
		srv.responder = EchoResponder{}
	}

	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	chat := &chatService{store: srv.store, responder: srv.responder, logger: srv.logger}
	srv.hub = newSessionHub(srv.ctx, srv.bus, chat, srv.idleTimeout, srv.logger)
	srv.router = srv.routes(chat)
	return srv, nil
}

func (s *Server) routes(chat *chatService) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(httpapi.AskPath, s.handleAsk(chat))
	r.Get("/ws", s.handleWebSocket)
	r.Post("/notify/{session_id}", s.handleNotify)
	r.Get("/threads/{thread_id}", s.handleThread)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *SessionHub {
	return s.hub
}

// Close detaches all sockets and closes the bus and the store.
func (s *Server) Close() error {
	s.cancel()
	s.hub.Close()
	var first error
	if err := s.bus.Close(); err != nil {
		first = err
	}
	if err := s.store.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-egCtx.Done()
		s.logger.Info().Msg("shutting down backend")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.Close()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
			return err
		}
		return nil
	})
	eg.Go(func() error {
		s.logger.Info().Str("addr", addr).Msg("starting chatbubble backend")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	err := eg.Wait()
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Server) handleAsk(chat *chatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req httpapi.AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		reply, err := chat.Ask(r.Context(), Request{
			SessionID:      req.ThreadID,
			CollectionName: req.CollectionName,
			Message:        req.Message,
			Channel:        threadstore.ChannelHTTP,
		})
		switch {
		case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMissingSessionID):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			s.logger.Error().Err(err).Str("thread_id", req.ThreadID).Msg("ask failed")
			writeError(w, http.StatusBadGateway, "assistant unavailable")
			return
		}
		writeJSON(w, http.StatusOK, httpapi.AskResponse{Response: reply})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrMissingSessionID.Error())
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	if err := s.hub.Attach(sessionID, r.URL.Query().Get("collection_name"), conn); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("attach failed")
		_ = conn.Close()
	}
}

type notifyRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var body notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	err := s.bus.Publish(notify.Notification{SessionID: sessionID, Content: body.Content})
	if errors.Is(err, notify.ErrEmptySession) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("publish notification failed")
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}
	if _, err := s.store.Append(r.Context(), threadstore.Message{
		ThreadID: sessionID,
		Role:     threadstore.RoleAssistant,
		Channel:  threadstore.ChannelNotification,
		Content:  body.Content,
	}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to record notification")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type threadMessage struct {
	Seq         int64  `json:"seq"`
	Role        string `json:"role"`
	Channel     string `json:"channel"`
	Content     string `json:"content"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.List(r.Context(), chi.URLParam(r, "thread_id"), threadstore.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]threadMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, threadMessage{
			Seq:         m.Seq,
			Role:        string(m.Role),
			Channel:     string(m.Channel),
			Content:     m.Content,
			CreatedAtMs: m.CreatedAtMs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("http request")
		})
	}
}
