// Package notify carries server-pushed notifications to the sockets of a
// session, either in process or through Redis Streams.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const TopicPrefix = "chatbubble.notifications."

var (
	ErrEmptySession = errors.New("notify: session id is empty")
	ErrBusClosed    = errors.New("notify: bus closed")
)

// Notification is the payload published for one session.
type Notification struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type Settings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
}

// Bus publishes notifications and hands them to per-session subscribers.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	closer func() error
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func Topic(sessionID string) string {
	return TopicPrefix + sessionID
}

// NewBus returns an in-process bus unless s.Enabled selects Redis Streams.
func NewBus(s Settings) (*Bus, error) {
	logger := log.With().Str("component", "notify").Logger()
	wlogger := NewWatermillLogger(logger)

	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wlogger)
		return &Bus{pub: ch, sub: ch, closer: ch.Close, logger: logger}, nil
	}

	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("notify: redis addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, wlogger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "notify: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, wlogger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "notify: redis subscriber")
	}
	logger.Info().Str("addr", s.Addr).Str("group", s.Group).Str("consumer", s.Consumer).Msg("using redis streams for notifications")
	return &Bus{
		pub: pub,
		sub: sub,
		closer: func() error {
			var errs []error
			for _, c := range []func() error{sub.Close, pub.Close, client.Close} {
				if err := c(); err != nil {
					errs = append(errs, err)
				}
			}
			if len(errs) > 0 {
				return errs[0]
			}
			return nil
		},
		logger: logger,
	}, nil
}

func (b *Bus) Publish(n Notification) error {
	n.SessionID = strings.TrimSpace(n.SessionID)
	if n.SessionID == "" {
		return ErrEmptySession
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "notify: marshal")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pub.Publish(Topic(n.SessionID), msg); err != nil {
		return errors.Wrap(err, "notify: publish")
	}
	return nil
}

// Subscribe delivers every notification of sessionID to handle until ctx is
// cancelled. handle runs on a single goroutine per subscription.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, handle func(Notification)) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrEmptySession
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}
	msgs, err := b.sub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		return errors.Wrap(err, "notify: subscribe")
	}
	logger := b.logger.With().Str("session_id", sessionID).Logger()
	go func() {
		defer logger.Debug().Msg("notification subscription ended")
		for msg := range msgs {
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed notification")
				msg.Ack()
				continue
			}
			handle(n)
			msg.Ack()
		}
	}()
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.closer()
}
