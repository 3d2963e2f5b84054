// Package threadstore keeps the per-thread message log of the reference backend.
package threadstore

import (
	"context"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Channel records how a message reached the backend.
type Channel string

const (
	ChannelHTTP         Channel = "http"
	ChannelSocket       Channel = "socket"
	ChannelNotification Channel = "notification"
)

type Message struct {
	ThreadID       string
	Seq            int64
	Role           Role
	Channel        Channel
	CollectionName string
	Content        string
	CreatedAtMs    int64
}

type Store interface {
	// Append assigns the next sequence number of the thread and returns it.
	Append(ctx context.Context, msg Message) (int64, error)
	// List returns up to limit messages of a thread in sequence order.
	List(ctx context.Context, threadID string, limit int) ([]Message, error)
	Threads(ctx context.Context) ([]string, error)
	Close() error
}

const DefaultListLimit = 500

func normalizeMessage(msg Message, now time.Time) Message {
	msg.ThreadID = strings.TrimSpace(msg.ThreadID)
	msg.CollectionName = strings.TrimSpace(msg.CollectionName)
	if msg.CreatedAtMs <= 0 {
		msg.CreatedAtMs = now.UnixMilli()
	}
	return msg
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
