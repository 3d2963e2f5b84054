package backend

import (
	"context"
	"strings"

	"github.com/go-go-golems/chatbubble/pkg/backend/threadstore"
)

// Request is one user message handed to a Responder.
type Request struct {
	SessionID      string
	CollectionName string
	Message        string
	Channel        threadstore.Channel
}

// Responder produces the assistant reply for a user message.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

type ResponderFunc func(ctx context.Context, req Request) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// EchoResponder answers with the user message, optionally prefixed.
type EchoResponder struct {
	Prefix string
}

func (e EchoResponder) Respond(_ context.Context, req Request) (string, error) {
	var b strings.Builder
	b.WriteString(e.Prefix)
	if req.CollectionName != "" {
		b.WriteString("[")
		b.WriteString(req.CollectionName)
		b.WriteString("] ")
	}
	b.WriteString(req.Message)
	return b.String(), nil
}
