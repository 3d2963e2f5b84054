package backend

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatbubble/pkg/backend/threadstore"
)

var ErrEmptyMessage = errors.New("message is empty")

// chatService records the exchange in the thread store around the responder.
type chatService struct {
	store     threadstore.Store
	responder Responder
	logger    zerolog.Logger
}

func (c *chatService) Ask(ctx context.Context, req Request) (string, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return "", ErrEmptyMessage
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return "", ErrMissingSessionID
	}

	c.record(ctx, req, threadstore.RoleUser, req.Message)
	reply, err := c.responder.Respond(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "responder")
	}
	c.record(ctx, req, threadstore.RoleAssistant, reply)
	return reply, nil
}

func (c *chatService) record(ctx context.Context, req Request, role threadstore.Role, content string) {
	if _, err := c.store.Append(ctx, threadstore.Message{
		ThreadID:       req.SessionID,
		Role:           role,
		Channel:        req.Channel,
		CollectionName: req.CollectionName,
		Content:        content,
	}); err != nil {
		c.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to record message")
	}
}
