package backend

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
)

// Frame is a server-to-client socket payload.
type Frame struct {
	Type      codec.Kind `json:"type"`
	Content   string     `json:"content"`
	Timestamp string     `json:"timestamp,omitempty"`
}

func marshalFrame(kind codec.Kind, content string, now time.Time) []byte {
	b, _ := json.Marshal(Frame{
		Type:      kind,
		Content:   content,
		Timestamp: now.UTC().Format(codec.TimestampLayout),
	})
	return b
}
