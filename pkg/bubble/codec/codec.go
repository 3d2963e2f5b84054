// Package codec serializes outgoing chat envelopes and classifies inbound
// socket payloads into a closed set of message kinds.
//
// Decode never fails: anything it cannot make sense of comes back as
// KindUnrecognized carrying the raw bytes, so a malformed frame can be logged
// and dropped without tearing down the connection.
package codec

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Kind is the classification of an inbound payload.
type Kind string

const (
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
	KindUnrecognized Kind = "unrecognized"
)

// OutboundType is the only envelope type the client ever sends.
const OutboundType = "message"

// TimestampLayout matches the millisecond ISO-8601 form browsers emit.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrMalformed marks inbound payloads that are not a JSON object.
var ErrMalformed = errors.New("malformed inbound payload")

// Session identifies one logical conversation. It is immutable once built.
type Session struct {
	ID             string
	CollectionName string
}

// Envelope is the wire form of an outgoing user message.
type Envelope struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	SessionID      string `json:"session_id"`
	CollectionName string `json:"collection_name,omitempty"`
	Timestamp      string `json:"timestamp"`
}

// Inbound is a classified inbound payload.
type Inbound struct {
	Kind    Kind
	Content string
	// Type holds the raw "type" field, set for unknown kinds.
	Type string
	Raw  []byte
	// Err is set when the payload could not be parsed at all.
	Err error
}

// Malformed reports whether the payload failed structural parsing.
func (in Inbound) Malformed() bool {
	return in.Err != nil
}

type inboundWire struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Response string `json:"response"`
	Message  string `json:"message"`
}

// NewEnvelope builds a fresh envelope for one send call.
func NewEnvelope(content string, s Session, now time.Time) Envelope {
	return Envelope{
		Type:           OutboundType,
		Content:        content,
		SessionID:      s.ID,
		CollectionName: s.CollectionName,
		Timestamp:      now.UTC().Format(TimestampLayout),
	}
}

// Encode serializes content for the given session, stamped with the current time.
func Encode(content string, s Session) []byte {
	return EncodeAt(content, s, time.Now())
}

// EncodeAt is Encode with an explicit timestamp.
func EncodeAt(content string, s Session, now time.Time) []byte {
	// Envelope only holds strings, Marshal cannot fail.
	b, _ := json.Marshal(NewEnvelope(content, s, now))
	return b
}

// Decode classifies a raw inbound payload.
func Decode(raw []byte) Inbound {
	in := Inbound{Raw: append([]byte(nil), raw...)}

	var w inboundWire
	if err := json.Unmarshal(raw, &w); err != nil {
		in.Kind = KindUnrecognized
		in.Err = errors.Wrap(ErrMalformed, err.Error())
		return in
	}

	switch w.Type {
	case string(KindResponse):
		in.Kind = KindResponse
		in.Content = firstNonEmpty(w.Content, w.Response)
	case string(KindNotification):
		in.Kind = KindNotification
		in.Content = w.Content
	case string(KindError):
		in.Kind = KindError
		in.Content = firstNonEmpty(w.Content, w.Message)
	default:
		in.Kind = KindUnrecognized
		in.Type = w.Type
	}
	return in
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
