// Package transport wraps a persistent websocket connection to the assistant
// backend and reports its lifecycle to a registered Observer.
//
// Contract shared by every Transport implementation:
//   - Send returns false when no connection is open; it never panics.
//   - Close on an idle transport is a no-op.
//   - Close on a dialing or open transport delivers OnClose synchronously
//     before it returns, and no further callbacks for that connection follow.
//   - Observer methods must not call Close synchronously.
package transport

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyActive is returned by Connect while a connection is dialing or open.
	ErrAlreadyActive = errors.New("transport already has an active connection")
	// ErrInvalidURL is returned when the connect target cannot be used.
	ErrInvalidURL = errors.New("invalid socket url")
)

// Observer receives lifecycle notifications for one connection at a time.
type Observer interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string)
}

// Transport is the socket abstraction the delivery manager drives.
type Transport interface {
	Connect(rawURL string, params url.Values, obs Observer) error
	Send(data []byte) bool
	Close()
}

// BuildURL appends params to rawURL's query string. Only ws and wss targets are accepted.
func BuildURL(rawURL string, params url.Values) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.Wrap(ErrInvalidURL, "empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(ErrInvalidURL, err.Error())
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", errors.Wrapf(ErrInvalidURL, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Wrap(ErrInvalidURL, "missing host")
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
