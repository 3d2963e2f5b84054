package delivery

import (
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbubble/pkg/bubble/httpapi"
)

var (
	ErrTransportUnavailable       = errors.New("socket transport unavailable")
	ErrMalformedInboundPayload    = errors.New("malformed inbound payload")
	ErrHTTPRequestFailed          = httpapi.ErrRequestFailed
	ErrReconnectAttemptsExhausted = errors.New("reconnect attempts exhausted")
	ErrConfigurationMissing       = errors.New("socket url not configured")

	ErrEmptyMessage  = errors.New("message is empty")
	ErrAwaitingReply = errors.New("a reply is still pending")
	ErrTornDown      = errors.New("manager has been torn down")
)

// ErrorPrefix marks assistant turns that carry an error.
const ErrorPrefix = "Error: "

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnKind records why a turn was appended.
type TurnKind string

const (
	TurnUser         TurnKind = "user"
	TurnWelcome      TurnKind = "welcome"
	TurnResponse     TurnKind = "response"
	TurnNotification TurnKind = "notification"
	TurnError        TurnKind = "error"
)

// Turn is one entry of the conversation as rendered by the UI.
type Turn struct {
	ID        string
	Role      Role
	Kind      TurnKind
	Content   string
	Timestamp time.Time
}

// Route names the transport that carried a user message.
type Route string

const (
	RouteSocket Route = "socket"
	RouteHTTP   Route = "http"
)

// DisconnectEvent describes a transition to Disconnected.
type DisconnectEvent struct {
	Code   int
	Reason string
	// Intentional is true when the close came from CloseConnection/ReconnectNow.
	Intentional bool

	ReconnectScheduled bool
	Attempt            int
	MaxAttempts        int
	ReconnectIn        time.Duration

	// Err is ErrReconnectAttemptsExhausted when the policy gave up.
	Err error
}

// Exhausted reports whether no further automatic reconnect will happen.
func (e DisconnectEvent) Exhausted() bool {
	return errors.Is(e.Err, ErrReconnectAttemptsExhausted)
}

// Callbacks are the external observers. All of them are invoked sequentially
// on a single dispatch goroutine, in the order the underlying events happened,
// and never after Teardown.
type Callbacks struct {
	OnConnect     func()
	OnDisconnect  func(DisconnectEvent)
	OnError       func(error)
	OnMessage     func(raw []byte)
	OnTurn        func(Turn)
	OnStateChange func(ConnectionState)
	OnAwaiting    func(awaiting bool)
}
