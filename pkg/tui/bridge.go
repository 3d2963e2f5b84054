package tui

import (
	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

type turnMsg struct{ turn delivery.Turn }

type stateMsg struct{ state delivery.ConnectionState }

type awaitingMsg struct{ awaiting bool }

type disconnectMsg struct{ event delivery.DisconnectEvent }

type errorMsg struct{ err error }

// Bridge turns delivery manager callbacks into bubbletea messages.
type Bridge struct {
	ch chan interface{}
}

func NewBridge(buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bridge{ch: make(chan interface{}, buffer)}
}

// Callbacks must be handed to delivery.WithCallbacks. They block when the
// buffer is full, which only stalls the manager's notification goroutine.
func (b *Bridge) Callbacks() delivery.Callbacks {
	return delivery.Callbacks{
		OnTurn:        func(t delivery.Turn) { b.ch <- turnMsg{turn: t} },
		OnStateChange: func(s delivery.ConnectionState) { b.ch <- stateMsg{state: s} },
		OnAwaiting:    func(v bool) { b.ch <- awaitingMsg{awaiting: v} },
		OnDisconnect:  func(ev delivery.DisconnectEvent) { b.ch <- disconnectMsg{event: ev} },
		OnError:       func(err error) { b.ch <- errorMsg{err: err} },
	}
}

func (b *Bridge) Events() <-chan interface{} {
	return b.ch
}
