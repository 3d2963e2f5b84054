package delivery

import (
	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
	"github.com/go-go-golems/chatbubble/pkg/bubble/transport"
)

// socketObserver receives transport lifecycle events on behalf of a Manager.
type socketObserver struct {
	m *Manager
}

var _ transport.Observer = socketObserver{}

func (o socketObserver) OnOpen() {
	m := o.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return
	}
	if m.state != Connecting {
		m.logger.Warn().Stringer("state", m.state).Msg("open reported outside connecting state")
		return
	}
	m.setStateLocked(Connected)
	m.policy.Reset()
	m.logger.Info().Msg("socket connected")
	if cb := m.callbacks.OnConnect; cb != nil {
		m.notify.post(cb)
	}
}

func (o socketObserver) OnMessage(data []byte) {
	m := o.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return
	}
	m.logger.Debug().Int("bytes", len(data)).Msg("socket message received")
	if cb := m.callbacks.OnMessage; cb != nil {
		raw := append([]byte(nil), data...)
		m.notify.post(func() { cb(raw) })
	}
	m.dispatchLocked(codec.Decode(data))
}

func (o socketObserver) OnError(err error) {
	m := o.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return
	}
	m.logger.Warn().Err(err).Msg("socket error")
	m.postError(err)
}

func (o socketObserver) OnClose(code int, reason string) {
	m := o.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return
	}
	m.setStateLocked(Disconnected)

	ev := DisconnectEvent{
		Code:        code,
		Reason:      reason,
		Intentional: m.intentionalClose,
	}
	if ev.Intentional {
		m.logger.Info().Int("code", code).Str("reason", reason).Msg("socket closed")
	} else {
		d := m.policy.OnUnexpectedClose(m.reconnectFire)
		ev.ReconnectScheduled = d.Scheduled
		ev.Attempt = d.Attempt
		ev.MaxAttempts = d.MaxAttempts
		ev.ReconnectIn = d.Delay
		if d.Exhausted() {
			ev.Err = ErrReconnectAttemptsExhausted
			m.logger.Warn().Int("code", code).Str("reason", reason).Int("attempts", d.Attempt).Msg("max reconnection attempts reached")
		} else {
			m.logger.Info().Int("code", code).Str("reason", reason).
				Int("attempt", d.Attempt).Int("max_attempts", d.MaxAttempts).Dur("delay", d.Delay).
				Msg("socket dropped, reconnect scheduled")
		}
	}
	if cb := m.callbacks.OnDisconnect; cb != nil {
		m.notify.post(func() { cb(ev) })
	}
}

// reconnectFire runs on the reconnect timer. The generation is checked under
// m.mu so that a close requested after the timer fired still wins.
func (m *Manager) reconnectFire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.policy.Current(gen) {
		m.logger.Debug().Msg("scheduled reconnect cancelled")
		return
	}
	if err := m.initConnectionLocked(); err != nil {
		m.logger.Debug().Err(err).Msg("scheduled reconnect did not start")
	}
}
