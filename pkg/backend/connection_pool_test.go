package backend

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu      sync.Mutex
	writes  [][]byte
	failing bool
	closed  bool
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing || s.closed {
		return errors.New("broken pipe")
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error { return nil }

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubConn) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestConnectionPoolBroadcastDropsFailingConn(t *testing.T) {
	pool := NewConnectionPool("s1", 0, nil)
	good, bad := &stubConn{}, &stubConn{failing: true}
	pool.Add(good)
	pool.Add(bad)

	require.Equal(t, 1, pool.Broadcast([]byte(`{"type":"notification"}`)))
	require.Equal(t, 1, pool.Count())
	require.Equal(t, 1, good.writeCount())
	require.True(t, bad.closed)
}

func TestConnectionPoolSendToOneIgnoresUnknownConn(t *testing.T) {
	pool := NewConnectionPool("s1", 0, nil)
	conn := &stubConn{}
	require.False(t, pool.SendToOne(conn, []byte("x")))
	pool.Add(conn)
	require.True(t, pool.SendToOne(conn, []byte("x")))
	require.Equal(t, 1, conn.writeCount())
}

func TestConnectionPoolIdleCallback(t *testing.T) {
	var fired atomic.Int32
	pool := NewConnectionPool("s1", 20*time.Millisecond, func() { fired.Add(1) })

	conn := &stubConn{}
	pool.Add(conn)
	pool.Remove(conn)
	require.True(t, conn.closed)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnectionPoolReattachCancelsIdle(t *testing.T) {
	var fired atomic.Int32
	pool := NewConnectionPool("s1", 30*time.Millisecond, func() { fired.Add(1) })

	first := &stubConn{}
	pool.Add(first)
	pool.Remove(first)
	pool.Add(&stubConn{})

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, int32(0), fired.Load())
}

func TestConnectionPoolCloseAll(t *testing.T) {
	pool := NewConnectionPool("s1", time.Hour, func() {})
	a, b := &stubConn{}, &stubConn{}
	pool.Add(a)
	pool.Add(b)
	pool.CloseAll()
	require.True(t, pool.IsEmpty())
	require.True(t, a.closed)
	require.True(t, b.closed)
}
