package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []Notification
}

func (c *collector) add(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
}

func (c *collector) snapshot() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.got...)
}

func TestBus_InProcessRoutesBySession(t *testing.T) {
	bus, err := NewBus(Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, b collector
	require.NoError(t, bus.Subscribe(ctx, "a", a.add))
	require.NoError(t, bus.Subscribe(ctx, "b", b.add))

	require.NoError(t, bus.Publish(Notification{SessionID: "a", Content: "for a"}))
	require.NoError(t, bus.Publish(Notification{SessionID: "b", Content: "for b"}))

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 1 && len(b.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "for a", a.snapshot()[0].Content)
	require.Equal(t, "for b", b.snapshot()[0].Content)
}

func TestBus_CancelledSubscriptionStopsDelivery(t *testing.T) {
	bus, err := NewBus(Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	require.NoError(t, bus.Subscribe(ctx, "s", c.add))
	require.NoError(t, bus.Publish(Notification{SessionID: "s", Content: "1"}))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	_ = bus.Publish(Notification{SessionID: "s", Content: "2"})
	time.Sleep(50 * time.Millisecond)
	require.Len(t, c.snapshot(), 1)
}

func TestBus_Validation(t *testing.T) {
	bus, err := NewBus(Settings{})
	require.NoError(t, err)

	require.ErrorIs(t, bus.Publish(Notification{SessionID: " "}), ErrEmptySession)
	require.ErrorIs(t, bus.Subscribe(context.Background(), "", func(Notification) {}), ErrEmptySession)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	require.ErrorIs(t, bus.Publish(Notification{SessionID: "s"}), ErrBusClosed)

	_, err = NewBus(Settings{Enabled: true})
	require.Error(t, err)
}
