package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

func TestForwardAssistantTurns_DropsWhenFull(t *testing.T) {
	replies := make(chan delivery.Turn, 1)
	forward := forwardAssistantTurns(replies)

	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(delivery.Turn{Role: delivery.RoleUser, Content: "ignored"})
		for i := 0; i < 20; i++ {
			forward(delivery.Turn{Role: delivery.RoleAssistant, Kind: delivery.TurnNotification, Content: "n"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarding blocked on a full channel")
	}
	require.Len(t, replies, 1)
	require.Equal(t, delivery.RoleAssistant, (<-replies).Role)
}
