package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

type fakeChat struct {
	mu         sync.Mutex
	sent       []string
	reconnects int
	turns      []delivery.Turn
}

func (f *fakeChat) SendUserMessage(_ context.Context, text string) (delivery.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return delivery.RouteSocket, nil
}

func (f *fakeChat) ReconnectNow() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeChat) Turns() []delivery.Turn          { return f.turns }
func (f *fakeChat) State() delivery.ConnectionState { return delivery.Disconnected }
func (f *fakeChat) AwaitingReply() bool             { return false }
func (f *fakeChat) Session() codec.Session          { return codec.Session{ID: "session_1"} }

func typeText(m tea.Model, text string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func TestModel_SubmitSendsAndClearsInput(t *testing.T) {
	chat := &fakeChat{}
	var m tea.Model = NewModel(context.Background(), chat, make(chan interface{}))

	m = typeText(m, "hello there")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.Equal(t, "", m.(Model).input.Value())

	res := cmd()
	require.Equal(t, sendResultMsg{route: delivery.RouteSocket}, res)
	require.Equal(t, []string{"hello there"}, chat.sent)

	m, _ = m.Update(res)
	require.Contains(t, m.View(), "sent via socket")
}

func TestModel_EmptyInputIsIgnored(t *testing.T) {
	chat := &fakeChat{}
	var m tea.Model = NewModel(context.Background(), chat, make(chan interface{}))
	m = typeText(m, "   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Empty(t, chat.sent)
}

func TestModel_NoSendWhileAwaiting(t *testing.T) {
	chat := &fakeChat{}
	var m tea.Model = NewModel(context.Background(), chat, make(chan interface{}))
	m, _ = m.Update(awaitingMsg{awaiting: true})
	m = typeText(m, "again")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Contains(t, m.View(), "still waiting")
	require.Equal(t, "again", m.(Model).input.Value())
}

func TestModel_RendersTurnsAndState(t *testing.T) {
	chat := &fakeChat{turns: []delivery.Turn{{Role: delivery.RoleAssistant, Kind: delivery.TurnWelcome, Content: "Welcome aboard"}}}
	var m tea.Model = NewModel(context.Background(), chat, make(chan interface{}))
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	m, _ = m.Update(turnMsg{turn: delivery.Turn{Role: delivery.RoleUser, Kind: delivery.TurnUser, Content: "question"}})
	m, _ = m.Update(turnMsg{turn: delivery.Turn{Role: delivery.RoleAssistant, Kind: delivery.TurnError, Content: "Error: boom"}})
	m, _ = m.Update(turnMsg{turn: delivery.Turn{Role: delivery.RoleAssistant, Kind: delivery.TurnNotification, Content: "fyi"}})
	m, _ = m.Update(stateMsg{state: delivery.Connected})

	view := m.View()
	require.Contains(t, view, "Welcome")
	require.Contains(t, view, "question")
	require.Contains(t, view, "Error: boom")
	require.Contains(t, view, "fyi")
	require.Contains(t, view, "connected")
	require.Contains(t, view, "session_1")
}

func TestModel_ReconnectKey(t *testing.T) {
	chat := &fakeChat{}
	var m tea.Model = NewModel(context.Background(), chat, make(chan interface{}))
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	require.NotNil(t, cmd)
	require.Equal(t, reconnectResultMsg{}, cmd())
	require.Equal(t, 1, chat.reconnects)
	require.Contains(t, m.View(), "reconnecting")
}

func TestModel_CopyLastReply(t *testing.T) {
	var copied string
	chat := &fakeChat{turns: []delivery.Turn{
		{Role: delivery.RoleAssistant, Kind: delivery.TurnResponse, Content: "first"},
		{Role: delivery.RoleUser, Kind: delivery.TurnUser, Content: "q"},
		{Role: delivery.RoleAssistant, Kind: delivery.TurnResponse, Content: "latest"},
		{Role: delivery.RoleUser, Kind: delivery.TurnUser, Content: "q2"},
	}}
	var m tea.Model = NewModel(context.Background(), chat, make(chan interface{}), WithCopyFunc(func(s string) error {
		copied = s
		return nil
	}))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Equal(t, "latest", copied)
	require.Contains(t, m.View(), "copied last reply")
}

func TestModel_DisconnectStatus(t *testing.T) {
	var m tea.Model = NewModel(context.Background(), &fakeChat{}, make(chan interface{}))
	m, _ = m.Update(disconnectMsg{event: delivery.DisconnectEvent{ReconnectScheduled: true, Attempt: 1, MaxAttempts: 5, ReconnectIn: 3 * time.Second}})
	require.Contains(t, m.View(), "retry 1/5 in 3s")

	m, _ = m.Update(disconnectMsg{event: delivery.DisconnectEvent{Err: delivery.ErrReconnectAttemptsExhausted}})
	require.Contains(t, m.View(), "ctrl+r")
}

func TestBridge_ForwardsCallbacks(t *testing.T) {
	b := NewBridge(4)
	cb := b.Callbacks()
	cb.OnStateChange(delivery.Connecting)
	cb.OnTurn(delivery.Turn{Content: "x"})

	cmd := waitForUIEvent(b.Events())
	require.Equal(t, stateMsg{state: delivery.Connecting}, cmd())
	require.Equal(t, turnMsg{turn: delivery.Turn{Content: "x"}}, cmd())
}
