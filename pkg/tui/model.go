// Package tui is a terminal chat surface driving a delivery manager.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	bspinner "github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

// Chat is the part of *delivery.Manager the UI drives.
type Chat interface {
	SendUserMessage(ctx context.Context, text string) (delivery.Route, error)
	ReconnectNow() error
	Turns() []delivery.Turn
	State() delivery.ConnectionState
	AwaitingReply() bool
	Session() codec.Session
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	noticeStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("246"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stateStyles = map[delivery.ConnectionState]lipgloss.Style{
		delivery.Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		delivery.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		delivery.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
	}
)

type sendResultMsg struct {
	route delivery.Route
	err   error
}

type reconnectResultMsg struct{ err error }

type Model struct {
	chat     Chat
	uiEvents <-chan interface{}
	ctx      context.Context

	input    textinput.Model
	viewport viewport.Model
	spinner  bspinner.Model
	renderer *glamour.TermRenderer
	copyFn   func(string) error

	turns    []delivery.Turn
	state    delivery.ConnectionState
	awaiting bool
	status   string
	width    int
	height   int
}

type ModelOption func(*Model)

// WithCopyFunc replaces the system clipboard writer.
func WithCopyFunc(f func(string) error) ModelOption {
	return func(m *Model) { m.copyFn = f }
}

func NewModel(ctx context.Context, chat Chat, events <-chan interface{}, opts ...ModelOption) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Ask something…"
	input.Focus()

	sp := bspinner.New()
	sp.Spinner = bspinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))

	vp := viewport.New(80, 20)
	vp.Style = lipgloss.NewStyle()

	if ctx == nil {
		ctx = context.Background()
	}
	m := Model{
		chat:     chat,
		uiEvents: events,
		ctx:      ctx,
		input:    input,
		viewport: vp,
		spinner:  sp,
		copyFn:   clipboard.WriteAll,
		turns:    chat.Turns(),
		state:    chat.State(),
		awaiting: chat.AwaitingReply(),
		width:    80,
		height:   24,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.renderer = newRenderer(m.width)
	m.refresh()
	return m
}

func newRenderer(width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return nil
	}
	return r
}

func waitForUIEvent(ch <-chan interface{}) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return e
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForUIEvent(m.uiEvents))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = ev.Width, ev.Height
		m.viewport.Width = ev.Width
		m.viewport.Height = max(ev.Height-5, 3)
		m.input.Width = max(ev.Width-4, 10)
		m.renderer = newRenderer(ev.Width)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "ctrl+r":
			m.status = "reconnecting…"
			return m, m.reconnect()
		case "ctrl+y":
			m.status = m.copyLastReply()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case turnMsg:
		m.turns = append(m.turns, ev.turn)
		m.refresh()
		return m, waitForUIEvent(m.uiEvents)
	case stateMsg:
		m.state = ev.state
		return m, waitForUIEvent(m.uiEvents)
	case awaitingMsg:
		m.awaiting = ev.awaiting
		return m, waitForUIEvent(m.uiEvents)
	case disconnectMsg:
		m.status = describeDisconnect(ev.event)
		return m, waitForUIEvent(m.uiEvents)
	case errorMsg:
		m.status = "error: " + ev.err.Error()
		return m, waitForUIEvent(m.uiEvents)

	case sendResultMsg:
		switch {
		case ev.err == nil:
			m.status = "sent via " + string(ev.route)
		case errors.Is(ev.err, delivery.ErrAwaitingReply):
			m.status = "still waiting for the previous reply"
		case errors.Is(ev.err, delivery.ErrEmptyMessage):
			m.status = ""
		default:
			m.status = "send failed: " + ev.err.Error()
		}
		return m, nil
	case reconnectResultMsg:
		if ev.err != nil {
			m.status = "reconnect failed: " + ev.err.Error()
		}
		return m, nil

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	if m.awaiting {
		m.status = "still waiting for the previous reply"
		return m, nil
	}
	m.input.Reset()
	chat, ctx := m.chat, m.ctx
	return m, func() tea.Msg {
		route, err := chat.SendUserMessage(ctx, text)
		return sendResultMsg{route: route, err: err}
	}
}

func (m Model) reconnect() tea.Cmd {
	chat := m.chat
	return func() tea.Msg {
		return reconnectResultMsg{err: chat.ReconnectNow()}
	}
}

func (m Model) copyLastReply() string {
	for i := len(m.turns) - 1; i >= 0; i-- {
		t := m.turns[i]
		if t.Role != delivery.RoleAssistant {
			continue
		}
		if err := m.copyFn(t.Content); err != nil {
			return "copy failed: " + err.Error()
		}
		return "copied last reply"
	}
	return "nothing to copy"
}

func describeDisconnect(ev delivery.DisconnectEvent) string {
	switch {
	case ev.Intentional:
		return "disconnected"
	case ev.ReconnectScheduled:
		return fmt.Sprintf("connection lost, retry %d/%d in %s", ev.Attempt, ev.MaxAttempts, ev.ReconnectIn)
	case ev.Exhausted():
		return "connection lost, press ctrl+r to reconnect"
	default:
		return "connection lost"
	}
}

func (m *Model) refresh() {
	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderTurn(t))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderTurn(t delivery.Turn) string {
	switch t.Kind {
	case delivery.TurnUser:
		return userStyle.Render("You: ") + t.Content
	case delivery.TurnError:
		return errorStyle.Render(t.Content)
	case delivery.TurnNotification:
		return noticeStyle.Render("• " + t.Content)
	}
	body := t.Content
	if m.renderer != nil {
		if out, err := m.renderer.Render(t.Content); err == nil {
			body = strings.TrimSpace(out)
		}
	}
	return assistantStyle.Render("Assistant:") + "\n" + body
}

func (m Model) View() string {
	indicator := stateStyles[m.state].Render("●") + " " + m.state.String()
	header := headerStyle.Render("chatbubble") + "  " + indicator + "  " + helpStyle.Render(m.chat.Session().ID)

	footer := helpStyle.Render("enter send • ctrl+r reconnect • ctrl+y copy reply • esc quit")
	if m.awaiting {
		footer = m.spinner.View() + " waiting for reply  " + footer
	}
	if m.status != "" {
		footer = m.status + "\n" + footer
	}
	return header + "\n" + m.viewport.View() + "\n" + m.input.View() + "\n" + footer
}

// Run drives the program until the user quits.
func Run(ctx context.Context, chat Chat, events <-chan interface{}, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewModel(ctx, chat, events), opts...)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
