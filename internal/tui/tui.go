// Package tui renders one chat thread in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/chat"
	"chatsync/internal/models"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const requestTimeout = 15 * time.Second

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dividerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	mineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	theirsStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	typingStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type changedMsg struct{}

type sentMsg struct{ err error }

type markedMsg struct{ err error }

// Model is the bubbletea model of an open thread.
type Model struct {
	thread  *chat.Thread
	peer    models.Participant
	input   textinput.Model
	changes <-chan struct{}
	// connected, when set, reports whether realtime updates are flowing
	connected func() bool
	status    string
	height    int
}

// New shows thread. changes must receive a value whenever the store changes.
func New(thread *chat.Thread, changes <-chan struct{}) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message... (enter to send, ctrl+r to mark read, esc to quit)"
	ti.CharLimit = 4096
	ti.Prompt = "> "
	ti.Focus()

	return Model{
		thread:  thread,
		peer:    thread.Conversation().Peer,
		input:   ti,
		changes: changes,
		height:  24,
	}
}

// WithConnection shows a notice in the status line while connected reports false.
func (m Model) WithConnection(connected func() bool) Model {
	m.connected = connected
	return m
}

// Notify adapts a store subscription to the changes channel New expects.
func Notify(store *chat.Store) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	unsub := store.Subscribe(func(chat.Change) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, unsub
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForChange(m.changes))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case changedMsg:
		return m, waitForChange(m.changes)

	case sentMsg:
		m.status = errText(msg.err)
		return m, nil

	case markedMsg:
		m.status = errText(msg.err)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			content := m.input.Value()
			if strings.TrimSpace(content) == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.send(content)
		case tea.KeyCtrlR:
			return m, m.markRead()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if _, ok := msg.(tea.KeyMsg); ok {
		m.thread.Input(m.input.Value())
	}
	return m, cmd
}

func (m Model) send(content string) tea.Cmd {
	thread := m.thread
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := thread.Send(ctx, content)
		return sentMsg{err: err}
	}
}

func (m Model) markRead() tea.Cmd {
	thread := m.thread
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return markedMsg{err: thread.MarkRead(ctx)}
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Chat with "+m.peer.Name) + "\n\n")

	// header, blank line, typing line, status line and input
	rows := m.height - 6
	if rows < 1 {
		rows = 1
	}
	b.WriteString(RenderTimeline(m.thread.Timeline(), m.peer.Name, rows))

	b.WriteString("\n")
	if typing := m.thread.TypingUsers(); len(typing) > 0 {
		b.WriteString(typingStyle.Render(m.peer.Name + " is typing..."))
	}
	b.WriteString("\n")
	if line := statusLine(m.connected, m.status); line != "" {
		b.WriteString(errorStyle.Render(line))
	}
	b.WriteString("\n" + m.input.View())
	return b.String()
}

func statusLine(connected func() bool, status string) string {
	if connected != nil && !connected() {
		if status == "" {
			return "reconnecting..."
		}
		return "reconnecting... " + status
	}
	return status
}

// RenderTimeline renders the last rows lines of items.
func RenderTimeline(items []chat.TimelineItem, peerName string, rows int) string {
	var lines []string
	for _, it := range items {
		if it.ShowTimestamp {
			lines = append(lines, dividerStyle.Render("-- "+it.Message.CreatedAt.Local().Format("Jan 2 15:04")+" --"))
		}
		lines = append(lines, renderMessage(it, peerName))
	}
	if len(lines) > rows {
		lines = lines[len(lines)-rows:]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderMessage(it chat.TimelineItem, peerName string) string {
	if !it.Mine {
		return theirsStyle.Render(peerName+": ") + it.Message.Content
	}
	mark := "sent"
	switch {
	case it.Message.Pending:
		mark = "sending"
	case it.Message.Read:
		mark = "read"
	}
	return mineStyle.Render("me: ") + it.Message.Content + dividerStyle.Render(fmt.Sprintf(" (%s)", mark))
}
