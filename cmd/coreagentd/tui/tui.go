// Command tui is a minimal operator console for coreagentd: a bubbletea
// program that lists the non-ended sessions of the current directory's
// workspace and lets an operator drill into a session's messages, driving
// the RPC Dispatcher directly in-process rather than through an HTTP round
// trip. It is trimmed down from muxd's internal/tui chat UI
// (program.go/model.go/styles.go) to a read-only session/message browser
// over the new RPC surface.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/eventstore"
	"github.com/coreagent/runtime/internal/rpc"
	"github.com/coreagent/runtime/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	metaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// sessionItem adapts a domain.Session to list.Item.
type sessionItem struct {
	sess domain.Session
}

func (i sessionItem) Title() string { return i.sess.ID }
func (i sessionItem) Description() string {
	status := "active"
	if i.sess.Ended {
		status = "ended"
	}
	return fmt.Sprintf("%s/%s · %d msgs · %s", i.sess.Provider, i.sess.Model, i.sess.MessageCount, status)
}
func (i sessionItem) FilterValue() string { return i.sess.ID }

// Model is the bubbletea model driving the session browser.
type Model struct {
	dispatcher  *rpc.Dispatcher
	workspaceID string
	list        list.Model
	detail      string
	err         error
	width       int
	height      int
}

// New creates a Model that browses sessions in workspaceID via d.
func New(d *rpc.Dispatcher, workspaceID string) Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "sessions"
	return Model{dispatcher: d, workspaceID: workspaceID, list: l}
}

type sessionsLoadedMsg struct {
	sessions []domain.Session
	err      error
}

type sessionDetailMsg struct {
	detail string
	err    error
}

func (m Model) Init() tea.Cmd {
	return m.loadSessions
}

func (m Model) loadSessions() tea.Msg {
	resp := m.dispatcher.Dispatch(context.Background(), rpc.Request{
		ID:     "tui-session-list",
		Method: "session.list",
		Params: map[string]any{"workspaceId": m.workspaceID},
	})
	if !resp.Success {
		return sessionsLoadedMsg{err: fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)}
	}
	sessions, _ := resp.Result.([]domain.Session)
	return sessionsLoadedMsg{sessions: sessions}
}

func (m Model) loadDetail(sessionID string) tea.Cmd {
	return func() tea.Msg {
		resp := m.dispatcher.Dispatch(context.Background(), rpc.Request{
			ID:     "tui-session-get",
			Method: "session.get",
			Params: map[string]any{"sessionId": sessionID},
		})
		if !resp.Success {
			return sessionDetailMsg{err: fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "session %s\n", sessionID)
		if view, ok := resp.Result.(*session.View); ok {
			fmt.Fprintf(&b, "messages: %d\n", len(view.Messages))
			for _, msg := range view.Messages {
				fmt.Fprintf(&b, "  [%s] %s\n", msg.Role, truncate(msg.Content, 80))
			}
		}
		return sessionDetailMsg{detail: b.String()}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.loadSessions
		case "enter":
			if it, ok := m.list.SelectedItem().(sessionItem); ok {
				return m, m.loadDetail(it.sess.ID)
			}
		}

	case sessionsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(msg.sessions))
		for i, s := range msg.sessions {
			items[i] = sessionItem{sess: s}
		}
		m.list.SetItems(items)
		return m, nil

	case sessionDetailMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.detail = msg.detail
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("coreagentd — session browser"))
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.list.View())
	if m.detail != "" {
		b.WriteString("\n")
		b.WriteString(metaStyle.Render(m.detail))
	}
	b.WriteString("\n")
	b.WriteString(metaStyle.Render("enter: inspect · r: refresh · q: quit"))
	return b.String()
}

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}

	store, err := eventstore.OpenDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening event store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ws, err := store.GetOrCreateWorkspace(context.Background(), cwd, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving workspace for %s: %v\n", cwd, err)
		os.Exit(1)
	}

	sm := session.New(store)
	d := rpc.New(rpc.Managers{"session": sm}, nil)
	d.Register("session.list", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		return sm.List(ctx, params["workspaceId"].(string), false)
	}, rpc.MethodOptions{RequiredParams: []string{"workspaceId"}})
	d.Register("session.get", func(ctx context.Context, params map[string]any, mgrs rpc.Managers) (any, error) {
		return sm.Get(ctx, params["sessionId"].(string))
	}, rpc.MethodOptions{RequiredParams: []string{"sessionId"}})

	p := tea.NewProgram(New(d, ws.ID))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui: %v\n", err)
		os.Exit(1)
	}
}
