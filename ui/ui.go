// Package ui renders the live transcript in the terminal and turns key
// presses into start/stop requests.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/scribe/session"
	"node.town/scribe/transcript"
)

const statusInterval = 250 * time.Millisecond

type Controller interface {
	Toggle(ctx context.Context) error
	Info() session.Info
}

type updateMsg transcript.Update

type updatesClosedMsg struct{}

type statusMsg session.Info

type toggleDoneMsg struct{ err error }

type model struct {
	viewport   viewport.Model
	ctrl       Controller
	updates    <-chan transcript.Update
	fragments  []transcript.Fragment
	logEntries []string
	info       session.Info
	ready      bool
	showLog    bool
}

func initialModel(ctrl Controller, updates <-chan transcript.Update, backlog []transcript.Fragment) model {
	return model{
		ctrl:       ctrl,
		updates:    updates,
		fragments:  backlog,
		logEntries: []string{},
		info:       ctrl.Info(),
	}
}

// Run shows the UI until the user quits. backlog is the transcript as it
// was when updates was subscribed.
func Run(ctrl Controller, updates <-chan transcript.Update, backlog []transcript.Fragment) error {
	p := tea.NewProgram(initialModel(ctrl, updates, backlog), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), pollStatus(m.ctrl))
}

func waitForUpdate(updates <-chan transcript.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg(u)
	}
}

func pollStatus(ctrl Controller) tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg {
		return statusMsg(ctrl.Info())
	})
}

func toggle(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return toggleDoneMsg{err: ctrl.Toggle(context.Background())}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case " ", "enter":
			m.logEntries = append(m.logEntries, fmt.Sprintf("KEY toggle from %s", m.info.State))
			return m, toggle(m.ctrl)
		case "tab":
			m.showLog = !m.showLog
			m.refresh()
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}
		m.refresh()

	case updateMsg:
		if msg.Cleared {
			m.fragments = nil
			m.logEntries = append(m.logEntries, "CLR")
		} else if msg.Fragment != nil {
			m.fragments = append(m.fragments, *msg.Fragment)
			m.logEntries = append(m.logEntries, fmt.Sprintf(
				"FRG %s %q",
				msg.Fragment.ReceivedAt.Format("15:04:05.000"),
				msg.Fragment.Text,
			))
		}
		m.refresh()
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForUpdate(m.updates))

	case updatesClosedMsg:
		return m, tea.Quit

	case statusMsg:
		if msg.State != m.info.State || msg.Connected != m.info.Connected {
			m.logEntries = append(m.logEntries, fmt.Sprintf(
				"STA %s connection=%s", msg.State, msg.Connection,
			))
			if m.showLog {
				m.refresh()
			}
		}
		m.info = session.Info(msg)
		cmds = append(cmds, pollStatus(m.ctrl))

	case toggleDoneMsg:
		if msg.err != nil {
			m.logEntries = append(m.logEntries, fmt.Sprintf("ERR toggle: %v", msg.err))
			m.refresh()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) refresh() {
	if m.ready {
		m.viewport.SetContent(m.contentView())
	}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

var stateColors = map[session.State]lipgloss.Color{
	session.Stopped:  lipgloss.Color("240"),
	session.Starting: lipgloss.Color("#D7AF00"),
	session.Running:  lipgloss.Color("#25A065"),
	session.Stopping: lipgloss.Color("#FF8800"),
}

func (m model) headerView() string {
	title := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#25A065")).
		Padding(0, 1).
		Render("Scribe")

	link := "offline"
	if m.info.Connected {
		link = "connected"
	}
	state := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(stateColors[m.info.State]).
		Padding(0, 1).
		Render(fmt.Sprintf("%s · %s", m.info.State, link))

	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(title)-lipgloss.Width(state)),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line, state)
}

func (m model) footerView() string {
	info := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFDF5")).
		Background(lipgloss.Color("#25A065")).
		Padding(0, 1).
		Render("Space to start/stop, Tab to switch views, q to quit")
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	text := m.TranscriptView()
	if m.viewport.Width > 0 {
		text = lipgloss.NewStyle().Width(m.viewport.Width).Render(text)
	}
	return text
}

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

// TranscriptView joins the fragments as received. Error fragments get a
// line of their own.
func (m model) TranscriptView() string {
	var b strings.Builder
	for _, f := range m.fragments {
		if !strings.HasPrefix(f.Text, "Error:") {
			b.WriteString(f.Text)
			continue
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		b.WriteString(errorStyle.Render(f.Text))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) logView() string {
	var content strings.Builder
	for _, entry := range m.logEntries {
		content.WriteString(entry)
		content.WriteString("\n")
	}
	return content.String()
}
