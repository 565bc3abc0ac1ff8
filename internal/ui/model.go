package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
	"github.com/Allenmylath/dwelling-scribe/internal/session"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusOKStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusBadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusDimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	interimStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

// Model is the terminal chat view over a session.
type Model struct {
	sess   *session.Session
	scroll *session.AutoScrollController

	vp    viewport.Model
	input textinput.Model
	spin  spinner.Model

	width  int
	height int
	ready  bool

	state       domain.ConnectionState
	mic         bool
	notice      string
	resultCount int
}

func New(sess *session.Session) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, or connect and talk"
	input.CharLimit = 500
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		sess:   sess,
		scroll: session.NewAutoScrollController(2),
		input:  input,
		spin:   spin,
		state:  sess.State(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 5
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			content := strings.TrimSpace(m.input.Value())
			if content != "" {
				m.input.Reset()
				// A failed send surfaces as a log entry.
				_ = m.sess.SubmitTypedMessage(content)
			}
			return m, nil
		case "ctrl+t":
			m.notice = ""
			m.sess.ToggleConnection(context.Background())
			return m, nil
		case "ctrl+g":
			on, err := m.sess.ToggleMicrophone()
			if err == nil {
				m.mic = on
			}
			return m, nil
		case "ctrl+r":
			m.notice = ""
			m.resultCount = 0
			m.sess.Reset()
			return m, nil
		case "end":
			m.scroll.JumpToBottom()
			m.vp.GotoBottom()
			return m, nil
		}

	case conversationChangedMsg:
		m.refreshTranscript()
		return m, nil

	case connectionChangedMsg:
		m.state = msg.state
		if !msg.state.Connected() {
			m.mic = false
		}
		return m, nil

	case noticeMsg:
		m.notice = noticeText(msg.code, msg.detail)
		return m, nil

	case serverMessageMsg:
		m.resultCount++
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.scroll.Observe(m.vp.YOffset, m.vp.Height, m.vp.TotalLineCount())
	m.vp.SetContent(m.renderTranscript())
	if m.scroll.ShouldFollow() {
		m.vp.GotoBottom()
	}
}

func (m *Model) renderTranscript() string {
	entries := m.sess.Snapshot()
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, renderEntry(entry, m.vp.Width))
	}
	return strings.Join(lines, "\n")
}

func renderEntry(entry domain.MessageEntry, width int) string {
	label := assistantStyle.Render("Scribe")
	if entry.Speaker == domain.SpeakerUser {
		label = userStyle.Render("You")
	}

	content := entry.Content
	if entry.Status == domain.StatusInterim {
		content = interimStyle.Render(content + " ...")
	}

	line := fmt.Sprintf("%s  %s", label, content)
	if width > 0 {
		return lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	header := titleStyle.Render("dwelling-scribe") + "  " + m.statusLine()

	noticeLine := ""
	if m.notice != "" {
		noticeLine = noticeStyle.Render(m.notice)
	} else if m.resultCount > 0 {
		noticeLine = statusDimStyle.Render(fmt.Sprintf("%d search update(s) received", m.resultCount))
	}

	follow := ""
	if !m.scroll.NearBottom() {
		follow = statusDimStyle.Render("  [end] jump to latest")
	}

	help := helpStyle.Render("enter send · ctrl+t connect · ctrl+g mic · ctrl+r restart · esc quit")

	return strings.Join([]string{
		header,
		m.vp.View(),
		noticeLine + follow,
		"> " + m.input.View(),
		help,
	}, "\n")
}

func (m Model) statusLine() string {
	connecting := m.sess.Connecting()
	switch {
	case m.state.Connected():
		mic := "mic off"
		if m.mic {
			mic = "mic on"
		}
		return statusOKStyle.Render(m.state.StatusText() + " · " + mic)
	case connecting:
		return statusDimStyle.Render(m.spin.View() + m.state.StatusText())
	case m.state.Errored():
		return statusBadStyle.Render(m.state.StatusText())
	default:
		return statusDimStyle.Render(m.state.StatusText())
	}
}

func noticeText(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeMicAccess:
		return "Microphone unavailable: " + detail
	case domain.ErrorCodeTransport:
		return "Connection problem: " + detail
	case domain.ErrorCodeSend:
		return "Send failed: " + detail
	default:
		if detail == "" {
			return string(code)
		}
		return detail
	}
}
