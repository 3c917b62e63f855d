// Package tui is the terminal chat client behind `kbchat chat`.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Asker is the TUI-facing subset of the assistant.
type Asker interface {
	HandleQuestion(ctx context.Context, text string) string
}

type turn struct {
	question string
	answer   string
}

type answerMsg struct {
	question string
	answer   string
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx      context.Context
	asker    Asker
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	pending  string
	status   string
	ready    bool
}

func New(ctx context.Context, asker Asker) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your Excel/PDF files and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:      ctx,
		asker:    asker,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Ready. Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input box, input line
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case answerMsg:
		m.turns = append(m.turns, turn{question: msg.question, answer: msg.answer})
		m.pending = ""
		m.status = "Ready."
		m.input.Focus()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending != "" {
				return m, nil
			}
			m.pending = q
			m.status = "Searching the knowledge base..."
			m.input.Reset()
			m.refresh()
			return m, m.ask(q)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	ctx, asker := m.ctx, m.asker
	return func() tea.Msg {
		return answerMsg{question: q, answer: asker.HandleQuestion(ctx, q)}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("kbchat")
	transcript := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

// Transcript renders the conversation so far.
func (m Model) Transcript() string {
	if len(m.turns) == 0 && m.pending == "" {
		return mutedStyle.Render("No questions yet.")
	}
	var sb strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s %s\n%s", youStyle.Render("you:"), t.question, t.answer)
	}
	if m.pending != "" {
		if len(m.turns) > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s %s\n%s", youStyle.Render("you:"), m.pending, mutedStyle.Render("..."))
	}
	return sb.String()
}

func (m *Model) refresh() {
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(m.Transcript()))
	m.viewport.GotoBottom()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	youStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
)
