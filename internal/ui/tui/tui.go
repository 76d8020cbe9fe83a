package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI forwards runner output into the running bubbletea program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) ShowReply(text string) {
	t.program.Send(ReplyMsg(text))
}

func (t *TUI) ShowStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

// Model is the chat screen: a scrollback viewport over the transcript and
// an input line at the bottom.
type Model struct {
	Title    string
	Status   string
	Lines    []string
	Viewport viewport.Model
	Input    textinput.Model
	Submit   func(string)
	Quitting bool
	Ready    bool
	Width    int
	Height   int
}

type ReplyMsg string
type StatusMsg string
type LogMsg string

func NewModel(title string, submit func(string)) Model {
	input := textinput.New()
	input.Placeholder = "Type a message, /image <path>, /audio <path>, /clear, /quit"
	input.Focus()
	return Model{
		Title:  title,
		Status: "ready",
		Input:  input,
		Submit: submit,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.Input.Value())
			m.Input.SetValue("")
			if line == "/quit" {
				m.Quitting = true
				return m, tea.Quit
			}
			if line != "" {
				m.appendLine(userStyle.Render("you: ") + line)
				if m.Submit != nil {
					m.Submit(line)
				}
			}
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-4)
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - 4
		}

	case ReplyMsg:
		m.appendLine(assistantStyle.Render("assistant: " + string(msg)))

	case LogMsg:
		m.appendLine(statusStyle.Render(string(msg)))

	case StatusMsg:
		m.Status = string(msg)
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)

	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) appendLine(line string) {
	m.Lines = append(m.Lines, line)
	m.Viewport.SetContent(strings.Join(m.Lines, "\n"))
	m.Viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" "+m.Title+" ") + statusStyle.Render(fmt.Sprintf(" %s ", m.Status))
	view := fmt.Sprintf("%s\n%s\n%s", header, m.Viewport.View(), m.Input.View())

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}
