package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wnxd/microxe/ui"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF6B6B")).
			Padding(1, 2)

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var dismissKey = key.NewBinding(
	key.WithKeys("enter", "esc", "q", "ctrl+c"),
	key.WithHelp("enter", "dismiss"),
)

// terminalWindow renders window chrome as terminal output. Message boxes
// block until dismissed when stdin is interactive.
type terminalWindow struct {
	loop        *ui.Loop
	out         io.Writer
	interactive bool
	mu          sync.Mutex
	title       string
	icon        []byte
}

func newTerminalWindow(out io.Writer) *terminalWindow {
	return &terminalWindow{
		loop:        ui.NewLoop(),
		out:         out,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

func (w *terminalWindow) Loop() *ui.Loop {
	return w.loop
}

func (w *terminalWindow) SetTitle(title string) {
	w.mu.Lock()
	changed := w.title != title
	w.title = title
	w.mu.Unlock()
	if changed {
		fmt.Fprintln(w.out, titleStyle.Render(title))
	}
}

func (w *terminalWindow) SetIcon(data []byte) error {
	w.mu.Lock()
	w.icon = data
	w.mu.Unlock()
	return nil
}

func (w *terminalWindow) Banner(titleID, name string) {
	if name == "" {
		name = "untitled"
	}
	fmt.Fprintln(w.out, titleStyle.Render(fmt.Sprintf("%s [%s]", name, titleID)))
}

func (w *terminalWindow) ShowMessageBox(title, message string) {
	box := noticeStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headingStyle.Render(title), "", message))
	if !w.interactive {
		fmt.Fprintln(w.out, box)
		return
	}
	program := tea.NewProgram(noticeModel{box: box}, tea.WithOutput(w.out))
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(w.out, box)
	}
}

type noticeModel struct {
	box string
}

func (m noticeModel) Init() tea.Cmd {
	return nil
}

func (m noticeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, dismissKey) {
		return m, tea.Quit
	}
	return m, nil
}

func (m noticeModel) View() string {
	return m.box + "\n" + helpStyle.Render(dismissKey.Help().Key+": "+dismissKey.Help().Desc) + "\n"
}
