package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yt-channel-fetcher/internal/model"
	"yt-channel-fetcher/internal/queue"
)

type manageMode int

const (
	manageModeBrowse manageMode = iota
	manageModeFilter
)

type manageModel struct {
	queuePath string
	queue     *queue.Queue
	items     []queue.Item
	filtered  []queue.Item
	cursor    int
	width     int
	height    int
	mode      manageMode
	filter    textinput.Model

	statusMessage string
	fatalErr      error
}

type queueLoadedMsg struct {
	items []queue.Item
}

var (
	manageTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	manageMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	manageFailedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	manageDoneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	manageSelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
)

func runManage(args []string) error {
	cfg := loadConfig(configPathFromArgs(args))

	fs := flag.NewFlagSet("manage", flag.ContinueOnError)
	_ = fs.String("config", "config.json", "path to JSON configuration file")
	queuePath := fs.String("queue-file", orDefault(cfg.QueueFile, "queue.json"), "queue state file")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("manage requires an interactive terminal (TTY)")
	}

	filter := textinput.New()
	filter.Placeholder = "filter by id, title, or status"
	filter.CharLimit = 80

	m := manageModel{
		queuePath: strings.TrimSpace(*queuePath),
		queue:     queue.Open(strings.TrimSpace(*queuePath)),
		mode:      manageModeBrowse,
		filter:    filter,
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("manage requires an interactive terminal (TTY)")
		}
		return err
	}
	if fm, ok := finalModel.(manageModel); ok {
		return fm.fatalErr
	}
	return nil
}

func (m manageModel) loadQueueCmd() tea.Cmd {
	return func() tea.Msg {
		return queueLoadedMsg{items: m.queue.Items()}
	}
}

func (m manageModel) Init() tea.Cmd {
	return m.loadQueueCmd()
}

func (m manageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case queueLoadedMsg:
		m.items = msg.items
		m.applyFilter()
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch m.mode {
	case manageModeFilter:
		return m.updateFilter(keyMsg)
	default:
		return m.updateBrowse(keyMsg)
	}
}

func (m manageModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
		}
	case "/":
		m.mode = manageModeFilter
		m.filter.Focus()
		return m, textinput.Blink
	case "r":
		if item, ok := m.selected(); ok {
			if err := m.queue.Requeue(item.VideoID); err != nil {
				m.statusMessage = "error: " + err.Error()
			} else {
				m.statusMessage = fmt.Sprintf("requeued %s", item.VideoID)
			}
			return m, m.loadQueueCmd()
		}
	case "R":
		requeued := 0
		for _, item := range m.items {
			if item.Status == model.StatusFailed {
				if err := m.queue.Requeue(item.VideoID); err == nil {
					requeued++
				}
			}
		}
		m.statusMessage = fmt.Sprintf("requeued %d failed items", requeued)
		return m, m.loadQueueCmd()
	case "esc":
		if m.filter.Value() != "" {
			m.filter.SetValue("")
			m.applyFilter()
		}
	}
	return m, nil
}

func (m manageModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.mode = manageModeBrowse
		m.filter.Blur()
		m.applyFilter()
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

func (m *manageModel) applyFilter() {
	needle := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if needle == "" {
		m.filtered = m.items
	} else {
		m.filtered = nil
		for _, item := range m.items {
			haystack := strings.ToLower(item.VideoID + " " + item.Title + " " + item.Status)
			if strings.Contains(haystack, needle) {
				m.filtered = append(m.filtered, item)
			}
		}
	}
	if m.cursor > len(m.filtered)-1 {
		m.cursor = len(m.filtered) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m manageModel) selected() (queue.Item, bool) {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return queue.Item{}, false
	}
	return m.filtered[m.cursor], true
}

func (m manageModel) View() string {
	var b strings.Builder

	stats := m.queue.Stats()
	b.WriteString(manageTitleStyle.Render("download queue"))
	b.WriteString(manageMutedStyle.Render(fmt.Sprintf("  %s  (%d total, %d pending, %d failed)",
		m.queuePath, stats.Total, stats.Pending, stats.Failed)))
	b.WriteString("\n\n")

	if m.mode == manageModeFilter || m.filter.Value() != "" {
		b.WriteString("filter: " + m.filter.View() + "\n\n")
	}

	if len(m.filtered) == 0 {
		b.WriteString(manageMutedStyle.Render("queue is empty") + "\n")
	}

	visible := m.height - 8
	if visible < 5 {
		visible = 5
	}
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	for i := start; i < len(m.filtered) && i < start+visible; i++ {
		item := m.filtered[i]
		line := fmt.Sprintf("%-11s  %-11s  %d/%d  %s",
			item.VideoID, item.Status, item.Attempts, item.MaxAttempts, truncate(item.Title, 50))
		switch {
		case i == m.cursor:
			line = manageSelStyle.Render(line)
		case item.Status == model.StatusFailed:
			line = manageFailedStyle.Render(line)
		case item.Status == model.StatusCompleted:
			line = manageDoneStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	if m.statusMessage != "" {
		b.WriteString(m.statusMessage + "\n")
	}
	b.WriteString(manageMutedStyle.Render("j/k move · / filter · r requeue · R requeue all failed · q quit"))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func stdinIsTTY() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
