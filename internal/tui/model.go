package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ttrace/internal/app"
	"ttrace/internal/daemon"
	"ttrace/internal/ledger"
	"ttrace/internal/render"
)

const (
	refreshInterval = 2 * time.Second
	requestTimeout  = 2 * time.Second
)

// Controller defines the subset of app.App behaviour the TUI needs.
type Controller interface {
	Status() (app.DaemonStatus, error)
	StartDaemon(force bool) (app.DaemonStatus, error)
	Stats(ctx context.Context, timeout time.Duration) (ledger.Stats, error)
}

// Model represents the Bubble Tea state.
type Model struct {
	controller Controller

	table table.Model
	stats ledger.Stats

	daemonStatus app.DaemonStatus
	statusMsg    string

	err     error
	loading bool

	width  int
	height int

	lastUpdated time.Time
}

// New constructs a TUI model with default styles.
func New(ctrl Controller) *Model {
	tbl := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	tbl.SetStyles(styles)

	return &Model{
		controller: ctrl,
		table:      tbl,
		statusMsg:  "Checking daemon status…",
		loading:    true,
	}
}

// Run spins up the Bubble Tea program with sensible defaults.
func Run(ctrl Controller) error {
	m := New(ctrl)
	prog := tea.NewProgram(m, tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(checkDaemonStatusCmd(m.controller), loadStatsCmd(m.controller), tickCmd())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		if m.height > 6 {
			m.table.SetHeight(msg.Height - 6)
		}

	case daemonStatusMsg:
		m.daemonStatus = msg.status
		if msg.status.Running {
			if msg.status.PID > 0 {
				m.statusMsg = fmt.Sprintf("Daemon running (pid %d). Press r to refresh, q to quit.", msg.status.PID)
			} else {
				m.statusMsg = "Daemon running. Press r to refresh, q to quit."
			}
		} else {
			m.statusMsg = "Daemon is not running. Press s to start it."
			m.stats = nil
			m.table.SetRows(nil)
		}

	case statsLoadedMsg:
		m.loading = false
		m.err = nil
		m.stats = msg.stats
		m.table.SetRows(rows(msg.stats))
		m.lastUpdated = time.Now()

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(), checkDaemonStatusCmd(m.controller)}
		if m.daemonStatus.Running {
			cmds = append(cmds, loadStatsCmd(m.controller))
		}
		return m, tea.Batch(cmds...)

	case daemonStartedMsg:
		m.statusMsg = "Daemon started."
		return m, tea.Batch(checkDaemonStatusCmd(m.controller), loadStatsCmd(m.controller))

	case errMsg:
		m.loading = false
		if errors.Is(msg.err, daemon.ErrDaemonUnreachable) {
			m.daemonStatus.Running = false
			m.statusMsg = "Daemon is not running. Press s to start it."
			m.err = nil
			break
		}
		m.err = msg.err

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, loadStatsCmd(m.controller)
		case "s":
			if !m.daemonStatus.Running {
				m.statusMsg = "Starting daemon…"
				return m, startDaemonCmd(m.controller)
			}
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	statusStyle := lipgloss.NewStyle().Bold(true)
	if !m.daemonStatus.Running {
		statusStyle = statusStyle.Foreground(lipgloss.Color("203"))
	} else {
		statusStyle = statusStyle.Foreground(lipgloss.Color("42"))
	}
	b.WriteString(statusStyle.Render(m.statusMsg))
	b.WriteByte('\n')

	if m.loading {
		b.WriteString("Loading statistics…\n")
	} else if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
		b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	}

	if len(m.stats) == 0 && !m.loading && m.err == nil && m.daemonStatus.Running {
		b.WriteString("No commands recorded yet.\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteByte('\n')
	}

	help := "Commands: q quit • r reload • s start daemon • ↑/↓ scroll"
	if n := len(m.stats); n > 0 {
		help += fmt.Sprintf(" • commands=%d", n)
	}
	if !m.lastUpdated.IsZero() {
		help += fmt.Sprintf(" • last update %s", m.lastUpdated.Format(time.Kitchen))
	}
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

// columns gives the command column whatever the numeric columns leave over.
func columns(width int) []table.Column {
	const numeric = 6
	const numWidth = 9
	cmdWidth := width - numeric*(numWidth+2) - 2
	if cmdWidth < 20 {
		cmdWidth = 20
	}
	cols := make([]table.Column, 0, len(render.Headers))
	for i, h := range render.Headers {
		w := numWidth
		if i == 0 {
			w = cmdWidth
		}
		cols = append(cols, table.Column{Title: h, Width: w})
	}
	return cols
}

func rows(stats ledger.Stats) []table.Row {
	entries := render.Sorted(stats)
	out := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		out = append(out, table.Row(render.Row(e)))
	}
	return out
}

type daemonStatusMsg struct {
	status app.DaemonStatus
}

type statsLoadedMsg struct {
	stats ledger.Stats
}

type daemonStartedMsg struct{}

type tickMsg time.Time

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

func checkDaemonStatusCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		status, err := ctrl.Status()
		if err != nil && !status.Running {
			return errMsg{err}
		}
		return daemonStatusMsg{status: status}
	}
}

func loadStatsCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		stats, err := ctrl.Stats(ctx, requestTimeout)
		if err != nil {
			return errMsg{err}
		}
		return statsLoadedMsg{stats: stats}
	}
}

func startDaemonCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if _, err := ctrl.StartDaemon(false); err != nil && !errors.Is(err, daemon.ErrAlreadyRunning) {
			return errMsg{err}
		}
		return daemonStartedMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
