package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/yoanbernabeu/codeindex/manager"
	"github.com/yoanbernabeu/codeindex/watcher"
)

const (
	recentFileLimit = 8
	uiTickInterval  = 120 * time.Millisecond
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type progressMsg struct {
	root  string
	event manager.ProgressEvent
}

type fileMsg struct {
	root   string
	status watcher.FileStatus
}

type startedMsg struct {
	err error
}

type tickMsg time.Time

type workspaceRow struct {
	state   manager.State
	message string
	files   int
}

type recentFile struct {
	root   string
	status watcher.FileStatus
	at     time.Time
}

// watchModel renders one row per workspace and the latest watcher outcomes.
type watchModel struct {
	roots   []string
	rows    map[string]*workspaceRow
	recent  []recentFile
	frame   int
	width   int
	started bool
	err     error
	onQuit  func()
}

func newWatchModel(roots []string, onQuit func()) *watchModel {
	rows := make(map[string]*workspaceRow, len(roots))
	for _, r := range roots {
		rows[r] = &workspaceRow{state: manager.StateStandby, message: "starting"}
	}
	return &watchModel{roots: roots, rows: rows, onQuit: onQuit}
}

func (m *watchModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(uiTickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()

	case progressMsg:
		if row, ok := m.rows[msg.root]; ok {
			row.state = msg.event.State
			row.message = msg.event.Message
		}
		return m, nil

	case fileMsg:
		if row, ok := m.rows[msg.root]; ok && msg.status.Status == watcher.StatusSuccess {
			row.files++
		}
		m.recent = append([]recentFile{{root: msg.root, status: msg.status, at: time.Now()}}, m.recent...)
		if len(m.recent) > recentFileLimit {
			m.recent = m.recent[:recentFileLimit]
		}
		return m, nil

	case startedMsg:
		m.started = true
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m *watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("codeindex watch"))
	b.WriteString("\n")

	var rows []string
	for _, root := range m.roots {
		row := m.rows[root]
		icon := "●"
		if row.state == manager.StateIndexing {
			icon = spinnerFrames[m.frame]
		}
		line := fmt.Sprintf("%s %s  %s", stateStyle(row.state).Render(icon),
			headerStyle.Render(root), stateStyle(row.state).Render(string(row.state)))
		detail := dimStyle.Render("  " + row.message)
		if row.files > 0 {
			detail += dimStyle.Render(fmt.Sprintf(" · %d files updated", row.files))
		}
		rows = append(rows, line+"\n"+detail)
	}
	box := boxStyle
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	b.WriteString(box.Render(strings.Join(rows, "\n")))
	b.WriteString("\n\n")

	if len(m.recent) > 0 {
		b.WriteString(headerStyle.Render("Recent changes"))
		b.WriteString("\n")
		for _, r := range m.recent {
			b.WriteString(formatRecent(r))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func formatRecent(r recentFile) string {
	rel, err := filepath.Rel(r.root, r.status.Path)
	if err != nil {
		rel = r.status.Path
	}
	line := fmt.Sprintf("%s %s %s", dimStyle.Render(r.at.Format("15:04:05")), fileStatusLabel(r.status.Status), rel)
	switch {
	case r.status.Err != nil:
		line += " " + errorStyle.Render(r.status.Err.Error())
	case r.status.Reason != "":
		line += " " + dimStyle.Render("("+r.status.Reason+")")
	}
	return line
}
