package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/yoanbernabeu/codeindex/manager"
	"github.com/yoanbernabeu/codeindex/watcher"
)

var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorAccent  = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	successStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
)

// stateStyle colors a manager state label.
func stateStyle(s manager.State) lipgloss.Style {
	switch s {
	case manager.StateIndexed:
		return successStyle
	case manager.StateIndexing:
		return warningStyle
	case manager.StateError:
		return errorStyle
	default:
		return dimStyle
	}
}

// fileStatusLabel renders a watcher outcome as a short colored tag.
func fileStatusLabel(s watcher.Status) string {
	switch s {
	case watcher.StatusSuccess:
		return successStyle.Render("✓")
	case watcher.StatusError:
		return errorStyle.Render("✗")
	default:
		return dimStyle.Render("·")
	}
}
