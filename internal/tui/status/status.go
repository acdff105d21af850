package status

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/osd-bridge/osdbridge/internal/tui/client"
	"github.com/osd-bridge/osdbridge/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Objects   int
	Health    map[string]client.Health
	Message   string
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{
		Health: make(map[string]client.Health),
	}
}

// SetHealth records h, replacing the previous entry for its subsystem.
func (m *Model) SetHealth(h client.Health) {
	m.Health[h.Subsystem] = h
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	counts := fmt.Sprintf("%d objects", m.Objects)

	names := make([]string, 0, len(m.Health))
	for name := range m.Health {
		names = append(names, name)
	}
	sort.Strings(names)

	var healthParts []string
	for _, name := range names {
		h := m.Health[name]
		label := fmt.Sprintf("%s: %s", name, h.Status)
		if h.ConsecutiveFailures > 0 {
			label += fmt.Sprintf(" (%d)", h.ConsecutiveFailures)
		}
		healthParts = append(healthParts,
			lipgloss.NewStyle().Foreground(theme.HealthColor(string(h.Status))).Render(label))
	}
	healthStr := strings.Join(healthParts, "  ")

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + counts
	if healthStr != "" {
		content += sep + healthStr
	}
	if m.Message != "" {
		content += sep + theme.StyleDimmed.Render(m.Message)
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
