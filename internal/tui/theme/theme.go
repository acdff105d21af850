// Package theme provides the Lip Gloss color palette and reusable styles
// for the osd-bridge TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Subsystem colors.
var (
	ColorPulse    = lipgloss.Color("#3b82f6")
	ColorPipeWire = lipgloss.Color("#06b6d4")
	ColorRfkill   = lipgloss.Color("#a855f7")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// Level bar thresholds.
var (
	ColorLevelLow  = lipgloss.Color("#22c55e") // <=100%
	ColorLevelHigh = lipgloss.Color("#dc2626") // boosted
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// SubsystemColor returns the header color for a subsystem name.
func SubsystemColor(name string) lipgloss.Color {
	switch name {
	case "pulse":
		return ColorPulse
	case "pipewire":
		return ColorPipeWire
	case "rfkill":
		return ColorRfkill
	default:
		return ColorDefault
	}
}

// HealthColor returns the color for a health status string.
func HealthColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "failed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// LevelBar renders pct (0..150) as a fixed-width bar; the part above
// 100% is drawn in the boost color.
func LevelBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	pct = max(0, min(pct, 150))
	filled := int(pct / 150 * float64(width))
	normal := min(filled, width*100/150)
	boost := filled - normal

	return lipgloss.NewStyle().Foreground(ColorLevelLow).Render(strings.Repeat("█", normal)) +
		lipgloss.NewStyle().Foreground(ColorLevelHigh).Render(strings.Repeat("█", boost)) +
		StyleDimmed.Render(strings.Repeat("░", width-filled))
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
