package cli

import (
	"github.com/charmbracelet/lipgloss"

	"opscal/internal/model"
)

var (
	criticalColor = lipgloss.Color("#c45c4a")
	highColor     = lipgloss.Color("#d97757")
	mediumColor   = lipgloss.Color("#6a9bcc")
	successColor  = lipgloss.Color("#788c5d")
	dimTextColor  = lipgloss.Color("#b0aea5")

	criticalStyle = lipgloss.NewStyle().Bold(true).Foreground(criticalColor)
	highStyle     = lipgloss.NewStyle().Foreground(highColor)
	mediumStyle   = lipgloss.NewStyle().Foreground(mediumColor)
	successStyle  = lipgloss.NewStyle().Foreground(successColor)
	dimStyle      = lipgloss.NewStyle().Foreground(dimTextColor)
	plainStyle    = lipgloss.NewStyle()
)

func severityStyle(s model.Severity) lipgloss.Style {
	switch s {
	case model.SeverityCritical:
		return criticalStyle
	case model.SeverityHigh:
		return highStyle
	default:
		return mediumStyle
	}
}

func statusStyle(s model.Status) lipgloss.Style {
	switch s {
	case model.StatusOverdue:
		return criticalStyle
	case model.StatusCompleted:
		return successStyle
	default:
		return plainStyle
	}
}
