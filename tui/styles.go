package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	headerMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	toolRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("108"))

	toolSummaryStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243"))

	retryRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	pendingRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	narrationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)
