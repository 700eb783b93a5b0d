package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	identityStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	incomingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

	onAirStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	frameStyle = lipgloss.NewStyle().Padding(1, 2)
)
