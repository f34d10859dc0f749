package chattui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agusx1211/parley/internal/theme"
)

// Header and status bar.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBase).
			Background(theme.ColorBlue).
			Padding(0, 2)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(theme.ColorSubtext0).
			Background(theme.ColorSurface0).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorLavender).
			Background(theme.ColorSurface0)

	errorBarStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBase).
			Background(theme.ColorRed).
			Padding(0, 1)
)

// Sidebar.
var (
	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorSurface2).
			Padding(0, 1)

	sessionActiveStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorLavender)

	sessionDimStyle = lipgloss.NewStyle().
			Foreground(theme.ColorSubtext0)
)

// Transcript.
var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorMauve)

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorBlue)

	textStyle = lipgloss.NewStyle().
			Foreground(theme.ColorText)

	reasoningStyle = lipgloss.NewStyle().
			Foreground(theme.ColorOverlay0).
			Italic(true)

	toolLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorYellow)

	toolResultStyle = lipgloss.NewStyle().
			Foreground(theme.ColorGreen)

	toolErrorStyle = lipgloss.NewStyle().
			Foreground(theme.ColorRed)

	subagentLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorTeal)

	dimStyle = lipgloss.NewStyle().
			Foreground(theme.ColorOverlay0)
)
