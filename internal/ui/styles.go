package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. Single accent color, everything else neutral.
const (
	ColorAccent   = "39"  // blue accent
	ColorWhite    = "255" // headers
	ColorGray     = "245" // labels, secondary text
	ColorDarkGray = "238" // separators
	ColorRed      = "196" // errors, failed tasks
	ColorYellow   = "220" // warnings, pending tasks
	ColorGreen    = "78"  // succeeded tasks, healthy status
)

// Styles holds the render styles for CLI output.
type Styles struct {
	Header  lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
	Accent  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Score   lipgloss.Style
}

// DefaultStyles returns the colored styles for TTY output.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for plain mode (pipes, CI).
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Accent:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Score:   lipgloss.NewStyle(),
	}
}
