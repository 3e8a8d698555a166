package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. One lime accent, everything else neutral.
const (
	ColorLime     = "154" // Primary accent (#AFFF00)
	ColorLimeDim  = "106" // Dimmed lime for inactive elements
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Secondary text, labels
	ColorDarkGray = "238" // Box borders, separators
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings
)

// Styles holds the lipgloss styles used by the terminal renderers.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style

	Border    lipgloss.Style
	Sparkline lipgloss.Style
	Speed     lipgloss.Style
	Label     lipgloss.Style
}

// DefaultStyles returns the colored style set for TTY output.
func DefaultStyles() Styles {
	accent := func(s lipgloss.Style) lipgloss.Style {
		return s.Foreground(lipgloss.Color(ColorLime))
	}
	muted := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}

	return Styles{
		Header:  accent(lipgloss.NewStyle().Bold(true)),
		Success: accent(lipgloss.NewStyle()),
		Warning: muted(ColorYellow),
		Error:   muted(ColorRed),
		Dim:     muted(ColorDarkGray),
		Active:  accent(lipgloss.NewStyle().Bold(true)),

		Border:    muted(ColorDarkGray),
		Sparkline: accent(lipgloss.NewStyle()),
		Speed:     muted(ColorGray),
		Label:     muted(ColorGray),
	}
}

// NoColorStyles returns an unstyled set for NO_COLOR and plain mode.
func NoColorStyles() Styles {
	var s Styles
	plain := lipgloss.NewStyle()
	s.Header = plain
	s.Success = plain
	s.Warning = plain
	s.Error = plain
	s.Dim = plain
	s.Active = plain
	s.Border = plain
	s.Sparkline = plain
	s.Speed = plain
	s.Label = plain
	return s
}

// GetStyles selects the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
