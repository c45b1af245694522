// Package fancy provides styling and tree rendering for CLI output.
package fancy

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorBlue     = lipgloss.Color("39")
	ColorGreen    = lipgloss.Color("82")
	ColorYellow   = lipgloss.Color("228")
	ColorCyan     = lipgloss.Color("45")
	ColorRed      = lipgloss.Color("196")
	ColorGray     = lipgloss.Color("250")
	ColorWhite    = lipgloss.Color("15")
	ColorDarkGray = lipgloss.Color("240")
)

var (
	RootStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	BranchStyle = lipgloss.NewStyle().
			Foreground(ColorDarkGray)

	ScriptStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	CapabilityStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	ValidStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)
)

// ScriptText styles a script path.
func ScriptText(text string) string {
	return ScriptStyle.Render(text)
}

// CapabilityText styles a capability name.
func CapabilityText(text string) string {
	return CapabilityStyle.Render(text)
}

// ValidText styles success output.
func ValidText(text string) string {
	return ValidStyle.Render(text)
}

// ErrorText styles failure output.
func ErrorText(text string) string {
	return ErrorStyle.Render(text)
}

// PathText styles file paths.
func PathText(text string) string {
	return InfoStyle.Render(text)
}
