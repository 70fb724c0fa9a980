// Package ui provides terminal rendering helpers for the CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)

	colorEnabled = termenv.EnvColorProfile() != termenv.Ascii
)

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

// RenderAccent styles informational highlights.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass styles success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles warnings.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail styles errors.
func RenderFail(s string) string { return render(failStyle, s) }

// RenderDim styles secondary detail.
func RenderDim(s string) string { return render(dimStyle, s) }

// Swatch renders a small colored block for a task's palette color.
func Swatch(hex string) string {
	if !colorEnabled || hex == "" {
		return ""
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render("■")
}
