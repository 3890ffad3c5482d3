package tui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette.
var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorBlue   = lipgloss.Color("#89b4fa")
	colorYellow = lipgloss.Color("#f9e2af")
	colorRed    = lipgloss.Color("#f38ba8")
	colorTeal   = lipgloss.Color("#94e2d5")
	colorMauve  = lipgloss.Color("#cba6f7")
	colorMuted  = lipgloss.Color("#5a6278")
	colorDim    = lipgloss.Color("#3a4055")
	colorBright = lipgloss.Color("#cdd6f4")
)

var (
	styleHeader       = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	styleHeaderLabel  = lipgloss.NewStyle().Bold(true).Foreground(colorMauve)
	styleRelease      = lipgloss.NewStyle().Foreground(colorBright)
	styleMirror       = lipgloss.NewStyle().Foreground(colorBlue)
	styleSpeed        = lipgloss.NewStyle().Foreground(colorTeal)
	styleMuted        = lipgloss.NewStyle().Foreground(colorMuted)
	styleDivider      = lipgloss.NewStyle().Foreground(colorDim)
	styleSparkline    = lipgloss.NewStyle().Foreground(colorBlue)
	styleProgress     = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconDone     = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconFailed   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarn     = lipgloss.NewStyle().Foreground(colorYellow)
	styleKeybindKey   = lipgloss.NewStyle().Foreground(colorMauve).Bold(true)
	styleKeybindLabel = lipgloss.NewStyle().Foreground(colorMuted)
)
