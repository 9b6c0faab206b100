package ui

import "github.com/rileyhilliard/dockwatch/internal/docker"

// Unicode symbols for status indicators.
const (
	SymbolSuccess = "✓"
	SymbolFail    = "✗"
	SymbolRunning = "●"
	SymbolPaused  = "◐"
	SymbolStopped = "○"
	SymbolWarning = "⚠"
	SymbolInUse   = "⊘"
)

// StatusSymbol returns the styled glyph for a container status.
func StatusSymbol(s docker.ContainerStatus) string {
	switch s {
	case docker.StatusRunning:
		return Style(ColorSuccess).Render(SymbolRunning)
	case docker.StatusPaused:
		return Style(ColorWarning).Render(SymbolPaused)
	case docker.StatusRestarting, docker.StatusCreated:
		return Style(ColorInfo).Render(SymbolPaused)
	case docker.StatusDead, docker.StatusRemoving:
		return Style(ColorError).Render(SymbolFail)
	default:
		return Style(ColorMuted).Render(SymbolStopped)
	}
}
