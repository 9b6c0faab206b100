// Package ui holds the terminal styling shared by dockwatch's CLI tables
// and the watch dashboard.
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - running containers, successful commands
//	ColorError     (red)    - dead containers, failures
//	ColorWarning   (yellow) - paused or restarting containers
//	ColorInfo      (cyan)   - informational messages
//	ColorMuted     (gray)   - exited containers, secondary text
//
// # Symbols
//
// StatusSymbol maps a container status to a glyph and color so the CLI
// and the dashboard render states the same way.
//
// # Sparklines
//
// RenderSparkline draws the metric ring as eight-level block characters,
// colored by the newest value.
package ui
