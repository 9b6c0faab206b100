// Package monitor implements the live TUI dashboard behind `dockwatch watch`.
//
// The dashboard shows the containers, images, networks and volumes of the
// active target in tabbed tables, with aggregate CPU and memory sparklines
// drawn from the metric history ring. It reads everything through the
// Source interface, which core.Core satisfies; the poller keeps the data
// fresh, so the dashboard only re-reads on a timer.
//
// # Architecture
//
// The package uses the Bubble Tea framework, which follows The Elm Architecture
// (Model-Update-View pattern):
//
//   - Model: a copy of the registry view plus selection and layout state
//   - Update: processes keystrokes, ticks and command results
//   - View: renders the current state to a string for display
//
// # Message Flow
//
//  1. tickMsg fires at the configured interval (default 1s)
//  2. sync() copies the latest registry view out of the Source
//  3. key actions dispatch commands whose results arrive as resultMsg
//  4. View() re-renders with the new state and the last command status
//
// A failed session or suspended polling shows a persistent banner until
// the user reconnects with c.
//
// # Keyboard Shortcuts
//
//	q, Ctrl+C   - Quit
//	r           - Force refresh
//	Tab         - Next list (Shift+Tab previous)
//	j/k, ↑/↓    - Move selection
//	s           - Start or stop the selected container
//	R           - Restart the selected container
//	p           - Pause or unpause the selected container
//	d           - Remove the selected resource
//	c           - Reconnect to the target
//	?           - Toggle help overlay
package monitor
