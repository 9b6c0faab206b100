package monitor

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/dockwatch/internal/docker"
)

// Pane is one resource list in the dashboard.
type Pane int

const (
	PaneContainers Pane = iota
	PaneImages
	PaneNetworks
	PaneVolumes
	paneCount
)

// String returns the tab label.
func (p Pane) String() string {
	switch p {
	case PaneContainers:
		return "Containers"
	case PaneImages:
		return "Images"
	case PaneNetworks:
		return "Networks"
	case PaneVolumes:
		return "Volumes"
	default:
		return "Containers"
	}
}

// Next cycles to the next pane.
func (p Pane) Next() Pane {
	return (p + 1) % paneCount
}

// Prev cycles to the previous pane.
func (p Pane) Prev() Pane {
	return (p + paneCount - 1) % paneCount
}

// KeyMap holds every dashboard binding. It implements help.KeyMap.
type KeyMap struct {
	Quit      key.Binding
	Refresh   key.Binding
	NextPane  key.Binding
	PrevPane  key.Binding
	Up        key.Binding
	Down      key.Binding
	First     key.Binding
	Last      key.Binding
	StartStop key.Binding
	Restart   key.Binding
	Pause     key.Binding
	Remove    key.Binding
	Inspect   key.Binding
	Reconnect key.Binding
	Help      key.Binding
	Close     key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		NextPane:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next list")),
		PrevPane:  key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous list")),
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		First:     key.NewBinding(key.WithKeys("home"), key.WithHelp("home", "first row")),
		Last:      key.NewBinding(key.WithKeys("end"), key.WithHelp("end", "last row")),
		StartStop: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start/stop")),
		Restart:   key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "restart")),
		Pause:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause/unpause")),
		Remove:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "remove")),
		Inspect:   key.NewBinding(key.WithKeys("i", "enter"), key.WithHelp("i", "container stats")),
		Reconnect: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "reconnect")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Close:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close help")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Refresh, k.NextPane, k.StartStop, k.Pause, k.Remove, k.Help}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.First, k.Last, k.NextPane, k.PrevPane},
		{k.StartStop, k.Restart, k.Pause, k.Remove, k.Inspect},
		{k.Refresh, k.Reconnect, k.Help, k.Close, k.Quit},
	}
}

// setContainerBindings enables the container-only bindings when the
// containers pane is focused, so help hides them elsewhere.
func (k *KeyMap) setContainerBindings(enabled bool) {
	k.StartStop.SetEnabled(enabled)
	k.Restart.SetEnabled(enabled)
	k.Pause.SetEnabled(enabled)
	k.Inspect.SetEnabled(enabled)
}

// HandleKeyMsg processes keyboard input and returns updated model state and command.
// Returns true if the key was handled, false otherwise.
func (m *Model) HandleKeyMsg(msg tea.KeyMsg) (bool, tea.Cmd) {
	k := m.keys

	if key.Matches(msg, k.Help) {
		m.showHelp = !m.showHelp
		return true, nil
	}
	if m.showHelp && key.Matches(msg, k.Close) {
		m.showHelp = false
		return true, nil
	}

	switch {
	case key.Matches(msg, k.Quit):
		m.quitting = true
		return true, tea.Quit

	case key.Matches(msg, k.Refresh):
		return true, m.refreshCmd()

	case key.Matches(msg, k.NextPane):
		m.focus(m.pane.Next())
		return true, nil

	case key.Matches(msg, k.PrevPane):
		m.focus(m.pane.Prev())
		return true, nil

	case key.Matches(msg, k.Up):
		if m.selected[m.pane] > 0 {
			m.selected[m.pane]--
		}
		return true, nil

	case key.Matches(msg, k.Down):
		if m.selected[m.pane] < m.rowCount()-1 {
			m.selected[m.pane]++
		}
		return true, nil

	case key.Matches(msg, k.First):
		m.selected[m.pane] = 0
		return true, nil

	case key.Matches(msg, k.Last):
		if n := m.rowCount(); n > 0 {
			m.selected[m.pane] = n - 1
		}
		return true, nil

	case key.Matches(msg, k.StartStop):
		c, ok := m.selectedContainer()
		if !ok {
			return true, nil
		}
		action := docker.ActionStart
		if c.Status == docker.StatusRunning || c.Status == docker.StatusPaused || c.Status == docker.StatusRestarting {
			action = docker.ActionStop
		}
		return true, m.containerActionCmd(c, action)

	case key.Matches(msg, k.Restart):
		c, ok := m.selectedContainer()
		if !ok {
			return true, nil
		}
		return true, m.containerActionCmd(c, docker.ActionRestart)

	case key.Matches(msg, k.Pause):
		c, ok := m.selectedContainer()
		if !ok {
			return true, nil
		}
		switch c.Status {
		case docker.StatusRunning:
			return true, m.containerActionCmd(c, docker.ActionPause)
		case docker.StatusPaused:
			return true, m.containerActionCmd(c, docker.ActionUnpause)
		}
		m.setStatus(fmt.Sprintf("%s is %s; only running containers can be paused", c.Name, c.Status), true)
		return true, nil

	case key.Matches(msg, k.Inspect):
		c, ok := m.selectedContainer()
		if !ok {
			return true, nil
		}
		return true, m.detailCmd(c)

	case key.Matches(msg, k.Remove):
		return true, m.removeCmd()

	case key.Matches(msg, k.Reconnect):
		m.setStatus("reconnecting to "+m.targetLabel()+"…", false)
		return true, m.reconnectCmd()
	}

	return false, nil
}
