package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/dockwatch/internal/core"
	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/history"
	"github.com/rileyhilliard/dockwatch/internal/session"
	"github.com/rileyhilliard/dockwatch/internal/target"
)

// Source is the slice of core.Core the dashboard reads and drives.
type Source interface {
	Containers() []docker.ContainerInfo
	Images() []docker.ImageInfo
	Networks() []docker.NetworkInfo
	Volumes() []docker.VolumeInfo
	History() *history.Buffer
	Generation() uint64

	ActiveTarget() target.Target
	SessionState() session.State
	PollStatus() (suspended bool, lastErr error)
	SetTarget(ctx context.Context, t target.Target) error
	Refresh(ctx context.Context) error

	PerformContainerAction(ctx context.Context, ref string, action docker.Action) <-chan core.Result
	RemoveImage(ctx context.Context, ref string) <-chan core.Result
	RemoveNetwork(ctx context.Context, ref string) <-chan core.Result
	RemoveVolume(ctx context.Context, name string) <-chan core.Result

	EngineInfo(ctx context.Context) (docker.EngineInfo, error)
	ContainerStats(ctx context.Context, ref string) (docker.MetricSample, error)
}

// Options configures the dashboard.
type Options struct {
	// TargetLabel names the target in the header, e.g. a profile name.
	TargetLabel string
	// Interval is how often the view re-reads the source.
	Interval time.Duration
	// Timeout bounds refresh and reconnect requests.
	Timeout time.Duration
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	src   Source
	label string

	containers []docker.ContainerInfo
	images     []docker.ImageInfo
	networks   []docker.NetworkInfo
	volumes    []docker.VolumeInfo
	generation uint64
	lastUpdate time.Time

	pane     Pane
	selected [paneCount]int
	width    int
	height   int
	showHelp bool
	quitting bool
	keys     KeyMap
	help     help.Model

	// engine is the last engine info; engineErr is set when it failed.
	engine    docker.EngineInfo
	engineErr error

	// detail is a direct stats sample of one container, shown under the
	// aggregate metrics.
	detail containerDetail

	// status is the outcome of the last command, shown above the footer.
	status    string
	statusErr bool
	pending   int

	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// tickMsg signals a periodic re-read of the source.
type tickMsg time.Time

// resultMsg carries the outcome of a dispatched command.
type resultMsg core.Result

// engineMsg carries engine info for the header.
type engineMsg struct {
	info docker.EngineInfo
	err  error
}

// containerDetail is a one-container stats sample.
type containerDetail struct {
	name   string
	sample docker.MetricSample
}

// detailMsg carries the result of a single-container stats request.
type detailMsg struct {
	name   string
	sample docker.MetricSample
	err    error
}

// refreshMsg reports the end of a forced refresh or reconnect.
type refreshMsg struct {
	err       error
	reconnect bool
}

// NewModel creates a dashboard over src.
func NewModel(src Source, opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	m := Model{
		src:      src,
		label:    opts.TargetLabel,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		now:      time.Now,
		keys:     DefaultKeyMap(),
		help:     help.New(),
	}
	m.sync()
	return m
}

// Init starts the tick timer and fetches engine info.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.engineCmd())
}

// Update handles messages and updates the model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		handled, cmd := m.HandleKeyMsg(msg)
		if handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.sync()
		return m, m.tickCmd()

	case resultMsg:
		if m.pending > 0 {
			m.pending--
		}
		res := core.Result(msg)
		if res.Err != nil {
			m.setStatus(fmt.Sprintf("%s %s: %s", res.Op, res.Ref, errors.Summary(res.Err)), true)
		} else {
			m.setStatus(fmt.Sprintf("%s %s: done", res.Op, res.Ref), false)
		}
		m.sync()

	case refreshMsg:
		m.sync()
		switch {
		case msg.err != nil:
			m.setStatus(errors.Summary(msg.err), true)
		case msg.reconnect:
			m.setStatus("reconnected", false)
			return m, m.engineCmd()
		}

	case engineMsg:
		m.engine, m.engineErr = msg.info, msg.err

	case detailMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("stats %s: %s", msg.name, errors.Summary(msg.err)), true)
			return m, nil
		}
		m.detail = containerDetail{name: msg.name, sample: msg.sample}
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}
	return m.renderDashboard()
}

// sync copies the latest registry view out of the source. Update is the
// only writer, so View always renders one consistent snapshot.
func (m *Model) sync() {
	m.containers = m.src.Containers()
	m.images = m.src.Images()
	m.networks = m.src.Networks()
	m.volumes = m.src.Volumes()
	if gen := m.src.Generation(); gen != m.generation {
		if gen > 0 {
			m.lastUpdate = m.now()
		}
		m.generation = gen
	}
	m.clampSelection()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	src, timeout := m.src, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return refreshMsg{err: src.Refresh(ctx)}
	}
}

// reconnectCmd re-selects the active target, which redials a failed
// session and resumes suspended polling.
func (m Model) reconnectCmd() tea.Cmd {
	src, timeout := m.src, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return refreshMsg{err: src.SetTarget(ctx, src.ActiveTarget()), reconnect: true}
	}
}

func (m Model) engineCmd() tea.Cmd {
	src, timeout := m.src, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		info, err := src.EngineInfo(ctx)
		return engineMsg{info: info, err: err}
	}
}

// detailCmd samples the selected container directly.
func (m Model) detailCmd(c docker.ContainerInfo) tea.Cmd {
	name := c.Name
	if name == "" {
		name = docker.ShortID(c.ID)
	}
	src, timeout, id := m.src, m.timeout, c.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		sample, err := src.ContainerStats(ctx, id)
		return detailMsg{name: name, sample: sample, err: err}
	}
}

func (m *Model) containerActionCmd(c docker.ContainerInfo, action docker.Action) tea.Cmd {
	ref := c.Name
	if ref == "" {
		ref = c.ID
	}
	m.pending++
	m.setStatus(fmt.Sprintf("%s %s…", action, ref), false)
	src := m.src
	return func() tea.Msg {
		return resultMsg(<-src.PerformContainerAction(context.Background(), ref, action))
	}
}

// removeCmd removes the selected row of the active pane. Images, networks
// and volumes still in use come back as a ResourceInUse result.
func (m *Model) removeCmd() tea.Cmd {
	var (
		ref    string
		remove func(context.Context, string) <-chan core.Result
	)
	idx := m.selected[m.pane]
	switch m.pane {
	case PaneContainers:
		c, ok := m.selectedContainer()
		if !ok {
			return nil
		}
		return m.containerActionCmd(c, docker.ActionRemove)
	case PaneImages:
		if idx >= len(m.images) {
			return nil
		}
		ref, remove = m.images[idx].ID, m.src.RemoveImage
	case PaneNetworks:
		if idx >= len(m.networks) {
			return nil
		}
		ref, remove = m.networks[idx].Name, m.src.RemoveNetwork
	case PaneVolumes:
		if idx >= len(m.volumes) {
			return nil
		}
		ref, remove = m.volumes[idx].Name, m.src.RemoveVolume
	}
	m.pending++
	m.setStatus(fmt.Sprintf("removing %s…", docker.ShortID(ref)), false)
	return func() tea.Msg {
		return resultMsg(<-remove(context.Background(), ref))
	}
}

// focus switches to pane p.
func (m *Model) focus(p Pane) {
	m.pane = p
	m.keys.setContainerBindings(p == PaneContainers)
	m.clampSelection()
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m Model) rowCount() int {
	return m.countFor(m.pane)
}

func (m Model) countFor(p Pane) int {
	switch p {
	case PaneImages:
		return len(m.images)
	case PaneNetworks:
		return len(m.networks)
	case PaneVolumes:
		return len(m.volumes)
	default:
		return len(m.containers)
	}
}

func (m *Model) clampSelection() {
	for p := Pane(0); p < paneCount; p++ {
		n := m.countFor(p)
		switch {
		case n == 0:
			m.selected[p] = 0
		case m.selected[p] >= n:
			m.selected[p] = n - 1
		}
	}
}

func (m Model) selectedContainer() (docker.ContainerInfo, bool) {
	if m.pane != PaneContainers {
		return docker.ContainerInfo{}, false
	}
	idx := m.selected[PaneContainers]
	if idx >= len(m.containers) {
		return docker.ContainerInfo{}, false
	}
	return m.containers[idx], true
}

// ActivePane returns the focused pane.
func (m Model) ActivePane() Pane { return m.pane }

// Selected returns the selected row index of the focused pane.
func (m Model) Selected() int { return m.selected[m.pane] }

// Status returns the last command status line and whether it is an error.
func (m Model) Status() (string, bool) { return m.status, m.statusErr }

// SecondsSinceUpdate returns how many seconds have passed since new data
// last arrived.
func (m Model) SecondsSinceUpdate() int {
	if m.lastUpdate.IsZero() {
		return 0
	}
	return int(m.now().Sub(m.lastUpdate).Seconds())
}
