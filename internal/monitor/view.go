package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/rileyhilliard/dockwatch/internal/session"
	"github.com/rileyhilliard/dockwatch/internal/ui"
	"github.com/rileyhilliard/dockwatch/internal/util"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	// chromeHeight is every line that is not table body: header, banner,
	// tabs, metrics section, status and footer.
	chromeHeight = 13
)

// renderDashboard renders the complete dashboard view.
func (m Model) renderDashboard() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if banner := m.renderBanner(); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.renderTable())
	b.WriteString("\n\n")
	b.WriteString(m.renderMetrics())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) targetLabel() string {
	if m.label != "" {
		return m.label
	}
	return m.src.ActiveTarget().String()
}

// renderHeader renders the title, target, session state and freshness.
func (m Model) renderHeader() string {
	running := 0
	for _, c := range m.containers {
		if c.Status == docker.StatusRunning {
			running++
		}
	}

	var updateText string
	switch {
	case m.lastUpdate.IsZero():
		updateText = "waiting for data"
	case m.SecondsSinceUpdate() == 0:
		updateText = "updated just now"
	default:
		updateText = fmt.Sprintf("updated %ds ago", m.SecondsSinceUpdate())
	}

	title := lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Render("dockwatch")

	stats := lipgloss.NewStyle().
		Foreground(ColorTextSecondary).
		Render(fmt.Sprintf(" | %s [%s]%s | %d containers | %d running | %s",
			m.targetLabel(), m.src.SessionState(), m.engineText(), len(m.containers), running, updateText))

	return HeaderStyle.Render(title + stats)
}

// engineText summarizes the engine for the header, or "" before the
// first answer.
func (m Model) engineText() string {
	switch {
	case m.engineErr != nil && m.engine.Status != "":
		return " | engine " + strings.ReplaceAll(string(m.engine.Status), "_", " ")
	case m.engineErr != nil || m.engine.Version == "":
		return ""
	}
	text := " | Docker " + m.engine.Version
	if m.engine.OSType != "" && m.engine.Architecture != "" {
		text += " " + m.engine.OSType + "/" + m.engine.Architecture
	}
	return text
}

// renderBanner returns the persistent warning shown while the session is
// failed or polling is suspended, or "".
func (m Model) renderBanner() string {
	st := m.src.SessionState()
	suspended, lastErr := m.src.PollStatus()

	var msg string
	switch {
	case st.Phase == session.Failed:
		msg = fmt.Sprintf("%s Session failed (%s). Data below is stale. Press c to reconnect", ui.SymbolWarning, reasonText(st))
	case suspended:
		msg = fmt.Sprintf("%s Polling suspended: %s. Press c to reconnect", ui.SymbolWarning, errors.Summary(lastErr))
	default:
		return ""
	}
	return WarningBannerStyle.Render(msg)
}

func reasonText(st session.State) string {
	if st.Reason != "" {
		return strings.ReplaceAll(string(st.Reason), "_", " ")
	}
	if st.Err != nil {
		return errors.Summary(st.Err)
	}
	return "unknown"
}

// renderTabs renders the pane tab bar with row counts.
func (m Model) renderTabs() string {
	tabs := make([]string, 0, paneCount)
	for p := Pane(0); p < paneCount; p++ {
		label := fmt.Sprintf("%s (%d)", p, m.countFor(p))
		if p == m.pane {
			tabs = append(tabs, TabActiveStyle.Render(label))
		} else {
			tabs = append(tabs, TabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

// renderTable renders the focused pane with the selection highlighted.
func (m Model) renderTable() string {
	columns, rows := m.paneRows()
	if len(rows) == 0 {
		return LabelStyle.Render(fmt.Sprintf("  No %s", strings.ToLower(m.pane.String())))
	}

	height := m.height
	if height == 0 {
		height = defaultHeight
	}
	height -= chromeHeight
	if m.detail.name != "" {
		height--
	}
	if height < 3 {
		height = 3
	}

	t := ui.NewTable(columns, rows, height)
	t.SetCursor(m.selected[m.pane])
	return t.View()
}

func (m Model) paneRows() ([]ui.TableColumn, []table.Row) {
	switch m.pane {
	case PaneImages:
		now := m.now()
		rows := make([]table.Row, 0, len(m.images))
		for _, img := range m.images {
			inUse := ""
			if img.InUse {
				inUse = ui.SymbolInUse + " in use"
			}
			rows = append(rows, table.Row{
				img.DisplayName(),
				docker.ShortID(img.ID),
				ui.FormatBytes(img.Size),
				ui.FormatAge(img.Created, now),
				inUse,
			})
		}
		return []ui.TableColumn{
			{Title: "IMAGE", Width: 36},
			{Title: "ID", Width: 12},
			{Title: "SIZE", Width: 10},
			{Title: "CREATED", Width: 16},
			{Title: "", Width: 10},
		}, rows

	case PaneNetworks:
		rows := make([]table.Row, 0, len(m.networks))
		for _, n := range m.networks {
			rows = append(rows, table.Row{
				n.Name,
				docker.ShortID(n.ID),
				n.Driver,
				n.Scope,
				strconv.Itoa(n.ConnectedCount),
			})
		}
		return []ui.TableColumn{
			{Title: "NAME", Width: 24},
			{Title: "ID", Width: 12},
			{Title: "DRIVER", Width: 10},
			{Title: "SCOPE", Width: 8},
			{Title: "CONTAINERS", Width: 10},
		}, rows

	case PaneVolumes:
		rows := make([]table.Row, 0, len(m.volumes))
		for _, v := range m.volumes {
			rows = append(rows, table.Row{
				util.Truncate(v.Name, 40),
				v.Driver,
				strconv.Itoa(v.ConnectedCount),
			})
		}
		return []ui.TableColumn{
			{Title: "NAME", Width: 40},
			{Title: "DRIVER", Width: 10},
			{Title: "CONTAINERS", Width: 10},
		}, rows

	default:
		rows := make([]table.Row, 0, len(m.containers))
		for _, c := range m.containers {
			cpu, mem := "-", "-"
			if c.Stats != nil {
				cpu = ui.FormatPercent(c.Stats.CPUPercent)
				mem = ui.FormatMemory(c.Stats.MemUsed)
			}
			rows = append(rows, table.Row{
				c.Name,
				util.Truncate(c.Image, 28),
				string(c.Status),
				cpu,
				mem,
				util.JoinOrNone(c.Ports),
			})
		}
		return []ui.TableColumn{
			{Title: "NAME", Width: 22},
			{Title: "IMAGE", Width: 28},
			{Title: "STATUS", Width: 10},
			{Title: "CPU", Width: 7},
			{Title: "MEM", Width: 10},
			{Title: "PORTS", Width: 24},
		}, rows
	}
}

// renderMetrics renders aggregate CPU, memory and network for the target.
func (m Model) renderMetrics() string {
	width := m.width
	if width == 0 {
		width = defaultWidth
	}
	buf := m.src.History()
	latest, ok := buf.Latest()

	value := "no samples"
	if ok {
		value = fmt.Sprintf("%d/%ds", buf.Len(), buf.Cap())
	}

	graphWidth := width - 34
	if graphWidth < 10 {
		graphWidth = 10
	}

	cpu := ui.RenderSparkline(buf.CPUSeries(graphWidth), graphWidth)
	mem := ui.RenderSparkline(buf.MemSeries(graphWidth), graphWidth)
	rx, tx := buf.NetRate()

	cpuLine := LabelStyle.Render("CPU ") + pad(cpu, graphWidth) + " " +
		MetricStyle(latest.CPUPercent).Render(ui.FormatPercent(latest.CPUPercent))
	memLine := LabelStyle.Render("MEM ") + pad(mem, graphWidth) + " " +
		ValueStyle.Render(fmt.Sprintf("%s / %s", ui.FormatMemory(latest.MemUsed), ui.FormatMemory(latest.MemLimit)))
	netLine := LabelStyle.Render("NET ") +
		ValueStyle.Render(fmt.Sprintf("rx %s  tx %s", ui.FormatRate(rx), ui.FormatRate(tx)))

	lines := []string{
		SectionHeader("Metrics", value, width),
		SectionContentLine(cpuLine, width),
		SectionContentLine(memLine, width),
		SectionContentLine(netLine, width),
	}
	if d := m.detail; d.name != "" {
		st := d.sample
		detailLine := LabelStyle.Render(util.Truncate(d.name, 16)+" ") +
			MetricStyle(st.CPUPercent).Render(ui.FormatPercent(st.CPUPercent)) +
			ValueStyle.Render(fmt.Sprintf("  mem %s / %s  rx %s  tx %s",
				ui.FormatMemory(st.MemUsed), ui.FormatMemory(st.MemLimit),
				ui.FormatMemory(st.NetRx), ui.FormatMemory(st.NetTx)))
		lines = append(lines, SectionContentLine(detailLine, width))
	}
	lines = append(lines, SectionFooter(width))
	return strings.Join(lines, "\n")
}

func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// renderStatus renders the outcome of the last command.
func (m Model) renderStatus() string {
	if m.status == "" {
		return ""
	}
	if m.statusErr {
		return StatusErrStyle.Render(ui.SymbolFail + " " + m.status)
	}
	return StatusOKStyle.Render(ui.SymbolSuccess + " " + m.status)
}

// renderFooter renders the short key help.
func (m Model) renderFooter() string {
	return FooterStyle.Render(m.help.View(m.keys))
}
