package ui

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansi.ReplaceAllString(s, "")
}

func TestRenderSparkline(t *testing.T) {
	tests := []struct {
		name     string
		data     []float64
		width    int
		expected string
	}{
		{"empty", nil, 10, ""},
		{"zero width", []float64{50}, 0, ""},
		{"fixed scale", []float64{0, 50, 100}, 10, "▁▄█"},
		{"trims to width", []float64{0, 0, 100, 100}, 2, "██"},
		{"above 100 rescales", []float64{100, 200}, 10, "▄█"},
		{"flat zero", []float64{0, 0, 0}, 10, "▁▁▁"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, stripANSI(RenderSparkline(tt.data, tt.width)))
		})
	}
}

func TestThresholdColor(t *testing.T) {
	assert.Equal(t, ColorSuccess, ThresholdColor(10))
	assert.Equal(t, ColorWarning, ThresholdColor(60))
	assert.Equal(t, ColorError, ThresholdColor(95))
}

func TestRenderTable(t *testing.T) {
	out := stripANSI(RenderTable(
		[]string{"NAME", "STATUS"},
		[][]string{{"web", "running"}, {"postgres-primary", "exited"}},
	))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "NAME"+strings.Repeat(" ", 15)+"STATUS", lines[0])
	assert.Equal(t, "web"+strings.Repeat(" ", 16)+"running", lines[1])
	assert.Equal(t, "postgres-primary   exited", lines[2])
}

func TestRenderTable_ShortRows(t *testing.T) {
	out := stripANSI(RenderTable([]string{"A", "B"}, [][]string{{"x"}}))
	assert.Contains(t, out, "x")
}

func TestStatusSymbol(t *testing.T) {
	tests := []struct {
		status   docker.ContainerStatus
		expected string
	}{
		{docker.StatusRunning, SymbolRunning},
		{docker.StatusPaused, SymbolPaused},
		{docker.StatusExited, SymbolStopped},
		{docker.StatusDead, SymbolFail},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, stripANSI(StatusSymbol(tt.status)))
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "187MB", FormatBytes(187_000_000))
	assert.Equal(t, "-", FormatBytes(-1))
	assert.Equal(t, "1.5GiB", FormatMemory(1536*1024*1024))
	assert.Equal(t, "2kB/s", FormatRate(2000))
	assert.Equal(t, "0B/s", FormatRate(-5))
	assert.Equal(t, "12.5%", FormatPercent(12.5))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", FormatAge(time.Time{}, now))
	assert.Equal(t, "3 hours ago", FormatAge(now.Add(-3*time.Hour), now))
}
