package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters representing 8 vertical levels (lowest to highest).
const sparklineBlocks = "▁▂▃▄▅▆▇█"

var sparklineBlockRunes = []rune(sparklineBlocks)

// RenderSparkline draws the newest width percentages of data. The scale
// runs from 0 to 100, or to the series maximum when a value exceeds 100
// (multi-core CPU). The color follows the newest value:
//   - below 60%: green
//   - 60-80%: yellow
//   - 80% and up: red
func RenderSparkline(data []float64, width int) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	top := 100.0
	for _, v := range data {
		if v > top {
			top = v
		}
	}

	var sb strings.Builder
	sb.Grow(len(data) * 3)
	levels := len(sparklineBlockRunes)
	for _, v := range data {
		level := int(v / top * float64(levels-1))
		if level < 0 {
			level = 0
		} else if level >= levels {
			level = levels - 1
		}
		sb.WriteRune(sparklineBlockRunes[level])
	}

	last := data[len(data)-1]
	return lipgloss.NewStyle().Foreground(ThresholdColor(last)).Render(sb.String())
}

// ThresholdColor maps a percentage to green, yellow, or red.
func ThresholdColor(percent float64) lipgloss.Color {
	switch {
	case percent >= 80:
		return ColorError
	case percent >= 60:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
