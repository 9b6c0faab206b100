package ui

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

// FormatBytes renders a byte count the way the docker CLI does (decimal
// units, e.g. "187MB").
func FormatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return units.HumanSize(float64(n))
}

// FormatMemory renders a memory amount in binary units (e.g. "1.5GiB").
func FormatMemory(n uint64) string {
	return units.BytesSize(float64(n))
}

// FormatRate renders a bytes-per-second throughput.
func FormatRate(bytesPerSecond float64) string {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	return units.HumanSize(bytesPerSecond) + "/s"
}

// FormatPercent renders a percentage with one decimal.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// FormatAge renders how long ago t was, e.g. "3 hours ago".
func FormatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	if d < time.Second {
		return "Less than a second ago"
	}
	return units.HumanDuration(d) + " ago"
}
