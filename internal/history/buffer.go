// Package history keeps the recent metric samples of the active target in
// a fixed-size ring for sparkline rendering.
package history

import (
	"sync"

	"github.com/rileyhilliard/dockwatch/internal/docker"
)

// DefaultSize is the number of samples retained: one minute at 1s ticks.
const DefaultSize = 60

// Buffer is a thread-safe ring of MetricSample. The zero value is not
// usable; create one with New.
type Buffer struct {
	mu    sync.RWMutex
	data  []docker.MetricSample
	head  int
	count int
}

// New creates a buffer holding size samples.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{data: make([]docker.MetricSample, size)}
}

// Append adds a sample, overwriting the oldest once full.
func (b *Buffer) Append(s docker.MetricSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[b.head] = s
	b.head = (b.head + 1) % len(b.data)
	if b.count < len(b.data) {
		b.count++
	}
}

// Snapshot returns every stored sample, oldest first.
func (b *Buffer) Snapshot() []docker.MetricSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(b.count)
}

// Last returns up to n of the newest samples, oldest first.
func (b *Buffer) Last(n int) []docker.MetricSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastLocked(n)
}

// Latest returns the newest sample.
func (b *Buffer) Latest() (docker.MetricSample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return docker.MetricSample{}, false
	}
	return b.data[(b.head-1+len(b.data))%len(b.data)], true
}

// Len is the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap is the ring capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Reset drops all samples.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.data {
		b.data[i] = docker.MetricSample{}
	}
	b.head, b.count = 0, 0
}

// CPUSeries returns up to n CPU percentages, oldest first.
func (b *Buffer) CPUSeries(n int) []float64 {
	samples := b.Last(n)
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.CPUPercent
	}
	return out
}

// MemSeries returns up to n memory percentages, oldest first.
func (b *Buffer) MemSeries(n int) []float64 {
	samples := b.Last(n)
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.MemPercent()
	}
	return out
}

// NetRate is the receive/transmit throughput between the two newest
// samples in bytes per second. Counter resets read as zero.
func (b *Buffer) NetRate() (rxPerSec, txPerSec float64) {
	last := b.Last(2)
	if len(last) < 2 {
		return 0, 0
	}
	prev, cur := last[0], last[1]
	secs := cur.Timestamp.Sub(prev.Timestamp).Seconds()
	if secs <= 0 {
		return 0, 0
	}
	if cur.NetRx >= prev.NetRx {
		rxPerSec = float64(cur.NetRx-prev.NetRx) / secs
	}
	if cur.NetTx >= prev.NetTx {
		txPerSec = float64(cur.NetTx-prev.NetTx) / secs
	}
	return rxPerSec, txPerSec
}

// lastLocked copies the newest n samples. Must be called with b.mu held.
func (b *Buffer) lastLocked(n int) []docker.MetricSample {
	if n <= 0 || b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	size := len(b.data)
	out := make([]docker.MetricSample, n)
	// head is the next write slot, so the newest sample is at head-1.
	start := (b.head - n + size) % size
	for i := 0; i < n; i++ {
		out[i] = b.data[(start+i)%size]
	}
	return out
}
