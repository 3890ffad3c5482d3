package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector aggregates poller samples for one download into a rolling speed
// and an ETA.
type Collector struct {
	startTime time.Time
	bytes     atomic.Int64
	total     atomic.Int64
	samples   atomic.Int64
	missed    atomic.Int64

	// Ring buffer of reported speeds, written by Observe.
	mu        sync.Mutex
	speeds    [ringSize]float64
	ringIdx   int
	ringCount int // capped at ringSize
}

// NewCollector creates a Collector for a transfer of total bytes (0 when
// unknown) with startTime set to now.
func NewCollector(total int64) *Collector {
	c := &Collector{startTime: time.Now()}
	c.total.Store(total)
	return c
}

// SetTotal updates the expected byte count.
func (c *Collector) SetTotal(n int64) { c.total.Store(n) }

// Observe records one poller tick. A nil sample counts as a miss and leaves
// the rolling window untouched.
func (c *Collector) Observe(s *Sample) {
	if s == nil {
		c.missed.Add(1)
		return
	}
	c.samples.Add(1)
	c.bytes.Store(s.Bytes)
	if s.TotalBytes > 0 && c.total.Load() <= 0 {
		c.total.Store(s.TotalBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.speeds[c.ringIdx] = s.Speed
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns the average reported speed over the last n samples.
func (c *Collector) RollingSpeed(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(n, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum float64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.speeds[idx]
	}
	return sum / float64(count)
}

// ETA estimates remaining time from the rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.total.Load() - c.bytes.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// Snapshot is a point-in-time read of the collector.
type Snapshot struct {
	Bytes   int64
	Total   int64
	Samples int64
	Missed  int64
	Speed   float64
	ETA     time.Duration
	Elapsed time.Duration
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Bytes:   c.bytes.Load(),
		Total:   c.total.Load(),
		Samples: c.samples.Load(),
		Missed:  c.missed.Load(),
		Speed:   c.RollingSpeed(10),
		ETA:     c.ETA(),
		Elapsed: c.Elapsed(),
	}
}

// Percent is the completed share in [0, 100], or 0 when the total is
// unknown.
func (s Snapshot) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return min(100, float64(s.Bytes)/float64(s.Total)*100)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("bytes=%d total=%d speed=%.0f samples=%d missed=%d",
		s.Bytes, s.Total, s.Speed, s.Samples, s.Missed)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
