package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/mirrorgate/internal/stats"
)

const (
	barFilled = "█"
	barEmpty  = "░"
)

// FormatBytes renders a size in binary units.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}

// FormatRate renders a transfer rate in the same units as FormatBytes, so a
// progress line reads "1.2 GiB/3.4 GiB 12.5 MiB/s".
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec < 1 {
		return "0 B/s"
	}
	return stats.FormatBytes(int64(bytesPerSec)) + "/s"
}

// FormatETA renders the remaining time of a download, or "--" while the
// transfer tool has not reported enough to estimate it.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return compactDuration(d)
}

// FormatDuration renders elapsed time.
func FormatDuration(d time.Duration) string {
	return compactDuration(max(d, 0))
}

// compactDuration drops seconds once a duration reaches an hour; game
// downloads that long are not tracked to the second.
func compactDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatCount renders a count with thousands separators, as used for
// catalog sizes.
func FormatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	var b strings.Builder
	b.WriteString(sign)
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// ProgressBar renders frac (0..1, clamped) as a bar of width cells.
func ProgressBar(frac float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(min(max(frac, 0), 1) * float64(width))
	return strings.Repeat(barFilled, filled) + strings.Repeat(barEmpty, width-filled)
}

// FormatPercent renders done/total as a whole percentage, or "--" when the
// total is unknown.
func FormatPercent(done, total int64) string {
	if total <= 0 {
		return "--"
	}
	pct := float64(done) / float64(total) * 100
	return fmt.Sprintf("%.0f%%", min(pct, 100))
}
