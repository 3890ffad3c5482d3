package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparkline(t *testing.T) {
	tests := []struct {
		name  string
		data  []float64
		width int
		want  string
	}{
		{"no samples", nil, 4, "▁▁▁▁"},
		{"idle transfer", []float64{0, 0, 0}, 3, "▁▁▁"},
		{"padded on the left", []float64{4}, 3, "▁▁█"},
		{"ramp", []float64{0, 2, 4, 8}, 4, "▁▂▄█"},
		{"steady rate fills the line", []float64{3, 3, 3}, 3, "███"},
		{"keeps the newest samples", []float64{100, 100, 0, 7}, 2, "▁█"},
		{"zero width", []float64{1, 2}, 0, ""},
		{"negative speeds are floor", []float64{-5, 10}, 2, "▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sparkline(tt.data, tt.width))
		})
	}
}
