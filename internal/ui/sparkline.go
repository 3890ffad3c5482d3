package ui

import "slices"

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values of data as block characters,
// scaled to the largest of them. Short input is padded on the left.
func Sparkline(data []float64, width int) string {
	if width <= 0 {
		return ""
	}

	window := make([]float64, width)
	if len(data) >= width {
		copy(window, data[len(data)-width:])
	} else {
		copy(window[width-len(data):], data)
	}

	peak := slices.Max(window)
	out := make([]rune, width)
	for i, v := range window {
		if peak <= 0 || v <= 0 {
			out[i] = sparkBlocks[0]
			continue
		}
		out[i] = sparkBlocks[min(int(v/peak*float64(len(sparkBlocks)-1)), len(sparkBlocks)-1)]
	}
	return string(out)
}
