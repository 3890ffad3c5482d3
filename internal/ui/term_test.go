package ui

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWidthOfNonTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, IsTTY(f.Fd()))
	assert.Zero(t, Width(f.Fd()))
	assert.Zero(t, barWidth(Width(f.Fd())), "redirected output gets no progress bar")
}
