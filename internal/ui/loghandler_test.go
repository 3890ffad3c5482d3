package ui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirrorgate/internal/ui"
)

// newTee mirrors the CLI's setup: terminal text at info, JSON file at debug.
func newTee() (*slog.Logger, *bytes.Buffer, *bytes.Buffer) {
	var term, file bytes.Buffer
	h := ui.NewMultiHandler(
		slog.NewTextHandler(&term, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	return slog.New(h), &term, &file
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		out = append(out, rec)
	}
	return out
}

func TestMultiHandler_DebugOnlyReachesLogFile(t *testing.T) {
	t.Parallel()
	log, term, file := newTee()

	log.Debug("mirror attempt", "mirror", "A")
	log.Warn("mirror switched", "mirror", "B")

	assert.NotContains(t, term.String(), "mirror attempt")
	assert.Contains(t, term.String(), "mirror=B")

	recs := jsonLines(t, file)
	require.Len(t, recs, 2)
	assert.Equal(t, "mirror attempt", recs[0]["msg"])
	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "B", recs[1]["mirror"])
}

func TestMultiHandler_Enabled(t *testing.T) {
	t.Parallel()
	h := ui.NewMultiHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.False(t, ui.NewMultiHandler().Enabled(ctx, slog.LevelError))
}

func TestMultiHandler_ComponentLoggers(t *testing.T) {
	t.Parallel()
	log, term, file := newTee()

	log.With("component", "download").Info("download complete", "release", "Moss v7+1.2")
	log.WithGroup("event").Info("mirrorgate.event", "type", "MirrorBanned")

	assert.Contains(t, term.String(), "component=download")
	assert.Contains(t, term.String(), "event.type=MirrorBanned")

	recs := jsonLines(t, file)
	require.Len(t, recs, 2)
	assert.Equal(t, "download", recs[0]["component"])
	group, ok := recs[1]["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "MirrorBanned", group["type"])
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestMultiHandler_KeepsWritingAfterOneFails(t *testing.T) {
	t.Parallel()
	var term bytes.Buffer
	text := slog.NewTextHandler(&term, nil)
	h := ui.NewMultiHandler(failingHandler{text}, text)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "catalog loaded", 0)
	err := h.Handle(context.Background(), rec)
	require.ErrorContains(t, err, "disk full")
	assert.Contains(t, term.String(), "catalog loaded")
}
