package download

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/mirror"
)

func TestSidecarRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	rec := catalog.GameRecord{
		GameName:    "Moss",
		ReleaseName: "Moss v7+1.2",
		PackageName: "com.polyarc.moss",
		VersionCode: 7,
		LastUpdated: time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC),
		SizeMB:      900.5,
		Popularity:  catalog.Popularity{Day: 1, Week: 2, Month: 3},
	}
	require.NoError(t, WriteSidecar(fs, "/dl/Moss v7+1.2", rec))

	got, err := ReadSidecar(fs, "/dl/Moss v7+1.2")
	require.NoError(t, err)
	assert.Equal(t, rec.ReleaseName, got.ReleaseName)
	assert.Equal(t, rec.PackageName, got.PackageName)
	assert.Equal(t, rec.Popularity, got.Popularity)
	assert.InDelta(t, rec.SizeMB, got.SizeMB, 0.0001)
	assert.True(t, rec.LastUpdated.Equal(got.LastUpdated))
}

func TestReadSidecarMissing(t *testing.T) {
	t.Parallel()

	_, err := ReadSidecar(afero.NewMemMapFs(), "/nowhere")
	assert.Error(t, err)
}

func TestDownloadErrorMessage(t *testing.T) {
	t.Parallel()

	last := errors.New("exhausted")
	err := &DownloadError{
		Release: "Moss v7+1.2",
		Last:    last,
		Attempts: []Attempt{
			{Mirror: "A", Err: errors.New("quota")},
			{Mirror: "B", Err: errors.New("down")},
		},
	}
	assert.Equal(t, "download Moss v7+1.2 failed: exhausted (2 attempts); A: quota; B: down", err.Error())
	assert.ErrorIs(t, err, last)

	err.Last = nil
	assert.Equal(t, "download Moss v7+1.2 failed on every mirror (2 attempts); A: quota; B: down", err.Error())
}

func TestDownloadErrorMessageLeadsWithExhaustion(t *testing.T) {
	t.Parallel()

	quota := errors.New("quota")
	err := &DownloadError{
		Release: "Moss v7+1.2",
		Last: &mirror.NoMirrorsError{
			Scope:    mirror.ScopeDownload,
			Excluded: 1,
			Causes:   []error{fmt.Errorf("A: %w", quota)},
		},
		Attempts: []Attempt{{Mirror: "A", Err: quota}},
	}
	assert.Equal(t,
		"download Moss v7+1.2 failed: no mirrors available (download scope, 1 excluded) (1 attempts); A: quota",
		err.Error())
}
