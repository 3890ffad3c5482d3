package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirrorgate/internal/app"
	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/transfer"
)

func TestDownloadFailedExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"cancelled", fmt.Errorf("download: %w", context.Canceled), 130},
		{"hwid", fmt.Errorf("copy: %w", transfer.ErrHWIDCheckFailed), 3},
		{"unknown release", fmt.Errorf("%w: Foo", app.ErrUnknownRelease), 2},
		{"no catalog", app.ErrNoCatalog, 2},
		{"other", errors.New("every mirror failed"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exitErr *exitError
			require.ErrorAs(t, downloadFailed(tt.err), &exitErr)
			assert.Equal(t, tt.code, exitErr.code)
			assert.ErrorIs(t, exitErr, tt.err)
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit code 4", (&exitError{code: 4}).Error())
	assert.Equal(t, "boom", (&exitError{code: 1, err: errors.New("boom")}).Error())
}

func TestSortRecords(t *testing.T) {
	records := func() []catalog.GameRecord {
		return []catalog.GameRecord{
			{ReleaseName: "beta v1", SizeMB: 10, Popularity: catalog.Popularity{Week: 5}},
			{ReleaseName: "Alpha v2", SizeMB: 30, Popularity: catalog.Popularity{Week: 50}},
			{ReleaseName: "gamma v1", SizeMB: 20, Popularity: catalog.Popularity{Week: 20}},
		}
	}
	names := func(rs []catalog.GameRecord) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ReleaseName
		}
		return out
	}

	rs := records()
	require.NoError(t, sortRecords(rs, "name", false))
	assert.Equal(t, []string{"Alpha v2", "beta v1", "gamma v1"}, names(rs))

	rs = records()
	require.NoError(t, sortRecords(rs, "name", true))
	assert.Equal(t, []string{"beta v1", "Alpha v2", "gamma v1"}, names(rs), "ranked results keep their order")

	rs = records()
	require.NoError(t, sortRecords(rs, "popularity", false))
	assert.Equal(t, []string{"Alpha v2", "gamma v1", "beta v1"}, names(rs))

	rs = records()
	require.NoError(t, sortRecords(rs, "size", false))
	assert.Equal(t, []string{"Alpha v2", "gamma v1", "beta v1"}, names(rs))

	assert.Error(t, sortRecords(records(), "color", false))
}
