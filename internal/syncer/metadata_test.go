package syncer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/mirrorgate/internal/catalog"
	"github.com/bamsammich/mirrorgate/internal/guard"
	"github.com/bamsammich/mirrorgate/internal/mirror"
	"github.com/bamsammich/mirrorgate/internal/transfer"
)

const (
	catalogHeader = "Game Name;Release Name;Package Name;Version Code;Last Updated;Size (MB)\n"
	catalogBody   = catalogHeader +
		"Moss;Moss v7+1.2;com.polyarc.moss;7;2024-01-02 10:30 UTC;900\n" +
		"Superhot;Superhot v3+2.0;com.superhot.game;3;2024-01-02 10:30 UTC;512\n" +
		"Beat Saber;Beat Saber v2+1.1;com.beatgames.beatsaber;2;2024-03-04 08:00 UTC;1100\n"
)

type fakeMetaSource struct {
	popErr    error
	blErr     error
	blacklist string
	stats     []catalog.PopularityStat
}

func (f *fakeMetaSource) Popularity(context.Context) ([]catalog.PopularityStat, error) {
	return f.stats, f.popErr
}

func (f *fakeMetaSource) Blacklist(context.Context) ([]byte, error) {
	if f.blErr != nil {
		return nil, f.blErr
	}
	return []byte(f.blacklist), nil
}

type metaFixture struct {
	fs     afero.Fs
	guards *guard.Set
	pool   *mirror.Pool
	run    *fakeRunner
	src    *fakeMetaSource
	cache  *catalog.Cache
}

func (f *metaFixture) syncer() *MetadataSyncer {
	return NewMetadataSyncer(MetadataOptions{
		Pool:          f.pool,
		Runner:        f.run,
		Source:        f.src,
		Guards:        f.guards,
		Fs:            f.fs,
		Cache:         f.cache,
		RemoteRoot:    "Quest Games",
		CatalogFile:   "VRP-GameList.txt",
		BlacklistFile: "blacklist.txt",
		CatalogPath:   "/data/VRP-GameList.txt",
		BlacklistPath: "/data/blacklist.txt",
	})
}

func newMetaFixture(t *testing.T, respond func(int, transfer.Request) (transfer.Kind, string), remotes ...string) *metaFixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	guards := guard.NewSet()
	return &metaFixture{
		fs:     fs,
		guards: guards,
		pool:   newPool(t, guards, remotes...),
		run:    &fakeRunner{fs: fs, respond: respond},
		src:    &fakeMetaSource{blacklist: "com.superhot.game\n"},
	}
}

func TestEnsureCatalogLoadsAndEnriches(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(int, transfer.Request) (transfer.Kind, string) {
		return transfer.Success, catalogBody
	}, "A")
	f.src.stats = []catalog.PopularityStat{
		{PackageName: "com.polyarc.moss", Day: 10, Week: 5, Month: 1},
		{PackageName: "com.superhot.game", Day: 20, Week: 10, Month: 4},
	}
	s := f.syncer()
	require.Nil(t, s.Catalog())

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	cat := s.Catalog()
	require.NotNil(t, cat)
	assert.Equal(t, 3, cat.Len())

	moss, ok := cat.Lookup("Moss v7+1.2")
	require.True(t, ok)
	assert.Equal(t, catalog.Popularity{Day: 50, Week: 50, Month: 25}, moss.Popularity)

	sh, _ := cat.Lookup("Superhot v3+2.0")
	assert.True(t, cat.Blacklisted(sh))

	reqs := f.run.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "A:Quest Games/VRP-GameList.txt", reqs[0].Source)

	saved, err := afero.ReadFile(f.fs, "/data/blacklist.txt")
	require.NoError(t, err)
	assert.Equal(t, "com.superhot.game\n", string(saved))

	// loaded and not forced: no further I/O
	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Len(t, f.run.requests(), 1)

	require.NoError(t, s.EnsureCatalog(context.Background(), true))
	assert.Len(t, f.run.requests(), 2)
}

func TestEnsureCatalogRetriesEmptyUpToLimit(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(call int, _ transfer.Request) (transfer.Kind, string) {
		if call < 3 {
			return transfer.Success, catalogHeader
		}
		return transfer.Success, catalogBody
	}, "A")
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Len(t, f.run.requests(), 3)
	assert.Equal(t, 3, s.Catalog().Len())
}

func TestEnsureCatalogAcceptsEmptyAfterLimit(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(int, transfer.Request) (transfer.Kind, string) {
		return transfer.Success, catalogHeader
	}, "A")
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Len(t, f.run.requests(), DefaultCatalogAttempts)
	require.NotNil(t, s.Catalog())
	assert.Zero(t, s.Catalog().Len())
}

func TestEnsureCatalogRotatesOnQuota(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(_ int, req transfer.Request) (transfer.Kind, string) {
		if req.Mirror == "A" {
			return transfer.QuotaExceeded, ""
		}
		return transfer.Success, catalogBody
	}, "A", "B")
	require.NoError(t, f.pool.ManualSwitch(context.Background(), "A"))
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Equal(t, []string{"A", "B"}, f.run.mirrors())
	assert.Equal(t, "A", f.pool.Selected(), "download-scope rotation leaves the pool alone")
}

func TestEnsureCatalogFallsBackToCache(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(int, transfer.Request) (transfer.Kind, string) {
		return transfer.HostUnreachable, ""
	}, "A")
	cache, err := catalog.OpenCache(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cache.Close()
	require.NoError(t, cache.Save([]catalog.GameRecord{{GameName: "Moss", ReleaseName: "Moss v7+1.2", PackageName: "com.polyarc.moss"}}))
	f.cache = cache

	s := f.syncer()
	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Equal(t, 1, s.Catalog().Len())
}

func TestEnsureCatalogNoMirrorsWithoutCache(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(int, transfer.Request) (transfer.Kind, string) {
		return transfer.QuotaExceeded, ""
	}, "A", "B")
	s := f.syncer()

	err := s.EnsureCatalog(context.Background(), false)
	require.ErrorIs(t, err, mirror.ErrNoMirrors)
	assert.Nil(t, s.Catalog())
	assert.False(t, f.guards.Catalog.Busy())
}

func TestEnsureCatalogBlacklistFallsBackToMirror(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(_ int, req transfer.Request) (transfer.Kind, string) {
		if req.Source == "A:Quest Games/blacklist.txt" {
			return transfer.Success, "com.polyarc.moss\n"
		}
		return transfer.Success, catalogBody
	}, "A")
	f.src.blErr = errAPIDown
	f.src.popErr = errAPIDown
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	moss, _ := s.Catalog().Lookup("Moss v7+1.2")
	assert.True(t, s.Catalog().Blacklisted(moss))
	assert.Zero(t, moss.Popularity.Day)
}

func TestEnsureCatalogBlacklistFollowsCatalogMirror(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(_ int, req transfer.Request) (transfer.Kind, string) {
		switch req.Source {
		case "A:Quest Games/VRP-GameList.txt", "A:Quest Games/blacklist.txt":
			return transfer.QuotaExceeded, ""
		case "B:Quest Games/blacklist.txt":
			return transfer.Success, "com.polyarc.moss\n"
		}
		return transfer.Success, catalogBody
	}, "A", "B")
	require.NoError(t, f.pool.ManualSwitch(context.Background(), "A"))
	f.src.blErr = errAPIDown
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Equal(t, []string{"A", "B", "B"}, f.run.mirrors())

	moss, _ := s.Catalog().Lookup("Moss v7+1.2")
	assert.True(t, s.Catalog().Blacklisted(moss))
	saved, err := afero.ReadFile(f.fs, "/data/blacklist.txt")
	require.NoError(t, err)
	assert.Equal(t, "com.polyarc.moss\n", string(saved))
}

func TestEnsureCatalogBlacklistRotatesAfterCatalogMirror(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(_ int, req transfer.Request) (transfer.Kind, string) {
		switch req.Source {
		case "A:Quest Games/blacklist.txt":
			return transfer.QuotaExceeded, ""
		case "B:Quest Games/blacklist.txt":
			return transfer.Success, "com.superhot.game\n"
		}
		return transfer.Success, catalogBody
	}, "A", "B")
	require.NoError(t, f.pool.ManualSwitch(context.Background(), "A"))
	f.src.blErr = errAPIDown
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	assert.Equal(t, []string{"A", "A", "B"}, f.run.mirrors())
	sh, _ := s.Catalog().Lookup("Superhot v3+2.0")
	assert.True(t, s.Catalog().Blacklisted(sh))
	assert.Equal(t, "A", f.pool.Selected())
}

func TestEnsureCatalogBlacklistUsesPreviousFile(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(_ int, req transfer.Request) (transfer.Kind, string) {
		if req.Source == "A:Quest Games/blacklist.txt" {
			return transfer.OperationFailed, ""
		}
		return transfer.Success, catalogBody
	}, "A")
	f.src.blErr = errAPIDown
	require.NoError(t, afero.WriteFile(f.fs, "/data/blacklist.txt", []byte("com.beatgames.beatsaber\n"), 0o644))
	s := f.syncer()

	require.NoError(t, s.EnsureCatalog(context.Background(), false))
	bs, _ := s.Catalog().Lookup("Beat Saber v2+1.1")
	assert.True(t, s.Catalog().Blacklisted(bs))
}

func TestEnsureCatalogKeepsPreviousPopularity(t *testing.T) {
	t.Parallel()

	f := newMetaFixture(t, func(int, transfer.Request) (transfer.Kind, string) {
		return transfer.Success, catalogBody
	}, "A")
	f.src.stats = []catalog.PopularityStat{{PackageName: "com.polyarc.moss", Day: 4, Week: 4, Month: 4}}
	s := f.syncer()
	require.NoError(t, s.EnsureCatalog(context.Background(), false))

	f.src.stats = nil
	f.src.popErr = errAPIDown
	require.NoError(t, s.EnsureCatalog(context.Background(), true))

	moss, _ := s.Catalog().Lookup("Moss v7+1.2")
	assert.Equal(t, catalog.Popularity{Day: 100, Week: 100, Month: 100}, moss.Popularity)
}
