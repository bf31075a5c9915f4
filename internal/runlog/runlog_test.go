package runlog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/layout"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runmeta"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

const user = int64(42)

type fixture struct {
	layout layout.Layout
	meta   *runmeta.Store
	disc   *Discoverer
	reader *Reader
	runDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := layout.New(t.TempDir())
	require.NoError(t, err)
	ms := runmeta.NewStore(l, nil)
	d := NewDiscoverer(l, ms, nil)
	rd, _ := l.RunDir(user)
	return &fixture{layout: l, meta: ms, disc: d, reader: NewReader(d, nil), runDir: rd}
}

func (f *fixture) writeLog(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.runDir, 0o755))
	p := filepath.Join(f.runDir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func ptr[T any](v T) *T { return &v }

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"": KindPreview, "preview": KindPreview, "START": KindPreview, "dev": KindPreview, "BUILD": KindBuild, "install": KindInstall}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("deploy")
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
	assert.Equal(t, "start", KindPreview.Op())
	assert.Equal(t, "run-install-7-123.log", FileName(KindInstall, 7, 123))
}

func TestScanPicksMaxTimestampAndSkipsMalformed(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-900.log", "old")
	f.writeLog(t, "run-build-7-1000.log", "new")
	f.writeLog(t, "run-build-7-99.log", "older")
	f.writeLog(t, "run-build-7-abc.log", "bad")
	f.writeLog(t, "run-build-7-.log", "bad")
	f.writeLog(t, "run-build-7-5000.txt", "wrong ext")
	f.writeLog(t, "run-build-77-9999.log", "other app")
	f.writeLog(t, "run-install-7-9999.log", "other op")
	require.NoError(t, os.Mkdir(filepath.Join(f.runDir, "run-build-7-8000.log"), 0o755))

	loc, ok, err := f.disc.Resolve(user, 7, KindBuild)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.runDir, "run-build-7-1000.log"), loc.Path)
	assert.False(t, loc.FromMeta)
}

func TestResolveAbsent(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.disc.Resolve(user, 7, KindPreview)
	require.NoError(t, err)
	assert.False(t, ok, "missing run dir")

	f.writeLog(t, "run-start-8-1.log", "x")
	_, ok, err = f.disc.Resolve(user, 7, KindPreview)
	require.NoError(t, err)
	assert.False(t, ok, "no match")

	_, _, err = f.disc.Resolve(user, 0, KindPreview)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
}

func TestMetadataShortCircuitsScan(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-1000.log", "meta")
	f.writeLog(t, "run-build-7-5000.log", "newer unrelated")
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log"}))

	loc, ok, err := f.disc.Resolve(user, 7, KindBuild)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loc.FromMeta)
	assert.Equal(t, filepath.Join(f.runDir, "run-build-7-1000.log"), loc.Path)

	// a record for another app does not short-circuit
	loc, ok, err = f.disc.Resolve(user, 8, KindBuild)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotNil(t, loc.Meta)
}

func TestMetadataPointingAtMissingFileFallsBack(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-900.log", "scan")
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 7, Type: runmeta.TypeBuild, LogPath: "/somewhere/run-build-7-1000.log"}))

	loc, ok, err := f.disc.Resolve(user, 7, KindBuild)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, loc.FromMeta)
	assert.Equal(t, filepath.Join(f.runDir, "run-build-7-900.log"), loc.Path)
}

func TestOnlyBuildRecordShortCircuitsScan(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-install-7-100.log", "first install")
	f.writeLog(t, "run-install-7-200.log", "second install")
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 7, Type: runmeta.TypeInstall, LogPath: "run-install-7-100.log"}))

	loc, ok, err := f.disc.Resolve(user, 7, KindInstall)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, loc.FromMeta)
	assert.Equal(t, filepath.Join(f.runDir, "run-install-7-200.log"), loc.Path)

	res, err := f.reader.Fetch(user, 7, KindInstall, 0)
	require.NoError(t, err)
	assert.Equal(t, "second install", res.Log)
}

func TestReadRangeTail(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x.log")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))

	cases := []struct {
		tail int64
		want string
	}{
		{0, "0123456789"},
		{3, "789"},
		{10, "0123456789"},
		{25, "0123456789"},
	}
	for _, c := range cases {
		got, err := ReadRange(p, c.tail)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "tail=%d", c.tail)
	}
	_, err := ReadRange(p, -1)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)

	_, err = ReadRange(filepath.Join(dir, "missing.log"), 0)
	assert.ErrorIs(t, err, werr.ErrLogUnreadable)
	assert.NotErrorIs(t, err, werr.ErrNotFound)
}

func TestFetchNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.reader.Fetch(user, 7, KindInstall, 0)
	assert.ErrorIs(t, err, werr.ErrNotFound)
}

func TestFetchPreviewHonorsTail(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-start-7-10.log", "hello world")
	res, err := f.reader.Fetch(user, 7, KindPreview, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", res.Log)
	assert.Nil(t, res.IsFinish)

	res, err = f.reader.Fetch(user, 7, KindPreview, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Log)
}

func TestFetchBuildInFlight(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-900.log", "older build")
	f.writeLog(t, "run-build-7-1000.log", "compiling... step 2")
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log", StartedAt: ptr(int64(1000))}))

	// no tail size while unfinished: empty log
	res, err := f.reader.Fetch(user, 7, KindBuild, 0)
	require.NoError(t, err)
	require.NotNil(t, res.IsFinish)
	assert.False(t, *res.IsFinish)
	assert.Equal(t, "", res.Log)
	assert.Equal(t, filepath.Join(f.runDir, "run-build-7-1000.log"), res.Path)

	// tail requested while unfinished
	res, err = f.reader.Fetch(user, 7, KindBuild, 6)
	require.NoError(t, err)
	assert.False(t, *res.IsFinish)
	assert.Equal(t, "step 2", res.Log)
}

func TestFetchBuildFinishedServesFullFile(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-1000.log", "full build output")
	for _, m := range []runmeta.Meta{
		{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log", FinishedAt: ptr(int64(2000))},
		{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log", ExitCode: ptr(1)},
	} {
		require.NoError(t, f.meta.Save(user, m))
		for i := 0; i < 2; i++ {
			for _, tail := range []int64{0, 4} {
				res, err := f.reader.Fetch(user, 7, KindBuild, tail)
				require.NoError(t, err)
				assert.True(t, *res.IsFinish)
				assert.Equal(t, "full build output", res.Log)
			}
		}
	}
}

func TestFetchHistoricalBuildIsFinished(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-1000.log", "done long ago")
	// current run belongs to another app
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 9, Type: runmeta.TypeBuild, LogPath: "run-build-9-3000.log"}))
	res, err := f.reader.Fetch(user, 7, KindBuild, 0)
	require.NoError(t, err)
	assert.True(t, *res.IsFinish)
	assert.Equal(t, "done long ago", res.Log)
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-install-7-1.log", "npm install ok")
	var buf bytes.Buffer
	res, err := f.reader.Stream(&buf, user, 7, KindInstall, 2)
	require.NoError(t, err)
	assert.Equal(t, "ok", buf.String())
	assert.Equal(t, "", res.Log)
}

func TestCleanupRemovesOnlyAppLogs(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-1.log", "a")
	f.writeLog(t, "run-install-7-2.log", "b")
	f.writeLog(t, "run-start-7-3.log", "c")
	f.writeLog(t, "run-start-77-3.log", "keep")
	f.writeLog(t, "current.json", "{}")

	n, err := f.disc.Cleanup(user, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	entries, _ := os.ReadDir(f.runDir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"run-start-77-3.log", "current.json"}, names)

	n, err = f.disc.Cleanup(999, 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// End-to-end: record points at the newest build, an older build log exists,
// request BUILD with no tail while unfinished.
func TestEndToEndUnfinishedBuild(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-900.log", strings.Repeat("x", 64))
	f.writeLog(t, "run-build-7-1000.log", "building")
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log"}))

	res, err := f.reader.Fetch(user, 7, KindBuild, 0)
	require.NoError(t, err)
	assert.Equal(t, "run-build-7-1000.log", filepath.Base(res.Path))
	assert.False(t, *res.IsFinish)
	assert.Empty(t, res.Log)
	assert.False(t, errors.Is(err, werr.ErrNotFound))
}

func TestFetchBuildFallbackAfterMissingRecordLogIsFinished(t *testing.T) {
	f := newFixture(t)
	f.writeLog(t, "run-build-7-900.log", "previous build output")
	require.NoError(t, f.meta.Save(user, runmeta.Meta{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log"}))

	res, err := f.reader.Fetch(user, 7, KindBuild, 0)
	require.NoError(t, err)
	assert.Equal(t, "run-build-7-900.log", filepath.Base(res.Path))
	require.NotNil(t, res.IsFinish)
	assert.True(t, *res.IsFinish)
	assert.Equal(t, "previous build output", res.Log)
}
