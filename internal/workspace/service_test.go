package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/gitops"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/history"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/runmeta"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store/sqlite"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeGit struct {
	target gitops.Target
}

func (f *fakeGit) Status(context.Context, string) (gitops.Status, error) {
	return gitops.Status{IsRepo: true, Branch: "main", Commit: "abcdef0123"}, nil
}

func (f *fakeGit) Ensure(_ context.Context, t gitops.Target) (gitops.EnsureResult, error) {
	f.target = t
	return gitops.EnsureResult{Result: gitops.AlreadyUpToDate, Branch: "main"}, nil
}

func newService(t *testing.T, token string) (*Service, *recordingSink, string) {
	t.Helper()
	root := t.TempDir()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	sink := &recordingSink{}
	svc, err := New(Options{
		Root:        root,
		SharedToken: token,
		Reclaim:     reclaim.Options{Attempts: 2, Backoff: time.Millisecond},
		Store:       db,
		Git:         &fakeGit{},
		History:     sink,
	})
	require.NoError(t, err)
	return svc, sink, root
}

func TestNewRequiresRootAndStore(t *testing.T) {
	_, err := New(Options{Root: ""})
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
	_, err = New(Options{Root: t.TempDir()})
	assert.Error(t, err)
}

func TestCreateListDeleteApp(t *testing.T) {
	svc, sink, root := newService(t, "")
	ctx := context.Background()

	_, err := svc.CreateApp(ctx, 3, 7, "todo")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "3", "7"))
	require.NoError(t, err)

	_, err = svc.CreateApp(ctx, 3, 7, "again")
	assert.ErrorIs(t, err, werr.ErrAlreadyExists)
	_, err = svc.CreateApp(ctx, 0, 7, "bad")
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)

	apps, err := svc.ListApps(ctx, 3)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	// app files plus two logs for this app and one for another
	require.NoError(t, os.WriteFile(filepath.Join(root, "3", "7", "index.js"), []byte("x"), 0o644))
	runDir := filepath.Join(root, "3", "run")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	for _, n := range []string{"run-build-7-1.log", "run-start-7-2.log", "run-build-8-3.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(runDir, n), []byte("log"), 0o644))
	}

	rep, err := svc.DeleteApp(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, reclaim.Deleted, rep.Directory.Status)
	assert.Equal(t, reclaim.Deleted, rep.Logs.Status)
	assert.Equal(t, 2, rep.Logs.Removed)
	_, err = os.Stat(filepath.Join(root, "3", "7"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(runDir, "run-build-8-3.log"))
	assert.NoError(t, err, "other apps' logs survive")

	assert.Equal(t, []history.EventType{
		history.EventAppCreated, history.EventAppDeleted, history.EventReclaim, history.EventLogCleanup,
	}, sink.types())

	// deleting again is a no-op reclaim
	rep, err = svc.DeleteApp(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, reclaim.Deleted, rep.Directory.Status)
	assert.Zero(t, rep.Logs.Removed)
}

func TestDeleteAppReclaimsUnregisteredApp(t *testing.T) {
	svc, sink, root := newService(t, "")
	ctx := context.Background()
	absent := int64(0)

	_, err := svc.WriteFile(FileRequest{UserID: 3, AppID: 9, Path: "a/b.txt", Content: "x", CreateParents: true, ExpectedLastModifiedMs: &absent})
	require.NoError(t, err)
	runDir := filepath.Join(root, "3", "run")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run-build-9-1.log"), []byte("log"), 0o644))

	rep, err := svc.DeleteApp(ctx, 3, 9)
	require.NoError(t, err)
	assert.Equal(t, reclaim.Deleted, rep.Directory.Status)
	assert.Equal(t, 1, rep.Logs.Removed)
	_, err = os.Stat(filepath.Join(root, "3", "9"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NotEmpty(t, sink.events)
	assert.Equal(t, history.EventAppDeleted, sink.events[0].Type)
	assert.Equal(t, "absent", sink.events[0].Outcome)
}

func TestCreateAppRollsBackRecordWhenDirFails(t *testing.T) {
	svc, _, root := newService(t, "")
	ctx := context.Background()
	// a regular file where the user root should be makes MkdirAll fail
	require.NoError(t, os.WriteFile(filepath.Join(root, "6"), []byte("not a dir"), 0o644))

	app, err := svc.CreateApp(ctx, 6, 1, "broken")
	assert.ErrorIs(t, err, werr.ErrIO)
	assert.Zero(t, app)

	_, err = svc.store.GetApp(ctx, 6, 1)
	assert.ErrorIs(t, err, werr.ErrNotFound)
	apps, err := svc.ListApps(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestDeleteAppSwallowsCleanupFailures(t *testing.T) {
	svc, sink, root := newService(t, "")
	ctx := context.Background()
	sink.err = errors.New("sink down")

	_, err := svc.CreateApp(ctx, 4, 1, "x")
	require.NoError(t, err)
	// a file where the run directory should be makes log cleanup fail
	require.NoError(t, os.WriteFile(filepath.Join(root, "4", "run"), []byte("not a dir"), 0o644))

	rep, err := svc.DeleteApp(ctx, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, reclaim.Deleted, rep.Directory.Status)
	assert.Equal(t, reclaim.Failed, rep.Logs.Status)
	assert.ErrorIs(t, rep.Logs.Err, werr.ErrCleanup)
}

func TestReadLogEndToEnd(t *testing.T) {
	svc, _, root := newService(t, "")
	runDir := filepath.Join(root, "5", "run")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run-build-7-900.log"), []byte("old build"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run-build-7-1000.log"), []byte("building..."), 0o644))
	started := int64(1000)
	require.NoError(t, svc.RunMeta().Save(5, runmeta.Meta{AppID: 7, Type: runmeta.TypeBuild, LogPath: "run-build-7-1000.log", StartedAt: &started}))

	res, err := svc.ReadLog(5, 7, "BUILD", 0)
	require.NoError(t, err)
	require.NotNil(t, res.IsFinish)
	assert.False(t, *res.IsFinish)
	assert.Equal(t, "", res.Log)
	assert.Equal(t, filepath.Join(runDir, "run-build-7-1000.log"), res.Path)

	res, err = svc.ReadLog(5, 7, "BUILD", 3)
	require.NoError(t, err)
	assert.Equal(t, "...", res.Log)

	_, err = svc.ReadLog(5, 7, "DEPLOY", 0)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
	_, err = svc.ReadLog(5, 7, "INSTALL", 0)
	assert.ErrorIs(t, err, werr.ErrNotFound)
}

func TestFileOperations(t *testing.T) {
	svc, _, _ := newService(t, "")
	absent := int64(0)
	base := FileRequest{UserID: 2, AppID: 9, Path: "src/app.js", Content: "v1", CreateParents: true}

	_, err := svc.WriteFile(base)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument, "no expectation and no force")

	create := base
	create.ExpectedLastModifiedMs = &absent
	res, err := svc.WriteFile(create)
	require.NoError(t, err)
	assert.Equal(t, "src/app.js", res.Path)
	assert.Equal(t, int64(2), res.Size)

	_, err = svc.WriteFile(create)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification)

	update := base
	update.Content = "v2"
	update.ExpectedLastModifiedMs = &res.LastModifiedMs
	res2, err := svc.WriteFile(update)
	require.NoError(t, err)
	assert.Greater(t, res2.LastModifiedMs, res.LastModifiedMs)
	_, err = svc.WriteFile(update)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification, "stale timestamp")

	read, err := svc.ReadFile(FileRequest{UserID: 2, AppID: 9, Path: "src/app.js"})
	require.NoError(t, err)
	assert.Equal(t, "v2", read.Content)

	mv := FileRequest{UserID: 2, AppID: 9, Path: "src/app.js", NewPath: "lib/app.js", CreateParents: true, ExpectedLastModifiedMs: &res2.LastModifiedMs}
	moved, err := svc.RenameFile(mv)
	require.NoError(t, err)
	assert.Equal(t, "lib/app.js", moved.Path)

	dir, err := svc.Mkdir(FileRequest{UserID: 2, AppID: 9, Path: "assets/img"})
	require.NoError(t, err)
	assert.True(t, dir.IsDir)

	require.NoError(t, svc.DeleteFile(FileRequest{UserID: 2, AppID: 9, Path: "lib/app.js", ForceWrite: true}))
	_, err = svc.ReadFile(FileRequest{UserID: 2, AppID: 9, Path: "lib/app.js"})
	assert.ErrorIs(t, err, werr.ErrNotFound)

	_, err = svc.ReadFile(FileRequest{UserID: 2, AppID: 9, Path: "../8/secret"})
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
}

func TestPortLifecycle(t *testing.T) {
	svc, sink, _ := newService(t, "tok")
	ctx := context.Background()

	assert.ErrorIs(t, svc.AssignPort(ctx, "bad", "127.0.0.1:1", 6, 30006), werr.ErrUnauthorized)
	require.NoError(t, svc.AssignPort(ctx, "tok", "10.0.0.1:1", 6, 30006))

	port, err := svc.LookupPort(ctx, 6, "tok", "10.0.0.2:1")
	require.NoError(t, err)
	assert.Equal(t, 30006, port)
	_, seen := svc.Activity().LastSeen(6)
	assert.True(t, seen)

	require.NoError(t, svc.ReleasePort(ctx, "tok", "", 6))
	_, seen = svc.Activity().LastSeen(6)
	assert.False(t, seen)
	_, err = svc.LookupPort(ctx, 6, "tok", "")
	assert.ErrorIs(t, err, werr.ErrNotFound)

	assert.Equal(t, []history.EventType{history.EventPortAssigned, history.EventPortReleased}, sink.types())
}

func TestGitDelegation(t *testing.T) {
	svc, _, root := newService(t, "")
	g := svc.git.(*fakeGit)

	st, err := svc.GitStatus(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "main", st.Branch)

	res, err := svc.GitEnsure(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, gitops.AlreadyUpToDate, res.Result)
	assert.Equal(t, filepath.Join(root, "1", "2"), g.target.Dir)

	_, err = svc.GitEnsure(context.Background(), 1, -2)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
}
