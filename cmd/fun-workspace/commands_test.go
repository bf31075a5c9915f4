package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/reclaim"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/server"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/store/sqlite"
	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/workspace"
)

func startAPI(t *testing.T) (string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	svc, err := workspace.New(workspace.Options{
		Root:        root,
		SharedToken: "tok",
		Reclaim:     reclaim.Options{Attempts: 1, Backoff: time.Millisecond},
		Store:       db,
	})
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewRouter(svc, "/workspace", nil).Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/workspace", root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestRequiredFlags(t *testing.T) {
	_, err := run(t, "logs", "--user=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app")

	_, err = run(t, "port", "assign", "--user=1")
	assert.Error(t, err)
}

func TestPortCommands(t *testing.T) {
	api, _ := startAPI(t)
	flags := []string{"--api-url=" + api, "--token=tok"}

	out, err := run(t, append([]string{"port", "assign", "--user=4", "--port=31004"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "31004")

	out, err = run(t, append([]string{"port", "lookup", "--user=4"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "31004\n", out)

	_, err = run(t, append([]string{"port", "release", "--user=4"}, flags...)...)
	require.NoError(t, err)

	_, err = run(t, append([]string{"port", "lookup", "--user=4"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")

	_, err = run(t, "port", "lookup", "--user=4", "--api-url="+api, "--token=bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestAppsAndLogsCommands(t *testing.T) {
	api, root := startAPI(t)
	flags := []string{"--api-url=" + api}

	out, err := run(t, append([]string{"apps", "create", "--user=1", "--app=9", "--name=shop"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "shop"`)

	out, err = run(t, append([]string{"apps", "list", "--user=1"}, flags...)...)
	require.NoError(t, err)
	var apps []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &apps))
	assert.Len(t, apps, 1)

	runDir := filepath.Join(root, "1", "run")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run-start-9-100.log"), []byte("listening on :5173"), 0o644))

	out, err = run(t, append([]string{"logs", "--user=1", "--app=9", "--tail=5"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"log": ":5173"`)

	out, err = run(t, append([]string{"logs", "--user=1", "--app=9", "--stream"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "listening on :5173", out)

	out, err = run(t, append([]string{"apps", "delete", "--user=1", "--app=9"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "deleted"`)
	_, err = os.Stat(filepath.Join(runDir, "run-start-9-100.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestReclaimCommandOffline(t *testing.T) {
	root := t.TempDir()
	appDir := filepath.Join(root, "2", "5")
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "node_modules"), 0o755))
	runDir := filepath.Join(root, "2", "run")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run-build-5-1.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "run-build-6-1.log"), []byte("x"), 0o644))

	out, err := run(t, "reclaim", "--root="+root, "--user=2", "--app=5")
	require.NoError(t, err)
	var rep reclaimReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, reclaim.Deleted, rep.Directory.Status)
	assert.Equal(t, 1, rep.Logs.Removed)
	assert.Empty(t, rep.Errors)

	_, err = os.Stat(appDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(runDir, "run-build-6-1.log"))
	assert.NoError(t, err)
}

func TestReclaimCommandPurge(t *testing.T) {
	root := t.TempDir()
	q := filepath.Join(root, "3", reclaim.QuarantineDirName)
	require.NoError(t, os.MkdirAll(filepath.Join(q, "7-1000"), 0o755))

	out, err := run(t, "reclaim", "--root="+root, "--purge")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, `"removed": 1`), out)
}

func TestReclaimCommandNeedsTarget(t *testing.T) {
	_, err := run(t, "reclaim", "--root="+t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user and --app")
}
