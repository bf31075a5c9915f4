package fileguard

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/werr"
)

func TestWriteWithMatchingTimestampThenStale(t *testing.T) {
	g := New(nil)
	p := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(p, []byte("v1"), 0o644))
	fi, err := os.Stat(p)
	require.NoError(t, err)
	orig := fi.ModTime().UnixMilli()

	info, err := g.Write(p, []byte("v2"), ExpectModified(orig), false, false)
	require.NoError(t, err)
	assert.Greater(t, info.LastModifiedMs, orig)

	// same request again with the original, now stale, timestamp
	_, err = g.Write(p, []byte("v2"), ExpectModified(orig), false, false)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification)

	b, _ := os.ReadFile(p)
	assert.Equal(t, "v2", string(b))

	// the fresh timestamp works
	_, err = g.Write(p, []byte("v3"), ExpectModified(info.LastModifiedMs), false, false)
	require.NoError(t, err)
}

func TestCreateRequiresAbsentExpectation(t *testing.T) {
	g := New(nil)
	p := filepath.Join(t.TempDir(), "new.txt")

	_, err := g.Write(p, []byte("x"), ExpectModified(12345), false, false)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification)
	_, statErr := os.Stat(p)
	assert.True(t, os.IsNotExist(statErr))

	info, err := g.Write(p, []byte("x"), ExpectAbsent(), false, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size)

	_, err = g.Write(p, []byte("y"), ExpectAbsent(), false, false)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification)
}

func TestConcurrentCreateSucceedsExactlyOnce(t *testing.T) {
	g := New(nil)
	p := filepath.Join(t.TempDir(), "race.txt")
	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Write(p, []byte("payload"), ExpectAbsent(), false, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, werr.ErrConcurrentModification):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestPathLocksAreReleased(t *testing.T) {
	g := New(nil)
	dir := t.TempDir()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := filepath.Join(dir, "f"+strconv.Itoa(i%4)+".txt")
			_, _ = g.Write(p, []byte("x"), Expectation{}, true, false)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, g.lockCount())

	p := filepath.Join(dir, "f0.txt")
	require.NoError(t, g.Delete(p, Expectation{}, true))
	assert.Zero(t, g.lockCount())
}

// Two guards share no lock, like two processes; link(2) still admits one creator.
func TestCreateAcrossGuards(t *testing.T) {
	p := filepath.Join(t.TempDir(), "shared.txt")
	_, err := New(nil).Write(p, []byte("a"), ExpectAbsent(), false, false)
	require.NoError(t, err)
	_, err = New(nil).Write(p, []byte("b"), ExpectAbsent(), false, false)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification)
}

func TestForceAndNoCheck(t *testing.T) {
	g := New(nil)
	p := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(p, []byte("a"), 0o644))

	_, err := g.Write(p, []byte("b"), ExpectModified(1), true, false)
	require.NoError(t, err)
	_, err = g.Write(p, []byte("c"), NoCheck(), false, false)
	require.NoError(t, err)
	_, err = g.Write(filepath.Join(filepath.Dir(p), "g.txt"), []byte("c"), NoCheck(), false, false)
	require.NoError(t, err)

	// unset expectation without force is rejected
	_, err = g.Write(p, []byte("d"), Expectation{}, false, false)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
}

func TestCreateParents(t *testing.T) {
	g := New(nil)
	p := filepath.Join(t.TempDir(), "a", "b", "c.txt")

	_, err := g.Write(p, []byte("x"), ExpectAbsent(), false, false)
	assert.ErrorIs(t, err, werr.ErrNotFound)

	_, err = g.Write(p, []byte("x"), ExpectAbsent(), false, true)
	require.NoError(t, err)
}

func TestFromMillis(t *testing.T) {
	assert.False(t, FromMillis(nil).IsSet())
	zero, neg, pos := int64(0), int64(-1), int64(1700000000000)
	assert.Equal(t, ExpectAbsent(), FromMillis(&zero))
	assert.Equal(t, ExpectAbsent(), FromMillis(&neg))
	assert.Equal(t, ExpectModified(pos), FromMillis(&pos))
}

func TestReadStat(t *testing.T) {
	g := New(nil)
	dir := t.TempDir()
	p := filepath.Join(dir, "r.txt")
	mt := time.UnixMilli(1700000000123)
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))
	require.NoError(t, os.Chtimes(p, mt, mt))

	b, info, err := g.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "content", string(b))
	assert.Equal(t, int64(1700000000123), info.LastModifiedMs)

	_, _, err = g.Read(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, werr.ErrNotFound)
	_, _, err = g.Read(dir)
	assert.ErrorIs(t, err, werr.ErrInvalidArgument)
}

func TestRename(t *testing.T) {
	g := New(nil)
	dir := t.TempDir()
	from := filepath.Join(dir, "a.txt")
	to := filepath.Join(dir, "sub", "b.txt")
	require.NoError(t, os.WriteFile(from, []byte("a"), 0o644))
	fi, _ := os.Stat(from)

	_, err := g.Rename(from, to, ExpectModified(fi.ModTime().UnixMilli()+5), false, true)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification)

	_, err = g.Rename(from, to, ExpectModified(fi.ModTime().UnixMilli()), false, true)
	require.NoError(t, err)
	_, err = os.Stat(to)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(from, []byte("again"), 0o644))
	_, err = g.Rename(from, to, NoCheck(), false, false)
	assert.ErrorIs(t, err, werr.ErrConcurrentModification, "destination exists")

	_, err = g.Rename(filepath.Join(dir, "nope"), to, NoCheck(), false, false)
	assert.ErrorIs(t, err, werr.ErrNotFound)
}

func TestDeleteAndMkdir(t *testing.T) {
	g := New(nil)
	dir := t.TempDir()
	p := filepath.Join(dir, "d.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	fi, _ := os.Stat(p)

	assert.ErrorIs(t, g.Delete(p, ExpectModified(1), false), werr.ErrConcurrentModification)
	require.NoError(t, g.Delete(p, ExpectModified(fi.ModTime().UnixMilli()), false))
	assert.ErrorIs(t, g.Delete(p, NoCheck(), false), werr.ErrNotFound)

	info, err := g.Mkdir(filepath.Join(dir, "x", "y"))
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	require.NoError(t, g.Delete(filepath.Join(dir, "x"), Expectation{}, true))
}
