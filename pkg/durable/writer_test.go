package durable

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyFS fails the first n renames with a transient error.
type flakyFS struct {
	OSFS
	failures int32
	renames  int32
}

func (f *flakyFS) Rename(oldpath, newpath string) error {
	if atomic.AddInt32(&f.renames, 1) <= f.failures {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errors.New("input/output error")}
	}
	return f.OSFS.Rename(oldpath, newpath)
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestWriteCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	w := NewWriter(WithRetry(3, 0))

	require.NoError(t, w.Write(context.Background(), path, []byte("v1"), Critical))
	require.NoError(t, w.Write(context.Background(), path, []byte("v2"), Critical))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
	assert.Empty(t, tempFiles(t, filepath.Dir(path)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteRecoversFromTransientFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	fs := &flakyFS{failures: 2}
	w := NewWriter(WithRetry(3, time.Millisecond), WithFS(fs))

	require.NoError(t, w.Write(context.Background(), path, []byte("payload"), Critical))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.Equal(t, int32(3), atomic.LoadInt32(&fs.renames))
	assert.Empty(t, tempFiles(t, dir))
}

func TestCriticalExhaustionKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	w := NewWriter(WithRetry(3, time.Millisecond), WithFS(&flakyFS{failures: 10}))
	err := w.Write(context.Background(), path, []byte("new"), Critical)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.True(t, werr.Fatal())
	assert.Equal(t, 3, werr.Attempts)
	assert.False(t, errors.Is(err, ErrDegraded))

	got, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, "original", string(got))
	assert.Empty(t, tempFiles(t, dir))
}

func TestBestEffortExhaustionIsDegraded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	w := NewWriter(WithRetry(2, time.Millisecond), WithFS(&flakyFS{failures: 10}))
	err := w.Write(context.Background(), path, []byte("x"), BestEffort)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegraded))
	var werr *WriteError
	assert.False(t, errors.As(err, &werr))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWriter()
	err := w.Write(ctx, filepath.Join(t.TempDir(), "x"), []byte("x"), Critical)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadersNeverSeePartialPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")
	w := NewWriter(WithRetry(1, 0))

	a := bytes.Repeat([]byte("a"), 256*1024)
	b := bytes.Repeat([]byte("b"), 256*1024)
	require.NoError(t, w.Write(context.Background(), path, a, Critical))

	stop := make(chan struct{})
	var bad int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := os.ReadFile(path)
				if err != nil || !(bytes.Equal(got, a) || bytes.Equal(got, b)) {
					atomic.AddInt32(&bad, 1)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		payload := a
		if i%2 == 0 {
			payload = b
		}
		require.NoError(t, w.Write(context.Background(), path, payload, Critical))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&bad))
}

func TestParseCriticality(t *testing.T) {
	c, err := ParseCriticality("best_effort")
	require.NoError(t, err)
	assert.Equal(t, BestEffort, c)

	c, err = ParseCriticality("")
	require.NoError(t, err)
	assert.Equal(t, Critical, c)

	_, err = ParseCriticality("sometimes")
	assert.Error(t, err)
}
