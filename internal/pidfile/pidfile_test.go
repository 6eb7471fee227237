package pidfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run", "healthsup.pid")
	require.NoError(t, Write(p, 4242))
	pid, err := Read(p)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, Write(p, 4343), "rewrite replaces atomically")
	pid, err = Read(p)
	require.NoError(t, err)
	assert.Equal(t, 4343, pid)
}

func TestWriteInvalid(t *testing.T) {
	assert.Error(t, Write("", 1))
	assert.Error(t, Write(filepath.Join(t.TempDir(), "x.pid"), 0))
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(filepath.Join(dir, "missing.pid"))
	assert.ErrorIs(t, err, ErrNotRunning)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("abc\n"), 0o644))
	_, err = Read(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestRemoveOnlyOwnPid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, Write(p, 10))

	require.NoError(t, Remove(p, 11))
	_, err := os.Stat(p)
	assert.NoError(t, err, "another daemon's file is kept")

	require.NoError(t, Remove(p, 10))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Remove(p, 10), "missing file is fine")
}

func TestWaitRemoved(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, Write(p, 99))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.Remove(p)
	}()
	begin := time.Now()
	require.NoError(t, WaitRemoved(context.Background(), p, 5*time.Second))
	assert.Less(t, time.Since(begin), 5*time.Second)
}

func TestWaitRemovedAlreadyGone(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.pid")
	assert.NoError(t, WaitRemoved(context.Background(), p, time.Second))
}

func TestWaitRemovedTimeout(t *testing.T) {
	p := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, Write(p, 99))
	err := WaitRemoved(context.Background(), p, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
