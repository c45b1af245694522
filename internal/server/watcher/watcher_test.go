package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlanticdynamic/nitr/internal/testutil"
	"github.com/robbyt/go-fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staleCounter struct {
	n atomic.Int32
}

func (s *staleCounter) MarkStale() { s.n.Add(1) }

func startRunner(t *testing.T, path string, target Target) *Runner {
	t.Helper()
	r, err := NewRunner(path, target)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	require.Eventually(t, r.IsRunning, 5*time.Second, 10*time.Millisecond)
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner("", &staleCounter{})
	require.Error(t, err)
	_, err = NewRunner("handler.lua", nil)
	require.Error(t, err)

	r, err := NewRunner("handler.lua", &staleCounter{})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.path))
	assert.Equal(t, fsm.StatusNew, r.GetState())
	assert.Equal(t, "watcher.Runner", r.String())
}

func TestRunner_MarksStaleOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "handler.lua", "return function() end")
	target := &staleCounter{}
	startRunner(t, path, target)

	require.NoError(t, os.WriteFile(path, []byte("return function() return {} end"), 0o644))
	assert.Eventually(t, func() bool { return target.n.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_MarksStaleOnRenameOver(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "handler.lua", "return function() end")
	target := &staleCounter{}
	startRunner(t, path, target)

	tmp := testutil.WriteFile(t, dir, ".handler.lua.swp", "return function() return {} end")
	require.NoError(t, os.Rename(tmp, path))
	assert.Eventually(t, func() bool { return target.n.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "handler.lua", "return function() end")
	target := &staleCounter{}
	startRunner(t, path, target)

	testutil.WriteFile(t, dir, "config.lua", "return {}")
	testutil.WriteFile(t, dir, "notes.txt", "hello")
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, target.n.Load())
}

func TestRunner_Reload(t *testing.T) {
	target := &staleCounter{}
	r, err := NewRunner("handler.lua", target)
	require.NoError(t, err)

	r.Reload()
	assert.Equal(t, int32(1), target.n.Load())
}

func TestRunner_Stop(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "handler.lua", "return function() end")
	r, err := NewRunner(path, &staleCounter{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(t.Context()) }()
	require.Eventually(t, r.IsRunning, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Equal(t, fsm.StatusStopped, r.GetState())
}

func TestRunner_StopBeforeRun(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "handler.lua", "return function() end")
	r, err := NewRunner(path, &staleCounter{})
	require.NoError(t, err)

	r.Stop()
	assert.Equal(t, fsm.StatusNew, r.GetState())

	// the context never ends, so only the recorded stop can end Run
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("a stop requested before Run was lost")
	}
	assert.Equal(t, fsm.StatusStopped, r.GetState())
}

func TestRunner_MissingDirectory(t *testing.T) {
	r, err := NewRunner(filepath.Join(t.TempDir(), "gone", "handler.lua"), &staleCounter{})
	require.NoError(t, err)

	require.Error(t, r.Run(t.Context()))
	assert.Equal(t, fsm.StatusError, r.GetState())
}
