package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	writeConfig(t, path, "signing:\n  defaultRegion: us-east-1\n")

	var mu sync.Mutex
	var got *Config
	watcher, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	writeConfig(t, path, "signing:\n  defaultRegion: eu-west-1\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Signing.DefaultRegion == "eu-west-1"
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	writeConfig(t, path, "{}\n")

	var mu sync.Mutex
	var reloadErr error
	watcher, err := NewWatcher(path,
		func(*Config) {},
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			mu.Lock()
			reloadErr = err
			mu.Unlock()
		}))
	require.NoError(t, err)

	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	writeConfig(t, path, "auth: [\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloadErr != nil
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	writeConfig(t, path, "auth: [\n")

	watcher, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)
	assert.Error(t, watcher.Start())
}

func TestWatcherRequiresCallback(t *testing.T) {
	_, err := NewWatcher("some.yaml", nil)
	assert.Error(t, err)
}

func TestWatcherStopTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	writeConfig(t, path, "{}\n")

	watcher, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())

	watcher.Stop()
	watcher.Stop()
}
