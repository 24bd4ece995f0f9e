package desktop

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu   sync.Mutex
	dirs []string
}

func (c *changeRecorder) record(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirs = append(c.dirs, dir)
}

func (c *changeRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirs)
}

func TestReloader_DebouncesBursts(t *testing.T) {
	rec := &changeRecorder{}
	r, err := NewReloader(150*time.Millisecond, rec.record)
	require.NoError(t, err)
	defer r.Close()

	dir := t.TempDir()
	require.NoError(t, r.Watch(dir))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte{byte(i)}, 0o644))
	}

	require.Eventually(t, func() bool { return rec.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return rec.count() > 1 }, 400*time.Millisecond, 20*time.Millisecond)
	require.Equal(t, filepath.Clean(dir), rec.dirs[0])
}

func TestReloader_UnwatchIsReferenceCounted(t *testing.T) {
	rec := &changeRecorder{}
	r, err := NewReloader(20*time.Millisecond, rec.record)
	require.NoError(t, err)
	defer r.Close()

	dir := t.TempDir()
	require.NoError(t, r.Watch(dir))
	require.NoError(t, r.Watch(dir))

	r.Unwatch(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("1"), 0o644))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 3*time.Second, 10*time.Millisecond)

	r.Unwatch(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("2"), 0o644))
	require.Never(t, func() bool { return rec.count() > 1 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestReloader_WatchMissingDirectory(t *testing.T) {
	r, err := NewReloader(time.Millisecond, func(string) {})
	require.NoError(t, err)
	defer r.Close()

	require.Error(t, r.Watch(filepath.Join(t.TempDir(), "missing")))
}

func TestReloader_CloseIsIdempotent(t *testing.T) {
	r, err := NewReloader(time.Millisecond, func(string) {})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
