package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "livelyd", "config.yaml"))
	require.NoError(t, err)
	return m
}

func TestNewManager_CreatesDefaults(t *testing.T) {
	m := newTestManager(t)

	require.FileExists(t, m.GetConfigPath())
	cfg := m.Get()
	require.Equal(t, 8642, cfg.ServerPort)
	require.Equal(t, 4*time.Second, cfg.GracePeriod)
	require.Equal(t, "livelyd-webplayer", cfg.Players["web"].Program)
	require.Equal(t, []string{"--type=gpu-process"}, cfg.RendererMarkers)
}

func TestNewManager_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: 9100
log_level: debug
grace_period: 2s
input_window_classes: [MyWidget]
players:
  video:
    program: /usr/bin/my-player
    args: [--hwdec]
wallpapers:
  - display: HDMI-1
    kind: web
    path: /walls/rain/index.html
`), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	require.Equal(t, 9100, cfg.ServerPort)
	require.Equal(t, 2*time.Second, cfg.GracePeriod)
	require.Equal(t, []string{"MyWidget"}, cfg.InputWindowClasses)
	require.Equal(t, PlayerConfig{Program: "/usr/bin/my-player", Args: []string{"--hwdec"}}, cfg.Players["video"])
	require.Equal(t, "livelyd-webplayer", cfg.Players["web"].Program)
	require.Len(t, cfg.Wallpapers, 1)
	require.Equal(t, "HDMI-1", cfg.Wallpapers[0].Display)
}

func TestNewManager_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("volume: 300\n"), 0o644))

	_, err := NewManager(path)
	require.Error(t, err)
}

func TestManager_SetConvertsAndPersists(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("server_port", "9090"))
	require.NoError(t, m.Set("grace_period", "1500ms"))
	require.NoError(t, m.Set("live_reload", "true"))
	require.NoError(t, m.Set("cache_dir", "/tmp/livelyd-cache"))

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	cfg := reloaded.Get()
	require.Equal(t, 9090, cfg.ServerPort)
	require.Equal(t, 1500*time.Millisecond, cfg.GracePeriod)
	require.True(t, cfg.LiveReload)
	require.Equal(t, "/tmp/livelyd-cache", cfg.CacheDir)
}

func TestManager_SetRejectsInvalid(t *testing.T) {
	m := newTestManager(t)

	require.Error(t, m.Set("volume", "101"))
	require.Error(t, m.Set("log_level", "loud"))
	require.Error(t, m.Set("no_such_key", "1"))
	require.Equal(t, 50, m.Get().Volume)
}

func TestManager_EnvironmentAndOverrides(t *testing.T) {
	m := newTestManager(t)

	t.Setenv("LIVELYD_SERVER_PORT", "7000")
	require.Equal(t, 7000, m.Get().ServerPort)

	m.SetOverride("server_port", 7100)
	require.Equal(t, 7100, m.Get().ServerPort)

	value, err := m.Value("server_port")
	require.NoError(t, err)
	require.Equal(t, 7100, value)

	// Neither is persisted
	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	os.Unsetenv("LIVELYD_SERVER_PORT")
	require.Equal(t, 8642, reloaded.Get().ServerPort)
}

func TestManager_UpdateIgnoresOverrides(t *testing.T) {
	m := newTestManager(t)
	m.SetOverride("server_port", 7100)

	require.NoError(t, m.Update(func(c *Config) {
		c.Wallpapers = []WallpaperConfig{{Display: "DP-1", Kind: "video", Path: "/walls/a.mp4"}}
	}))
	require.Error(t, m.Update(func(c *Config) { c.Volume = -1 }))

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	cfg := reloaded.Get()
	require.Equal(t, 8642, cfg.ServerPort)
	require.Equal(t, 50, cfg.Volume)
	require.Len(t, cfg.Wallpapers, 1)
	require.Equal(t, "DP-1", cfg.Wallpapers[0].Display)
}

func TestConfig_Player(t *testing.T) {
	cfg := Defaults()

	p, err := cfg.Player("app")
	require.NoError(t, err)
	require.Equal(t, "livelyd-appplayer", p.Program)

	_, err = cfg.Player("screensaver")
	require.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	require.Contains(t, keys, "server_port")
	require.Contains(t, keys, "players")
	require.True(t, isKnownKey("players.web.program"))
	require.False(t, isKnownKey("virtual_display.width"))
}
