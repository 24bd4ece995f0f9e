package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/process"
	"github.com/livelyd/livelyd/internal/window"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. LIVELYD_SERVER_PORT
const EnvPrefix = "LIVELYD"

// PlayerConfig describes the player binary for one content kind
type PlayerConfig struct {
	Program string   `json:"program" yaml:"program" mapstructure:"program"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
}

// WallpaperConfig is a wallpaper restored when the daemon starts
type WallpaperConfig struct {
	Display string `json:"display" yaml:"display" mapstructure:"display"`
	Kind    string `json:"kind" yaml:"kind" mapstructure:"kind"`
	Path    string `json:"path" yaml:"path" mapstructure:"path"`
	Online  bool   `json:"online,omitempty" yaml:"online,omitempty" mapstructure:"online"`
}

// Config is the daemon configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`

	// Players maps a content kind to its player
	Players map[string]PlayerConfig `json:"players" yaml:"players" mapstructure:"players"`

	GracePeriod  time.Duration `json:"grace_period" yaml:"grace_period" mapstructure:"grace_period"`
	ShowTimeout  time.Duration `json:"show_timeout" yaml:"show_timeout" mapstructure:"show_timeout"`
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout" mapstructure:"drain_timeout"`

	InputWindowClasses []string `json:"input_window_classes" yaml:"input_window_classes" mapstructure:"input_window_classes"`
	RendererMarkers    []string `json:"renderer_markers" yaml:"renderer_markers" mapstructure:"renderer_markers"`

	Audio     bool   `json:"audio" yaml:"audio" mapstructure:"audio"`
	Volume    int    `json:"volume" yaml:"volume" mapstructure:"volume"`
	CacheDir  string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	DebugPort int    `json:"debug_port,omitempty" yaml:"debug_port,omitempty" mapstructure:"debug_port"`
	Verbose   bool   `json:"verbose,omitempty" yaml:"verbose,omitempty" mapstructure:"verbose"`

	LiveReload     bool          `json:"live_reload" yaml:"live_reload" mapstructure:"live_reload"`
	ReloadDebounce time.Duration `json:"reload_debounce" yaml:"reload_debounce" mapstructure:"reload_debounce"`

	Wallpapers []WallpaperConfig `json:"wallpapers,omitempty" yaml:"wallpapers,omitempty" mapstructure:"wallpapers"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8642,
		LogLevel:   "info",
		Players: map[string]PlayerConfig{
			"web":   {Program: "livelyd-webplayer"},
			"video": {Program: "livelyd-videoplayer"},
			"app":   {Program: "livelyd-appplayer"},
		},
		GracePeriod:        4 * time.Second,
		ShowTimeout:        30 * time.Second,
		DrainTimeout:       500 * time.Millisecond,
		InputWindowClasses: append([]string{}, window.DefaultInputClasses...),
		RendererMarkers:    []string{process.DefaultRendererMarker},
		Audio:              true,
		Volume:             50,
		LiveReload:         false,
		ReloadDebounce:     500 * time.Millisecond,
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %q (use: trace, debug, info, warn, error)", c.LogLevel)
	}
	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("invalid volume: %d (0-100)", c.Volume)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive")
	}
	if c.ShowTimeout < 0 || c.DrainTimeout < 0 || c.ReloadDebounce < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Player returns the player for a content kind
func (c *Config) Player(kind string) (PlayerConfig, error) {
	p, ok := c.Players[kind]
	if !ok || p.Program == "" {
		return PlayerConfig{}, fmt.Errorf("no player configured for %q", kind)
	}
	return p, nil
}

// Manager loads and persists the configuration file. Environment variables
// and explicit overrides (usually CLI flags) apply on top of the file
// without being saved.
type Manager struct {
	configPath string
	file       *Config
	overrides  map[string]any
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/livelyd/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "livelyd", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing file
// is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		configPath: path,
		overrides:  make(map[string]any),
	}

	log := logger.WithComponent("config")
	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().Str("path", path).Msg("Config file not found, creating new config")
		m.file = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	log.Debug().Str("path", path).Int("wallpapers", len(m.file.Wallpapers)).Msg("Config loaded")
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.file = cfg
	m.mu.Unlock()
	return nil
}

// view builds a viper view of the file config, optionally layered with
// environment variables and overrides
func (m *Manager) view(layered bool) (*viper.Viper, error) {
	data, err := yaml.Marshal(m.file)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}

	if layered {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		for key, value := range m.overrides {
			v.Set(key, value)
		}
	}
	return v, nil
}

// decode starts from a zero Config; v already carries every default
func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the effective configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.view(true)
	if err == nil {
		var cfg *Config
		if cfg, err = decode(v); err == nil {
			return cfg
		}
	}
	logger.WithComponent("config").Warn().Err(err).Msg("Ignoring invalid overrides")
	clone := *m.file
	return &clone
}

// SetOverride layers a value over the file without persisting it
func (m *Manager) SetOverride(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[strings.ToLower(key)] = value
}

// Value returns the effective value of a dotted key
func (m *Manager) Value(key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, err := m.view(true)
	if err != nil {
		return nil, err
	}
	if !v.IsSet(key) {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

// Set changes a dotted key in the file, validates and saves it. String values
// are converted to the key's type.
func (m *Manager) Set(key string, value any) error {
	m.mu.Lock()
	v, err := m.view(false)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !v.IsSet(key) && !isKnownKey(key) {
		m.mu.Unlock()
		return fmt.Errorf("configuration key not found: %s", key)
	}
	v.Set(key, value)

	next, err := decode(v)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	m.file = next
	m.mu.Unlock()

	return m.Save()
}

// Update applies fn to a copy of the file configuration, validates and saves
// it. Environment variables and overrides are not involved.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	next := *m.file
	next.Players = make(map[string]PlayerConfig, len(m.file.Players))
	for k, v := range m.file.Players {
		next.Players[k] = v
	}
	fn(&next)
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.file = &next
	m.mu.Unlock()
	return m.Save()
}

// Save writes the file configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.file
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// GetConfigPath returns the config file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Keys lists the top-level configuration keys
func Keys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var knownKeys = map[string]struct{}{
	"server_port": {}, "log_level": {}, "players": {}, "grace_period": {},
	"show_timeout": {}, "drain_timeout": {}, "input_window_classes": {},
	"renderer_markers": {}, "audio": {}, "volume": {}, "cache_dir": {},
	"debug_port": {}, "verbose": {}, "live_reload": {}, "reload_debounce": {},
	"wallpapers": {},
}

// isKnownKey accepts top-level keys and player entries that omitempty left
// out of the file
func isKnownKey(key string) bool {
	key = strings.ToLower(key)
	if _, ok := knownKeys[key]; ok {
		return true
	}
	return strings.HasPrefix(key, "players.")
}
