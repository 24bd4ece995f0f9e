// Package desktop assigns wallpapers to displays and keeps track of the
// running player sessions.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/livelyd/livelyd/internal/capture"
	"github.com/livelyd/livelyd/internal/config"
	"github.com/livelyd/livelyd/internal/display"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/player"
	"github.com/livelyd/livelyd/internal/process"
	"github.com/livelyd/livelyd/internal/pubsub"
	"github.com/livelyd/livelyd/internal/window"
	"github.com/rs/zerolog"
)

// PropertiesFile is the customisation file looked up next to local content
const PropertiesFile = "LivelyProperties.json"

var (
	// ErrSessionNotFound is returned for an unknown session id
	ErrSessionNotFound = errors.New("session not found")
	// ErrShutdown is returned once the manager has been shut down
	ErrShutdown = errors.New("desktop manager shut down")
)

// Session is a running wallpaper as seen by the manager
type Session interface {
	player.Wallpaper
	ID() string
	Exited() <-chan struct{}
	Reload()
}

// Factory creates a session from its options
type Factory func(opts player.Options) Session

// Request asks for content on a display
type Request struct {
	// Display is the target display id, empty for the primary display
	Display string `json:"display"`
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Online  bool   `json:"online,omitempty"`
	// Args are passed through to the player, namespaced
	Args []string `json:"args,omitempty"`
}

// Info describes a running session
type Info struct {
	ID          string             `json:"id"`
	Kind        player.ContentKind `json:"kind"`
	Display     string             `json:"display"`
	Path        string             `json:"path"`
	Online      bool               `json:"online,omitempty"`
	PID         int                `json:"pid"`
	Window      uint32             `json:"window"`
	InputWindow uint32             `json:"input_window,omitempty"`
	Loaded      bool               `json:"loaded"`
}

// Deps are the platform services handed to every session
type Deps struct {
	Displays  display.Enumerator
	Resolver  player.WindowResolver
	Shell     window.Shell
	Renderers player.RendererFinder
	Suspender player.Suspender
	Capturer  capture.Capturer
	// NewSession defaults to player.NewSession
	NewSession Factory
}

type entry struct {
	session Session
	req     Request
	// dir is the watched content directory, empty when not watched
	dir string
}

// Manager owns at most one session per display
type Manager struct {
	cfg      *config.Manager
	deps     Deps
	events   *pubsub.Broker[player.Event]
	reloader *Reloader
	log      *zerolog.Logger

	// setMu serialises wallpaper changes
	setMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*entry
	shutdown bool
}

// NewManager creates a manager. Live reload is set up when enabled in the
// configuration.
func NewManager(cfg *config.Manager, deps Deps) (*Manager, error) {
	if deps.NewSession == nil {
		deps.NewSession = func(opts player.Options) Session {
			return player.NewSession(opts)
		}
	}

	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		events:   pubsub.NewBroker[player.Event](),
		log:      logger.WithComponent("desktop"),
		sessions: make(map[string]*entry),
	}

	c := cfg.Get()
	if c.LiveReload {
		r, err := NewReloader(c.ReloadDebounce, m.reloadDir)
		if err != nil {
			return nil, err
		}
		m.reloader = r
	}
	return m, nil
}

// Events returns the broker carrying every session's events
func (m *Manager) Events() *pubsub.Broker[player.Event] {
	return m.events
}

// Displays lists the connected displays
func (m *Manager) Displays() ([]display.Display, error) {
	return m.deps.Displays.Enumerate()
}

// SetWallpaper shows content on a display, replacing whatever runs there
func (m *Manager) SetWallpaper(ctx context.Context, req Request) (Info, error) {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	if m.isShutdown() {
		return Info{}, ErrShutdown
	}

	kind, err := player.ParseKind(req.Kind)
	if err != nil {
		return Info{}, err
	}
	if req.Path == "" {
		return Info{}, fmt.Errorf("wallpaper path is required")
	}

	displays, err := m.deps.Displays.Enumerate()
	if err != nil {
		return Info{}, fmt.Errorf("failed to enumerate displays: %w", err)
	}
	target, err := display.Find(displays, req.Display)
	if err != nil {
		return Info{}, err
	}

	cfg := m.cfg.Get()
	pc, err := cfg.Player(string(kind))
	if err != nil {
		return Info{}, err
	}

	if old := m.onDisplay(target.ID); old != nil {
		m.log.Info().Str("session", old.session.ID()).Str("display", target.ID).Msg("Replacing wallpaper")
		m.closeEntry(old)
	}

	req.Display = target.ID
	launch := process.LaunchSpec{
		Path:      req.Path,
		Online:    req.Online,
		Audio:     cfg.Audio,
		Volume:    cfg.Volume,
		DebugPort: cfg.DebugPort,
		CacheDir:  cfg.CacheDir,
		Verbose:   cfg.Verbose,
		ExtraArgs: req.Args,
	}
	dir := ""
	if !req.Online {
		dir = contentDir(req.Path)
		if props := filepath.Join(dir, PropertiesFile); fileExists(props) {
			launch.PropertiesPath = props
		}
	}

	s := m.deps.NewSession(player.Options{
		ID:           uuid.NewString(),
		Kind:         kind,
		Program:      pc.Program,
		ProgramArgs:  pc.Args,
		Launch:       launch,
		Display:      target,
		GracePeriod:  cfg.GracePeriod,
		DrainTimeout: cfg.DrainTimeout,
		Resolver:     m.deps.Resolver,
		Shell:        m.deps.Shell,
		Renderers:    m.deps.Renderers,
		Suspender:    m.deps.Suspender,
		Capturer:     m.deps.Capturer,
		Events:       m.events,
	})

	showCtx := ctx
	if cfg.ShowTimeout > 0 {
		var cancel context.CancelFunc
		showCtx, cancel = context.WithTimeout(ctx, cfg.ShowTimeout)
		defer cancel()
	}
	if err := s.Show(showCtx); err != nil {
		return Info{}, fmt.Errorf("failed to show %s wallpaper %s: %w", kind, req.Path, err)
	}

	e := &entry{session: s, req: req}
	if m.reloader != nil && dir != "" {
		if err := m.reloader.Watch(dir); err != nil {
			m.log.Warn().Err(err).Str("dir", dir).Msg("Live reload unavailable")
		} else {
			e.dir = dir
		}
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		if e.dir != "" {
			m.reloader.Unwatch(e.dir)
		}
		s.Close()
		m.log.Info().Str("session", s.ID()).Msg("Closed wallpaper shown during shutdown")
		return Info{}, ErrShutdown
	}
	m.sessions[s.ID()] = e
	m.mu.Unlock()
	go m.watchExit(e)

	m.log.Info().
		Str("session", s.ID()).
		Str("kind", string(kind)).
		Str("display", target.ID).
		Str("path", req.Path).
		Int("pid", s.PID()).
		Msg("Wallpaper shown")
	return infoOf(e), nil
}

// Close closes one session
func (m *Manager) Close(id string) error {
	e, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.closeEntry(e)
	return nil
}

// CloseAll closes every session concurrently
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			m.closeEntry(e)
		}(e)
	}
	wg.Wait()
}

// Get returns a running session
func (m *Manager) Get(id string) (Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.session, nil
}

// Info describes a running session
func (m *Manager) Info(id string) (Info, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return infoOf(e), nil
}

// Frame captures the current image of a session's window
func (m *Manager) Frame(id string) (*image.RGBA, error) {
	e, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if m.deps.Capturer == nil {
		return nil, player.ErrCaptureUnavailable
	}
	win := e.session.Handle()
	if win == 0 {
		return nil, fmt.Errorf("%w: session %s has no window", window.ErrWindowResolution, id)
	}
	return m.deps.Capturer.CaptureWindow(win)
}

// List describes the running sessions ordered by display
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.sessions))
	for _, e := range m.sessions {
		infos = append(infos, infoOf(e))
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Display < infos[j].Display
	})
	return infos
}

// PauseAll pauses every session
func (m *Manager) PauseAll() {
	for _, s := range m.snapshot() {
		s.Pause()
	}
}

// PlayAll resumes every session
func (m *Manager) PlayAll() {
	for _, s := range m.snapshot() {
		s.Play()
	}
}

// Restore shows the wallpapers saved in the configuration
func (m *Manager) Restore(ctx context.Context) error {
	var errs []error
	for _, w := range m.cfg.Get().Wallpapers {
		_, err := m.SetWallpaper(ctx, Request{
			Display: w.Display,
			Kind:    w.Kind,
			Path:    w.Path,
			Online:  w.Online,
		})
		if err != nil {
			m.log.Warn().Err(err).Str("display", w.Display).Str("path", w.Path).Msg("Failed to restore wallpaper")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveLayout stores the running wallpapers in the configuration so Restore
// brings them back
func (m *Manager) SaveLayout() error {
	m.mu.Lock()
	layout := make([]config.WallpaperConfig, 0, len(m.sessions))
	for _, e := range m.sessions {
		layout = append(layout, config.WallpaperConfig{
			Display: e.req.Display,
			Kind:    string(e.session.Kind()),
			Path:    e.req.Path,
			Online:  e.req.Online,
		})
	}
	m.mu.Unlock()

	sort.Slice(layout, func(i, j int) bool {
		return layout[i].Display < layout[j].Display
	})
	return m.cfg.Update(func(c *config.Config) {
		c.Wallpapers = layout
	})
}

// Shutdown closes every session and stops live reload and event delivery
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.CloseAll()
	if m.reloader != nil {
		if err := m.reloader.Close(); err != nil {
			m.log.Debug().Err(err).Msg("Failed to stop live reload")
		}
	}
	m.events.Close()
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	return e, ok
}

func (m *Manager) onDisplay(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sessions {
		if e.req.Display == id {
			return e
		}
	}
	return nil
}

func (m *Manager) snapshot() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.session)
	}
	return out
}

// closeEntry unregisters first so a concurrent exit watcher is a no-op
func (m *Manager) closeEntry(e *entry) {
	if !m.unregister(e) {
		return
	}
	e.session.Close()
}

// unregister reports whether e was still registered
func (m *Manager) unregister(e *entry) bool {
	m.mu.Lock()
	current, ok := m.sessions[e.session.ID()]
	if !ok || current != e {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, e.session.ID())
	m.mu.Unlock()

	if e.dir != "" && m.reloader != nil {
		m.reloader.Unwatch(e.dir)
	}
	return true
}

func (m *Manager) watchExit(e *entry) {
	<-e.session.Exited()
	if m.unregister(e) {
		m.log.Info().Str("session", e.session.ID()).Str("display", e.req.Display).Msg("Wallpaper player exited")
	}
}

// reloadDir reloads every session whose content lives in dir
func (m *Manager) reloadDir(dir string) {
	m.mu.Lock()
	var targets []Session
	for _, e := range m.sessions {
		if e.dir == dir {
			targets = append(targets, e.session)
		}
	}
	m.mu.Unlock()

	for _, s := range targets {
		m.log.Debug().Str("session", s.ID()).Str("dir", dir).Msg("Content changed, reloading")
		s.Reload()
	}
}

func infoOf(e *entry) Info {
	s := e.session
	return Info{
		ID:          s.ID(),
		Kind:        s.Kind(),
		Display:     e.req.Display,
		Path:        e.req.Path,
		Online:      e.req.Online,
		PID:         s.PID(),
		Window:      s.Handle(),
		InputWindow: s.InputHandle(),
		Loaded:      s.IsLoaded(),
	}
}

// contentDir is path itself for a directory, otherwise its parent
func contentDir(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Clean(path)
	}
	return filepath.Dir(filepath.Clean(path))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
