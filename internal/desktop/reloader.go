package desktop

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/rs/zerolog"
)

// Reloader watches content directories and reports changes, debounced per
// directory. Directories are reference counted so several wallpapers can
// share one.
type Reloader struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	onChange  func(dir string)
	log       *zerolog.Logger

	mu     sync.Mutex
	refs   map[string]int
	timers map[string]*time.Timer
	done   chan struct{}
}

// NewReloader creates a reloader that calls onChange from its own goroutine
func NewReloader(debounce time.Duration, onChange func(dir string)) (*Reloader, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		fsWatcher: fsw,
		debounce:  debounce,
		onChange:  onChange,
		log:       logger.WithComponent("reloader"),
		refs:      make(map[string]int),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Watch starts watching dir
func (r *Reloader) Watch(dir string) error {
	dir = filepath.Clean(dir)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs[dir] == 0 {
		if err := r.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		r.log.Debug().Str("dir", dir).Msg("Watching content directory")
	}
	r.refs[dir]++
	return nil
}

// Unwatch drops one reference to dir
func (r *Reloader) Unwatch(dir string) {
	dir = filepath.Clean(dir)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs[dir] == 0 {
		return
	}
	r.refs[dir]--
	if r.refs[dir] > 0 {
		return
	}

	delete(r.refs, dir)
	if t, ok := r.timers[dir]; ok {
		t.Stop()
		delete(r.timers, dir)
	}
	if err := r.fsWatcher.Remove(dir); err != nil {
		r.log.Debug().Err(err).Str("dir", dir).Msg("Failed to stop watching")
	}
}

// Close stops watching everything
func (r *Reloader) Close() error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
	}
	close(r.done)
	for dir, t := range r.timers {
		t.Stop()
		delete(r.timers, dir)
	}
	r.mu.Unlock()
	return r.fsWatcher.Close()
}

func (r *Reloader) loop() {
	for {
		select {
		case event, ok := <-r.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.schedule(filepath.Dir(event.Name))

		case err, ok := <-r.fsWatcher.Errors:
			if !ok {
				return
			}
			r.log.Warn().Err(err).Msg("File watcher error")

		case <-r.done:
			return
		}
	}
}

// schedule (re)starts the debounce timer of dir
func (r *Reloader) schedule(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs[dir] == 0 {
		return
	}
	if t, ok := r.timers[dir]; ok {
		t.Reset(r.debounce)
		return
	}
	r.timers[dir] = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		delete(r.timers, dir)
		_, watched := r.refs[dir]
		r.mu.Unlock()

		if watched {
			r.onChange(dir)
		}
	})
}
