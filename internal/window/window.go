package window

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/livelyd/livelyd/internal/logger"
	"github.com/rs/zerolog"
)

// ErrWindowResolution is returned when a reported handle can't be mapped to
// the player's windows
var ErrWindowResolution = errors.New("window resolution failed")

// DefaultInputClasses are the WM_CLASS names of Chromium's input-receiving
// render widget
var DefaultInputClasses = []string{"Chrome_RenderWidgetHostHWND", "chromium"}

// maxSearchDepth bounds the descendant walk
const maxSearchDepth = 8

// Handles are the resolved windows of one player
type Handles struct {
	// Window is the player's top-level window
	Window uint32
	// Input is the nested window that receives input, or 0
	Input uint32
}

// Tree is the part of the display server the resolver needs
type Tree interface {
	// Exists reports whether the window is known to the server
	Exists(win uint32) bool
	// Children returns direct children in stacking order
	Children(win uint32) ([]uint32, error)
	// Class returns the WM_CLASS instance and class names
	Class(win uint32) (instance, class string, err error)
	// PID returns the _NET_WM_PID property
	PID(win uint32) (int, error)
}

// Shell groups desktop side effects around player windows
type Shell interface {
	// RemoveFromTaskSwitcher hides the window from taskbars and pagers
	RemoveFromTaskSwitcher(win uint32) error
	// RefreshDesktop asks the server to redraw the root window
	RefreshDesktop() error
}

// Resolver maps a handle reported by a player to its windows
type Resolver struct {
	tree         Tree
	inputClasses []string
	log          *zerolog.Logger
}

// NewResolver creates a resolver. With no classes it falls back to
// DefaultInputClasses.
func NewResolver(tree Tree, inputClasses ...string) *Resolver {
	if len(inputClasses) == 0 {
		inputClasses = DefaultInputClasses
	}
	return &Resolver{
		tree:         tree,
		inputClasses: inputClasses,
		log:          logger.WithComponent("window-resolver"),
	}
}

// Resolve validates hwnd as a window owned by pid and, when needInput is set,
// finds its input-receiving descendant.
func (r *Resolver) Resolve(hwnd int64, pid int, needInput bool) (Handles, error) {
	if hwnd <= 0 || hwnd > math.MaxUint32 {
		return Handles{}, fmt.Errorf("%w: invalid handle %d", ErrWindowResolution, hwnd)
	}
	win := uint32(hwnd)

	if !r.tree.Exists(win) {
		return Handles{}, fmt.Errorf("%w: window 0x%x does not exist", ErrWindowResolution, win)
	}

	if pid > 0 {
		if owner, err := r.tree.PID(win); err == nil && owner != pid {
			// Sandboxed players report the pid of their own namespace
			r.log.Warn().
				Uint32("window", win).
				Int("window_pid", owner).
				Int("pid", pid).
				Msg("Window owner does not match player process")
		}
	}

	handles := Handles{Window: win}
	if !needInput {
		return handles, nil
	}

	input, ok := r.findInput(win)
	if !ok {
		return Handles{}, fmt.Errorf("%w: no input window under 0x%x", ErrWindowResolution, win)
	}
	handles.Input = input

	r.log.Debug().
		Uint32("window", win).
		Uint32("input", input).
		Msg("Resolved player windows")
	return handles, nil
}

// findInput walks the descendants of root breadth-first
func (r *Resolver) findInput(root uint32) (uint32, bool) {
	level := []uint32{root}
	for depth := 0; depth < maxSearchDepth && len(level) > 0; depth++ {
		var next []uint32
		for _, win := range level {
			children, err := r.tree.Children(win)
			if err != nil {
				r.log.Debug().Err(err).Uint32("window", win).Msg("Failed to query children")
				continue
			}
			for _, child := range children {
				if r.isInputWindow(child) {
					return child, true
				}
				next = append(next, child)
			}
		}
		level = next
	}
	return 0, false
}

func (r *Resolver) isInputWindow(win uint32) bool {
	instance, class, err := r.tree.Class(win)
	if err != nil {
		return false
	}
	for _, want := range r.inputClasses {
		if strings.EqualFold(want, class) || strings.EqualFold(want, instance) {
			return true
		}
	}
	return false
}

// parseClass splits a raw WM_CLASS value (instance\0class\0)
func parseClass(raw string) (instance, class string) {
	parts := strings.Split(raw, "\x00")
	if len(parts) > 0 {
		instance = parts[0]
	}
	if len(parts) > 1 {
		class = parts[1]
	}
	return instance, class
}
