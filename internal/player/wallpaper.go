// Package player runs one wallpaper player process per session and exposes a
// uniform control surface over it, whatever technology renders the content.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/livelyd/livelyd/internal/capture"
	"github.com/livelyd/livelyd/internal/display"
	"github.com/livelyd/livelyd/internal/ipc"
	"github.com/livelyd/livelyd/internal/process"
	"github.com/livelyd/livelyd/internal/pubsub"
	"github.com/livelyd/livelyd/internal/window"
)

var (
	// ErrProcessNeverInitialized is returned by Show when the player exits
	// before reporting its window
	ErrProcessNeverInitialized = errors.New("player exited before reporting its window")
	// ErrScreenshotPending rejects a screenshot while another is in flight
	ErrScreenshotPending = errors.New("screenshot already in progress")
	// ErrAlreadyShown is returned by a second Show
	ErrAlreadyShown = errors.New("session already shown")
	// ErrCaptureUnavailable is returned when a host-side capture is needed
	// but no capturer is configured
	ErrCaptureUnavailable = errors.New("window capture unavailable")
)

// DefaultGracePeriod bounds a graceful close
const DefaultGracePeriod = 4 * time.Second

// Wallpaper is the control surface of one running wallpaper
type Wallpaper interface {
	Show(ctx context.Context) error
	Play()
	Pause()
	Stop()
	Close()
	Terminate()
	SetVolume(volume int)
	SetPlaybackPos(pos float64, kind ipc.PlaybackPosType)
	Screenshot(ctx context.Context, path string) (bool, error)
	SendMessage(msg ipc.Message)

	IsLoaded() bool
	IsExited() bool
	Handle() uint32
	InputHandle() uint32
	PID() int
	Display() display.Display
	Path() string
	Kind() ContentKind
}

// WindowResolver maps a reported handle to the player's windows
type WindowResolver interface {
	Resolve(hwnd int64, pid int, needInput bool) (window.Handles, error)
}

// RendererFinder locates the renderer process under a player
type RendererFinder interface {
	FindRenderer(pid int) (int, error)
}

// Suspender freezes and thaws a process
type Suspender interface {
	Suspend(pid int) error
	Resume(pid int) error
}

// Event is the payload of published session events
type Event struct {
	SessionID string      `json:"session_id,omitempty"`
	Instance  int64       `json:"instance"`
	Kind      ContentKind `json:"kind"`
	Display   string      `json:"display"`
	Path      string      `json:"path"`
	Success   bool        `json:"success,omitempty"`
	Message   string      `json:"message,omitempty"`
	ExitCode  int         `json:"exit_code,omitempty"`
}

// Options configures a Session
type Options struct {
	// ID is an opaque identifier echoed in events
	ID string
	// Kind selects the session policy
	Kind ContentKind
	// Program is the player executable
	Program string
	// ProgramArgs precede the generated launch arguments
	ProgramArgs []string
	// Env is added to the inherited environment
	Env []string
	// Launch describes the content; display id and geometry default from Display
	Launch process.LaunchSpec
	// Display is the target display
	Display display.Display

	// GracePeriod bounds a graceful close, DefaultGracePeriod when zero
	GracePeriod time.Duration
	// DrainTimeout bounds reading leftover output after exit
	DrainTimeout time.Duration

	Resolver  WindowResolver
	Shell     window.Shell
	Renderers RendererFinder
	Suspender Suspender
	Capturer  capture.Capturer
	Events    pubsub.Publisher[Event]
}

// directResolver trusts the reported handle. It is used when no display
// server connection is available.
type directResolver struct{}

func (directResolver) Resolve(hwnd int64, _ int, needInput bool) (window.Handles, error) {
	if hwnd <= 0 || hwnd > math.MaxUint32 {
		return window.Handles{}, fmt.Errorf("%w: invalid handle %d", window.ErrWindowResolution, hwnd)
	}
	h := window.Handles{Window: uint32(hwnd)}
	if needInput {
		h.Input = h.Window
	}
	return h, nil
}
