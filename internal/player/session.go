package player

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livelyd/livelyd/internal/channel"
	"github.com/livelyd/livelyd/internal/display"
	"github.com/livelyd/livelyd/internal/future"
	"github.com/livelyd/livelyd/internal/ipc"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/metrics"
	"github.com/livelyd/livelyd/internal/output"
	"github.com/livelyd/livelyd/internal/process"
	"github.com/livelyd/livelyd/internal/pubsub"
	"github.com/livelyd/livelyd/internal/window"
	"github.com/rs/zerolog"
)

// State is the lifecycle stage of a session
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

const inboxSize = 64

type pendingShot struct {
	fileName string
	result   *future.Future[bool]
}

// Session owns one player process. Messages from the player and its exit are
// handled in arrival order on the session's own goroutine; mu only guards the
// fields that callers read from outside it.
type Session struct {
	opts     Options
	policy   Policy
	instance int64
	log      *zerolog.Logger

	sup   *process.Supervisor
	ch    atomic.Pointer[channel.Channel]
	ready *future.Future[window.Handles]

	inbox     chan func()
	actorDone chan struct{}
	exited    chan struct{}

	mu          sync.Mutex
	state       State
	loaded      bool
	handles     window.Handles
	rendererPID int
	shot        *pendingShot
}

var _ Wallpaper = (*Session)(nil)

// NewSession prepares a session. Nothing runs until Show.
func NewSession(opts Options) *Session {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Resolver == nil {
		opts.Resolver = directResolver{}
	}
	if opts.Launch.DisplayID == "" {
		opts.Launch.DisplayID = opts.Display.ID
	}
	if opts.Launch.Geometry == "" {
		opts.Launch.Geometry = opts.Display.Geometry()
	}

	instance := logger.NextInstance()
	log := logger.WithSession("player", instance)

	args := append(append([]string{}, opts.ProgramArgs...), opts.Launch.Args()...)
	sup := process.NewSupervisor(process.Config{
		Program:      opts.Program,
		Args:         args,
		Env:          opts.Env,
		DrainTimeout: opts.DrainTimeout,
	}, opts.Shell, log)

	return &Session{
		opts:      opts,
		policy:    opts.Kind.Policy(),
		instance:  instance,
		log:       log,
		sup:       sup,
		ready:     future.New[window.Handles](),
		inbox:     make(chan func(), inboxSize),
		actorDone: make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// Show launches the player and blocks until it reports its window or exits.
// ctx bounds the wait; on any failure the player is terminated.
func (s *Session) Show(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return ErrAlreadyShown
	}
	s.state = StateStarting
	s.mu.Unlock()

	kind := string(s.opts.Kind)
	start := time.Now()

	go s.run()
	s.sup.OnExit(func(status process.ExitStatus) {
		s.post(func() { s.handleExit(status) })
	})

	err := s.sup.Start(func(stdout io.ReadCloser, stdin io.WriteCloser) <-chan struct{} {
		ch := channel.New(stdout, stdin, s.onMessage, s.log)
		s.ch.Store(ch)
		ch.Start()
		return ch.Done()
	})
	if err != nil {
		s.log.Error().Err(err).Str("program", s.opts.Program).Msg("Failed to launch player")
		s.post(s.handleLaunchFailure)
		metrics.ShowDuration.WithLabelValues(kind, "failure").Observe(time.Since(start).Seconds())
		return err
	}

	metrics.SessionsActive.WithLabelValues(kind).Inc()
	s.publish(pubsub.StartedEvent, Event{})
	s.log.Info().
		Str("kind", kind).
		Str("path", s.opts.Launch.Path).
		Str("display", s.opts.Launch.DisplayID).
		Int("pid", s.sup.PID()).
		Msg("Waiting for player window")

	handles, err := s.ready.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		waitErr := fmt.Errorf("player did not report its window: %w", ctx.Err())
		if s.ready.Reject(waitErr) {
			err = waitErr
		} else {
			// Settled around the deadline; that result stands
			handles, err = s.ready.Wait(context.Background())
		}
	}

	if err != nil {
		metrics.ShowDuration.WithLabelValues(kind, "failure").Observe(time.Since(start).Seconds())
		s.log.Warn().Err(err).Msg("Player failed to show")
		s.Terminate()
		return err
	}

	metrics.ShowDuration.WithLabelValues(kind, "success").Observe(time.Since(start).Seconds())
	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateRunning
	}
	s.mu.Unlock()

	s.log.Info().
		Uint32("window", handles.Window).
		Uint32("input", handles.Input).
		Dur("elapsed", time.Since(start)).
		Msg("Player window ready")
	return nil
}

// run is the session actor. It exits after the player's exit is handled.
func (s *Session) run() {
	defer close(s.actorDone)
	for fn := range s.inbox {
		fn()
		select {
		case <-s.exited:
			return
		default:
		}
	}
}

// post queues fn on the actor. It reports false once the actor has stopped.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.actorDone:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.actorDone:
		return false
	}
}

func (s *Session) onMessage(msg ipc.Message) {
	s.post(func() { s.handleMessage(msg) })
}

func (s *Session) handleMessage(msg ipc.Message) {
	switch m := msg.(type) {
	case ipc.Hwnd:
		s.handleHwnd(m)
	case ipc.WallpaperLoaded:
		s.handleLoaded(m)
	case ipc.Screenshot:
		s.handleScreenshot(m)
	case ipc.Console:
		s.handleConsole(m)
	default:
		s.log.Debug().Str("type", msg.Type().String()).Msg("Ignoring unexpected message from player")
	}
}

func (s *Session) handleHwnd(m ipc.Hwnd) {
	if s.ready.Settled() {
		s.log.Debug().Int64("hwnd", m.Hwnd).Msg("Ignoring repeated window report")
		return
	}

	handles, err := s.opts.Resolver.Resolve(m.Hwnd, s.sup.PID(), s.policy.NeedsInput)
	if err != nil {
		s.log.Error().Err(err).Int64("hwnd", m.Hwnd).Msg("Failed to resolve player window")
		s.ready.Reject(err)
		return
	}

	if s.opts.Shell != nil {
		if err := s.opts.Shell.RemoveFromTaskSwitcher(handles.Window); err != nil {
			s.log.Warn().Err(err).Uint32("window", handles.Window).Msg("Failed to hide player from task switcher")
		}
	}

	s.mu.Lock()
	s.handles = handles
	s.mu.Unlock()
	s.ready.Resolve(handles)
}

func (s *Session) handleLoaded(m ipc.WallpaperLoaded) {
	s.mu.Lock()
	s.loaded = m.Success
	s.mu.Unlock()

	s.log.Info().Bool("success", m.Success).Msg("Wallpaper loaded")
	s.publish(pubsub.LoadedEvent, Event{Success: m.Success})

	if !m.Success || s.opts.Renderers == nil {
		return
	}
	pid, err := s.opts.Renderers.FindRenderer(s.sup.PID())
	if err != nil {
		s.log.Debug().Err(err).Msg("No renderer process, pause will be a no-op")
		return
	}
	s.mu.Lock()
	s.rendererPID = pid
	s.mu.Unlock()
	s.log.Debug().Int("renderer_pid", pid).Msg("Found renderer process")
}

func (s *Session) handleScreenshot(m ipc.Screenshot) {
	s.mu.Lock()
	shot := s.shot
	s.mu.Unlock()

	if shot == nil || filepath.Base(m.FileName) != shot.fileName {
		s.log.Debug().Str("file", m.FileName).Msg("Ignoring unmatched screenshot result")
		return
	}
	shot.result.Resolve(m.Success)
}

func (s *Session) handleConsole(m ipc.Console) {
	var ev *zerolog.Event
	switch m.Category {
	case ipc.ConsoleError:
		ev = s.log.Warn()
	case ipc.ConsoleLog:
		ev = s.log.Info()
	default:
		ev = s.log.Debug()
	}
	ev.Str("category", m.Category.String()).Msg(m.Message)
	s.publish(pubsub.ConsoleEvent, Event{Message: m.Message})
}

func (s *Session) handleExit(status process.ExitStatus) {
	s.mu.Lock()
	s.state = StateExited
	shot := s.shot
	s.mu.Unlock()

	s.ready.Reject(fmt.Errorf("%w (exit code %d)", ErrProcessNeverInitialized, status.Code))
	if shot != nil {
		shot.result.Resolve(false)
	}
	if ch := s.ch.Load(); ch != nil {
		ch.CloseWrite()
	}

	kind := string(s.opts.Kind)
	metrics.SessionsActive.WithLabelValues(kind).Dec()
	if status.ForceKilled {
		metrics.ForceKills.WithLabelValues(kind).Inc()
	}

	s.log.Info().
		Int("exit_code", status.Code).
		Bool("force_killed", status.ForceKilled).
		Msg("Player exited")
	s.publish(pubsub.ExitedEvent, Event{ExitCode: status.Code})
	close(s.exited)
}

func (s *Session) handleLaunchFailure() {
	s.mu.Lock()
	s.state = StateExited
	s.mu.Unlock()
	s.ready.Reject(ErrProcessNeverInitialized)
	close(s.exited)
}

func (s *Session) publish(eventType pubsub.EventType, ev Event) {
	if s.opts.Events == nil {
		return
	}
	ev.SessionID = s.opts.ID
	ev.Instance = s.instance
	ev.Kind = s.opts.Kind
	ev.Display = s.opts.Launch.DisplayID
	ev.Path = s.opts.Launch.Path
	s.opts.Events.Publish(eventType, ev)
}

// send writes to the player. Failures are logged by the channel.
func (s *Session) send(msg ipc.Message) {
	ch := s.ch.Load()
	if ch == nil {
		s.log.Debug().Str("type", msg.Type().String()).Msg("Player not started, dropping message")
		return
	}
	_ = ch.Send(msg)
}

// Pause freezes the renderer and tells the content to stop its timers. It
// does nothing until the renderer process is known.
func (s *Session) Pause() {
	pid := s.RendererPID()
	if pid == 0 || s.IsExited() {
		s.log.Debug().Msg("Pause ignored, no renderer")
		return
	}
	if s.opts.Suspender != nil {
		if err := s.opts.Suspender.Suspend(pid); err != nil {
			s.log.Warn().Err(err).Int("renderer_pid", pid).Msg("Failed to suspend renderer")
		}
	}
	s.send(ipc.Suspend{})
}

// Play reverses Pause
func (s *Session) Play() {
	pid := s.RendererPID()
	if pid == 0 || s.IsExited() {
		s.log.Debug().Msg("Play ignored, no renderer")
		return
	}
	if s.opts.Suspender != nil {
		if err := s.opts.Suspender.Resume(pid); err != nil {
			s.log.Warn().Err(err).Int("renderer_pid", pid).Msg("Failed to resume renderer")
		}
	}
	s.send(ipc.Resume{})
}

// Stop is Pause
func (s *Session) Stop() {
	s.Pause()
}

// SetVolume sets the audio volume, clamped to 0-100
func (s *Session) SetVolume(volume int) {
	s.send(ipc.Volume{Volume: min(max(volume, 0), 100)})
}

// SetPlaybackPos seeks. Position 0 with an absolute kind reloads the content
// from the start instead.
func (s *Session) SetPlaybackPos(pos float64, kind ipc.PlaybackPosType) {
	if pos == 0 && kind != ipc.RelativePercent {
		s.send(ipc.Reload{})
		return
	}
	s.send(ipc.Seek{Position: pos, Kind: kind})
}

// Reload asks the player to reload its content
func (s *Session) Reload() {
	s.send(ipc.Reload{})
}

// SendMessage writes an arbitrary message to the player
func (s *Session) SendMessage(msg ipc.Message) {
	s.send(msg)
}

// Screenshot saves an image of the wallpaper to path, in the format named by
// its extension. It reports false when the player failed or went away. One
// screenshot at a time; overlapping calls get ErrScreenshotPending.
func (s *Session) Screenshot(ctx context.Context, path string) (bool, error) {
	format, err := ipc.FormatFromExtension(filepath.Ext(path))
	if err != nil {
		return false, err
	}

	if !s.policy.ChildScreenshot {
		return s.captureOnHost(path, format)
	}

	target, requested := path, format
	if format == ipc.FormatBMP {
		// Players only write jpeg/png/webp
		target = filepath.Join(os.TempDir(), fmt.Sprintf("livelyd-%d-%d.png", s.instance, time.Now().UnixNano()))
		requested = ipc.FormatPNG
		defer os.Remove(target)
	}

	shot := &pendingShot{fileName: filepath.Base(target), result: future.New[bool]()}
	s.mu.Lock()
	if s.shot != nil {
		s.mu.Unlock()
		return false, ErrScreenshotPending
	}
	if s.state == StateExited {
		s.mu.Unlock()
		s.log.Debug().Msg("Screenshot ignored, player exited")
		return false, nil
	}
	s.shot = shot
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.shot == shot {
			s.shot = nil
		}
		s.mu.Unlock()
	}()

	ch := s.ch.Load()
	if ch == nil {
		return false, nil
	}
	abandoned := make(chan struct{})
	defer close(abandoned)
	go s.failShotOnClose(ch, shot, abandoned)

	s.send(ipc.ScreenshotRequest{Format: requested, FilePath: target})

	ok, err := shot.result.Wait(ctx)
	if err != nil || !ok {
		return false, err
	}

	if format == ipc.FormatBMP {
		if err := output.Convert(target, path, ipc.FormatBMP); err != nil {
			return false, err
		}
	}
	s.log.Debug().Str("path", path).Msg("Screenshot saved")
	return true, nil
}

// failShotOnClose settles shot as failed once the player's output closes.
// It goes through the actor so a reply read just before closure still wins.
// It returns early when the shot resolves or the caller stops waiting.
func (s *Session) failShotOnClose(ch *channel.Channel, shot *pendingShot, abandoned <-chan struct{}) {
	select {
	case <-ch.Done():
		if !s.post(func() { shot.result.Resolve(false) }) {
			shot.result.Resolve(false)
		}
	case <-shot.result.Done():
	case <-abandoned:
	}
}

func (s *Session) captureOnHost(path string, format ipc.ScreenshotFormat) (bool, error) {
	if s.opts.Capturer == nil {
		return false, ErrCaptureUnavailable
	}
	win := s.Handle()
	if win == 0 || s.IsExited() {
		return false, nil
	}

	img, err := s.opts.Capturer.CaptureWindow(win)
	if err != nil {
		return false, fmt.Errorf("failed to capture player window: %w", err)
	}
	if err := output.WriteFile(path, img, format); err != nil {
		return false, err
	}
	return true, nil
}

// Close shuts the player down according to the kind's policy: graceful
// kinds get cmd_close and the grace period before being killed.
func (s *Session) Close() {
	if s.State() == StateCreated || s.IsExited() {
		return
	}

	if s.policy.GracefulClose {
		s.send(ipc.Close{})
		select {
		case <-s.sup.Exited():
			s.log.Debug().Msg("Player closed gracefully")
		case <-time.After(s.opts.GracePeriod):
			s.log.Warn().Dur("grace_period", s.opts.GracePeriod).Msg("Player ignored close, terminating")
			s.Terminate()
		}
	} else {
		s.Terminate()
	}
	s.publish(pubsub.ClosedEvent, Event{})
}

// Terminate kills the player and refreshes the desktop
func (s *Session) Terminate() {
	if s.State() == StateCreated || s.sup.PID() == 0 {
		return
	}
	if err := s.sup.KillAndRefresh(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to terminate player")
	}
}

// Exited is closed once the player's exit has been handled
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// State returns the lifecycle stage
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Session) IsExited() bool {
	return s.State() == StateExited
}

func (s *Session) Handle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles.Window
}

func (s *Session) InputHandle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles.Input
}

// RendererPID returns the renderer process id, 0 if unknown
func (s *Session) RendererPID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendererPID
}

// ForceKilled reports whether the player had to be killed
func (s *Session) ForceKilled() bool {
	return s.sup.ForceKilled()
}

func (s *Session) PID() int                 { return s.sup.PID() }
func (s *Session) Display() display.Display { return s.opts.Display }
func (s *Session) Path() string             { return s.opts.Launch.Path }
func (s *Session) Kind() ContentKind        { return s.opts.Kind }
func (s *Session) Instance() int64          { return s.instance }
func (s *Session) ID() string               { return s.opts.ID }
