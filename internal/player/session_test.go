package player

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/livelyd/livelyd/internal/channel"
	"github.com/livelyd/livelyd/internal/future"
	"github.com/livelyd/livelyd/internal/ipc"
	"github.com/livelyd/livelyd/internal/output"
	"github.com/livelyd/livelyd/internal/process"
	"github.com/livelyd/livelyd/internal/pubsub"
	"github.com/livelyd/livelyd/internal/window"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func showCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSession_ShowLocalVideo(t *testing.T) {
	s, h := newHelperSession(t, "hwnd-loaded", KindVideo)

	require.NoError(t, s.Show(showCtx(t)))
	require.Equal(t, StateRunning, s.State())
	require.Equal(t, uint32(12345), s.Handle())
	require.Zero(t, s.InputHandle())
	require.NotZero(t, s.PID())

	require.Eventually(t, func() bool {
		for _, typ := range h.events.types() {
			if typ == pubsub.LoadedEvent {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, s.IsLoaded())

	h.shell.mu.Lock()
	require.Equal(t, []uint32{12345}, h.shell.hidden)
	h.shell.mu.Unlock()
}

func TestSession_ShowResolvesInputWindowForWeb(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindWeb)

	require.NoError(t, s.Show(showCtx(t)))
	require.Equal(t, uint32(12345), s.Handle())
	require.Equal(t, uint32(12346), s.InputHandle())
}

func TestSession_ShowFailsWhenPlayerExitsFirst(t *testing.T) {
	s, h := newHelperSession(t, "exit", KindVideo)

	err := s.Show(showCtx(t))
	require.ErrorIs(t, err, ErrProcessNeverInitialized)
	require.False(t, s.IsLoaded())
	waitSessionExit(t, s)
	require.True(t, s.IsExited())
	require.Contains(t, h.events.types(), pubsub.ExitedEvent)
}

func TestSession_ShowLaunchFailure(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindVideo, func(o *Options) {
		o.Program = "/nonexistent/livelyd-player"
		o.ProgramArgs = nil
	})

	err := s.Show(showCtx(t))
	require.ErrorIs(t, err, process.ErrProcessLaunch)
	waitSessionExit(t, s)
	require.ErrorIs(t, s.Show(showCtx(t)), ErrAlreadyShown)
}

func TestSession_ShowFailsOnWindowResolution(t *testing.T) {
	resolveErr := errors.Join(window.ErrWindowResolution, errors.New("no such window"))
	s, _ := newHelperSession(t, "hwnd-loaded", KindWeb, func(o *Options) {
		o.Resolver = fakeResolver{err: resolveErr}
	})

	err := s.Show(showCtx(t))
	require.ErrorIs(t, err, window.ErrWindowResolution)
	waitSessionExit(t, s)
	require.True(t, s.ForceKilled())
}

func TestSession_ShowHonoursContextDeadline(t *testing.T) {
	s, _ := newHelperSession(t, "silent", KindVideo)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := s.Show(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	waitSessionExit(t, s)
}

func TestSession_HandleReportBeforeExitWins(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-exit", KindVideo)

	require.NoError(t, s.Show(showCtx(t)))
	waitSessionExit(t, s)

	// The exit's rejection must not replace the earlier result
	handles, err := s.ready.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(12345), handles.Window)
	require.Equal(t, uint32(12345), s.Handle())
}

func TestSession_PauseWithoutRendererIsNoop(t *testing.T) {
	s, h := newHelperSession(t, "hwnd-loaded", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))
	require.Eventually(t, s.IsLoaded, 5*time.Second, 10*time.Millisecond)

	s.Pause()
	s.Stop()
	s.Play()
	s.SetVolume(30)

	// Echoes arrive in order, so anything sent before the volume shows up first
	h.events.waitEcho(t, `"Type":9`)
	for _, line := range h.events.consoleLines() {
		require.NotContains(t, line, `"Type":7`)
		require.NotContains(t, line, `"Type":8`)
	}
	require.Empty(t, h.suspender.Calls())
}

func TestSession_PauseAndPlayWithRenderer(t *testing.T) {
	s, h := newHelperSession(t, "hwnd-loaded", KindWeb, func(o *Options) {
		o.Renderers = fakeRenderers{pid: 4242}
	})
	require.NoError(t, s.Show(showCtx(t)))
	require.Eventually(t, func() bool { return s.RendererPID() == 4242 }, 5*time.Second, 10*time.Millisecond)

	s.Pause()
	h.events.waitEcho(t, `{"Type":7}`)
	s.Play()
	h.events.waitEcho(t, `{"Type":8}`)

	require.Equal(t, []string{"suspend 4242", "resume 4242"}, h.suspender.Calls())
}

func TestSession_VolumeAndPlaybackPosition(t *testing.T) {
	s, h := newHelperSession(t, "hwnd-loaded", KindVideo)
	require.NoError(t, s.Show(showCtx(t)))

	s.SetVolume(150)
	h.events.waitEcho(t, `{"Type":9,"Volume":100}`)

	s.SetPlaybackPos(0, ipc.AbsolutePercent)
	h.events.waitEcho(t, `{"Type":4}`)

	s.SetPlaybackPos(0, ipc.RelativePercent)
	h.events.waitEcho(t, `{"Type":10,"Position":0,"Kind":1}`)

	s.SetPlaybackPos(42.5, ipc.AbsolutePercent)
	h.events.waitEcho(t, `{"Type":10,"Position":42.5,"Kind":0}`)

	s.SendMessage(ipc.Checkbox{Name: "rain", Value: true})
	h.events.waitEcho(t, `{"Type":14,"Name":"rain","Value":true}`)
}

func TestSession_ScreenshotMatchesFileName(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))

	path := filepath.Join(t.TempDir(), "shot.png")
	ok, err := s.Screenshot(showCtx(t), path)
	require.NoError(t, err)
	require.True(t, ok)
	require.FileExists(t, path)
}

func TestSession_ScreenshotIgnoresOtherFileNames(t *testing.T) {
	s, _ := newHelperSession(t, "shot-wrong-name", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ok, err := s.Screenshot(ctx, filepath.Join(t.TempDir(), "mine.png"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ok)
}

func TestSession_ScreenshotBMPIsReencoded(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))

	path := filepath.Join(t.TempDir(), "shot.bmp")
	ok, err := s.Screenshot(showCtx(t), path)
	require.NoError(t, err)
	require.True(t, ok)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
}

func TestSession_ScreenshotRejectsOverlap(t *testing.T) {
	s, _ := newHelperSession(t, "shot-wrong-name", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first := make(chan error, 1)
	go func() {
		_, err := s.Screenshot(ctx, filepath.Join(t.TempDir(), "a.png"))
		first <- err
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.shot != nil
	}, 5*time.Second, 5*time.Millisecond)

	_, err := s.Screenshot(ctx, filepath.Join(t.TempDir(), "b.png"))
	require.ErrorIs(t, err, ErrScreenshotPending)
	require.ErrorIs(t, <-first, context.DeadlineExceeded)
}

func TestSession_ScreenshotFailsWhenPlayerExits(t *testing.T) {
	s, _ := newHelperSession(t, "shot-wrong-name", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))

	result := make(chan bool, 1)
	go func() {
		ok, _ := s.Screenshot(showCtx(t), filepath.Join(t.TempDir(), "late.png"))
		result <- ok
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.shot != nil
	}, 5*time.Second, 5*time.Millisecond)

	s.Terminate()
	select {
	case ok := <-result:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("screenshot did not resolve on exit")
	}
}

func TestSession_AbandonedScreenshotStopsWatcher(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindWeb)

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	ch := channel.New(pr, io.Discard, nil, nil)
	ch.Start()

	shot := &pendingShot{fileName: "a.png", result: future.New[bool]()}
	abandoned := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		s.failShotOnClose(ch, shot, abandoned)
		close(stopped)
	}()

	close(abandoned)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher kept waiting after the caller gave up")
	}
	require.False(t, shot.result.Settled())
}

func TestSession_PostAfterActorStops(t *testing.T) {
	s, _ := newHelperSession(t, "exit", KindVideo)
	require.Error(t, s.Show(showCtx(t)))
	waitSessionExit(t, s)

	select {
	case <-s.actorDone:
	case <-time.After(5 * time.Second):
		t.Fatal("actor did not stop")
	}
	for i := 0; i < 100; i++ {
		require.False(t, s.post(func() {}))
	}
}

type fakeCapturer struct{}

func (fakeCapturer) CaptureWindow(uint32) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 3, 2)), nil
}

func TestSession_ScreenshotHostCaptureForApps(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-only", KindApp, func(o *Options) {
		o.Capturer = fakeCapturer{}
	})
	require.NoError(t, s.Show(showCtx(t)))

	path := filepath.Join(t.TempDir(), "app.jpg")
	ok, err := s.Screenshot(showCtx(t), path)
	require.NoError(t, err)
	require.True(t, ok)
	require.FileExists(t, path)

	_, err = s.Screenshot(showCtx(t), filepath.Join(t.TempDir(), "app.webp"))
	require.ErrorIs(t, err, output.ErrUnsupportedFormat)
}

func TestSession_CloseWebGraceful(t *testing.T) {
	s, h := newHelperSession(t, "hwnd-loaded", KindWeb)
	require.NoError(t, s.Show(showCtx(t)))

	s.Close()
	waitSessionExit(t, s)
	require.False(t, s.ForceKilled())
	require.Contains(t, h.events.types(), pubsub.ClosedEvent)
}

func TestSession_CloseWebForceKillsAfterGrace(t *testing.T) {
	s, h := newHelperSession(t, "stubborn", KindWeb, func(o *Options) {
		o.GracePeriod = 300 * time.Millisecond
	})
	require.NoError(t, s.Show(showCtx(t)))

	start := time.Now()
	s.Close()
	waitSessionExit(t, s)
	require.True(t, s.ForceKilled())
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	h.shell.mu.Lock()
	require.Equal(t, 1, h.shell.refreshes)
	h.shell.mu.Unlock()
}

func TestSession_CloseVideoKillsImmediately(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindVideo)
	require.NoError(t, s.Show(showCtx(t)))

	s.Close()
	waitSessionExit(t, s)
	require.True(t, s.ForceKilled())
}

func TestSession_CommandsAfterExitDoNotPanic(t *testing.T) {
	s, _ := newHelperSession(t, "exit", KindWeb, func(o *Options) {
		o.Renderers = fakeRenderers{pid: 1}
	})
	require.Error(t, s.Show(showCtx(t)))
	waitSessionExit(t, s)

	require.NotPanics(t, func() {
		s.Pause()
		s.Play()
		s.Stop()
		s.SetVolume(10)
		s.SetPlaybackPos(5, ipc.RelativePercent)
		s.Reload()
		s.SendMessage(ipc.Textbox{Name: "title", Value: "x"})
		s.Close()
		s.Terminate()
		s.Terminate()
	})

	ok, err := s.Screenshot(showCtx(t), filepath.Join(t.TempDir(), "gone.png"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSession_CommandsBeforeShowAreDropped(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindVideo)

	require.NotPanics(t, func() {
		s.SetVolume(10)
		s.Pause()
		s.Close()
		s.Terminate()
	})
	require.Equal(t, StateCreated, s.State())
}

func TestSession_LaunchArguments(t *testing.T) {
	s, _ := newHelperSession(t, "hwnd-loaded", KindVideo, func(o *Options) {
		o.Launch.ExtraArgs = []string{"--loop"}
	})

	require.Equal(t, "HDMI-1", s.opts.Launch.DisplayID)
	require.Equal(t, "1920x1080+0+0", s.opts.Launch.Geometry)
	require.Contains(t, s.opts.Launch.Args(), "--user-loop")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Web ")
	require.NoError(t, err)
	require.Equal(t, KindWeb, k)
	require.True(t, k.Policy().GracefulClose)
	require.False(t, KindVideo.Policy().GracefulClose)

	_, err = ParseKind("screensaver")
	require.Error(t, err)
}
