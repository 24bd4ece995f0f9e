package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test; it is the child the other tests spawn.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("HELPER_MODE") {
	case "exit":
		os.Exit(3)
	case "hwnd":
		fmt.Println(`{"Type":0,"Hwnd":42}`)
		os.Exit(0)
	case "block":
		time.Sleep(30 * time.Second)
	case "renderer":
		child := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", DefaultRendererMarker)
		child.Env = append(os.Environ(), "HELPER_MODE=block")
		if err := child.Start(); err != nil {
			os.Exit(2)
		}
		fmt.Println(child.Process.Pid)
		time.Sleep(30 * time.Second)
	}
}

func helperConfig(mode string) Config {
	return Config{
		Program: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
	}
}

type countingRefresher struct {
	calls atomic.Int32
}

func (r *countingRefresher) RefreshDesktop() error {
	r.calls.Add(1)
	return nil
}

func waitExited(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestSupervisor_LaunchFailure(t *testing.T) {
	s := NewSupervisor(Config{Program: "/nonexistent/livelyd-player"}, nil, nil)

	err := s.Start(nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProcessLaunch)

	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr))
	require.Equal(t, "/nonexistent/livelyd-player", launchErr.Program)
	require.Zero(t, s.PID())
	require.NoError(t, s.Terminate())
}

func TestSupervisor_ExitCallbackRunsOnce(t *testing.T) {
	s := NewSupervisor(helperConfig("exit"), nil, nil)

	var mu sync.Mutex
	var statuses []ExitStatus
	s.OnExit(func(st ExitStatus) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	})

	require.NoError(t, s.Start(nil))
	require.NotZero(t, s.PID())
	waitExited(t, s)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, statuses, 1)
	require.Equal(t, 3, statuses[0].Code)
	require.False(t, statuses[0].ForceKilled)
	require.Equal(t, statuses[0], s.ExitStatus())
	require.ErrorIs(t, s.Start(nil), ErrAlreadyStarted)
}

func TestSupervisor_OutputDrainedBeforeExitCallback(t *testing.T) {
	s := NewSupervisor(helperConfig("hwnd"), nil, nil)

	var line atomic.Value
	exitSawLine := make(chan bool, 1)
	s.OnExit(func(ExitStatus) {
		exitSawLine <- line.Load() != nil
	})

	require.NoError(t, s.Start(func(stdout io.ReadCloser, _ io.WriteCloser) <-chan struct{} {
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				line.Store(scanner.Text())
			}
		}()
		return drained
	}))

	select {
	case saw := <-exitSawLine:
		require.True(t, saw)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}
	require.Equal(t, `{"Type":0,"Hwnd":42}`, line.Load())
}

func TestSupervisor_TerminateIsIdempotent(t *testing.T) {
	s := NewSupervisor(helperConfig("block"), nil, nil)

	exits := make(chan ExitStatus, 2)
	s.OnExit(func(st ExitStatus) { exits <- st })

	require.NoError(t, s.Start(nil))
	require.False(t, s.HasExited())

	require.NoError(t, s.Terminate())
	require.NoError(t, s.Terminate())
	waitExited(t, s)

	st := <-exits
	require.True(t, st.ForceKilled)
	require.True(t, s.ForceKilled())
	require.Empty(t, exits)
}

func TestSupervisor_TerminateAfterNaturalExit(t *testing.T) {
	s := NewSupervisor(helperConfig("exit"), nil, nil)
	require.NoError(t, s.Start(nil))
	waitExited(t, s)

	require.NoError(t, s.Terminate())
	require.False(t, s.ForceKilled())
}

func TestSupervisor_TerminateBeforeStart(t *testing.T) {
	s := NewSupervisor(helperConfig("block"), nil, nil)
	require.NoError(t, s.Terminate())
	require.False(t, s.ForceKilled())
}

func TestSupervisor_KillAndRefresh(t *testing.T) {
	refresher := &countingRefresher{}
	s := NewSupervisor(helperConfig("block"), refresher, nil)
	require.NoError(t, s.Start(nil))

	require.NoError(t, s.KillAndRefresh())
	waitExited(t, s)
	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestRendererFinder_FindsMarkedDescendant(t *testing.T) {
	if _, err := exec.LookPath("pgrep"); err != nil {
		t.Skip("pgrep not available")
	}

	s := NewSupervisor(helperConfig("renderer"), nil, nil)
	pidLine := make(chan string, 1)
	require.NoError(t, s.Start(func(stdout io.ReadCloser, _ io.WriteCloser) <-chan struct{} {
		go func() {
			scanner := bufio.NewScanner(stdout)
			if scanner.Scan() {
				pidLine <- scanner.Text()
			}
			io.Copy(io.Discard, stdout)
		}()
		return nil
	}))
	t.Cleanup(func() { _ = s.Terminate() })

	var want int
	select {
	case l := <-pidLine:
		var err error
		want, err = strconv.Atoi(l)
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not report its child")
	}

	var got int
	require.Eventually(t, func() bool {
		pid, err := NewRendererFinder().FindRenderer(s.PID())
		got = pid
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, want, got)
}

func TestRendererFinder_NoMatch(t *testing.T) {
	_, err := NewRendererFinder("--type=never-present").FindRenderer(os.Getpid())
	require.ErrorIs(t, err, ErrRendererNotFound)
}

func TestRendererFinder_Matches(t *testing.T) {
	f := NewRendererFinder()
	require.True(t, f.Matches("/opt/player --type=gpu-process --flag"))
	require.False(t, f.Matches("/opt/player --type=renderer"))
	require.False(t, NewRendererFinder("").Matches("anything"))
}
