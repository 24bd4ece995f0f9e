package process

import (
	"errors"
	"fmt"
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// ErrRendererNotFound is returned when no descendant matches
var ErrRendererNotFound = errors.New("renderer process not found")

// DefaultRendererMarker identifies the GPU helper of Chromium-based players
const DefaultRendererMarker = "--type=gpu-process"

// maxRendererDepth bounds the descendant walk
const maxRendererDepth = 4

// RendererFinder locates the renderer helper among a player's descendants
type RendererFinder struct {
	// Markers are substrings of the helper's command line; any match wins
	Markers []string
}

// NewRendererFinder returns a finder for the given markers, falling back to
// DefaultRendererMarker when none are given.
func NewRendererFinder(markers ...string) *RendererFinder {
	if len(markers) == 0 {
		markers = []string{DefaultRendererMarker}
	}
	return &RendererFinder{Markers: markers}
}

// Matches reports whether a command line belongs to a renderer helper
func (f *RendererFinder) Matches(cmdline string) bool {
	for _, marker := range f.Markers {
		if marker != "" && strings.Contains(cmdline, marker) {
			return true
		}
	}
	return false
}

// FindRenderer walks the process tree under pid breadth-first and returns the
// first process whose command line matches.
func (f *RendererFinder) FindRenderer(pid int) (int, error) {
	root, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return 0, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	level := []*gopsprocess.Process{root}
	for depth := 0; depth < maxRendererDepth && len(level) > 0; depth++ {
		var next []*gopsprocess.Process
		for _, p := range level {
			children, err := p.Children()
			if err != nil {
				// gopsutil reports "no children" as an error
				continue
			}
			for _, child := range children {
				cmdline, err := child.Cmdline()
				if err == nil && f.Matches(cmdline) {
					return int(child.Pid), nil
				}
				next = append(next, child)
			}
		}
		level = next
	}

	return 0, fmt.Errorf("%w under pid %d", ErrRendererNotFound, pid)
}

// Suspender pauses and resumes whole processes
type Suspender struct{}

// Suspend stops the process (SIGSTOP on unix)
func (Suspender) Suspend(pid int) error {
	p, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	if err := p.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend process %d: %w", pid, err)
	}
	return nil
}

// Resume continues a suspended process (SIGCONT on unix)
func (Suspender) Resume(pid int) error {
	p, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	if err := p.Resume(); err != nil {
		return fmt.Errorf("failed to resume process %d: %w", pid, err)
	}
	return nil
}
