package window

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type node struct {
	instance string
	class    string
	pid      int
	children []uint32
}

type fakeTree map[uint32]node

func (f fakeTree) Exists(win uint32) bool {
	_, ok := f[win]
	return ok
}

func (f fakeTree) Children(win uint32) ([]uint32, error) {
	n, ok := f[win]
	if !ok {
		return nil, errors.New("bad window")
	}
	return n.children, nil
}

func (f fakeTree) Class(win uint32) (string, string, error) {
	n, ok := f[win]
	if !ok || (n.instance == "" && n.class == "") {
		return "", "", errors.New("no class")
	}
	return n.instance, n.class, nil
}

func (f fakeTree) PID(win uint32) (int, error) {
	n, ok := f[win]
	if !ok || n.pid == 0 {
		return 0, errors.New("no pid")
	}
	return n.pid, nil
}

func browserTree() fakeTree {
	return fakeTree{
		0x100: {instance: "player", class: "Player", pid: 42, children: []uint32{0x101, 0x102}},
		0x101: {instance: "decoration", class: "Frame"},
		0x102: {children: []uint32{0x103}},
		0x103: {instance: "chromium", class: "Chromium"},
	}
}

func TestResolve_RejectsInvalidHandles(t *testing.T) {
	r := NewResolver(browserTree())

	for _, hwnd := range []int64{0, -1, 1 << 40} {
		_, err := r.Resolve(hwnd, 42, false)
		require.ErrorIs(t, err, ErrWindowResolution, "hwnd %d", hwnd)
	}
}

func TestResolve_MissingWindow(t *testing.T) {
	_, err := NewResolver(browserTree()).Resolve(0x999, 42, false)
	require.ErrorIs(t, err, ErrWindowResolution)
}

func TestResolve_TopLevelOnly(t *testing.T) {
	h, err := NewResolver(browserTree()).Resolve(0x100, 42, false)
	require.NoError(t, err)
	require.Equal(t, Handles{Window: 0x100}, h)
}

func TestResolve_FindsNestedInputWindow(t *testing.T) {
	h, err := NewResolver(browserTree()).Resolve(0x100, 42, true)
	require.NoError(t, err)
	require.Equal(t, Handles{Window: 0x100, Input: 0x103}, h)
}

func TestResolve_CustomInputClass(t *testing.T) {
	h, err := NewResolver(browserTree(), "frame").Resolve(0x100, 0, true)
	require.NoError(t, err)
	require.Equal(t, uint32(0x101), h.Input)
}

func TestResolve_InputRequiredButAbsent(t *testing.T) {
	tree := fakeTree{
		0x200: {instance: "mpv", class: "mpv", pid: 7},
	}
	_, err := NewResolver(tree).Resolve(0x200, 7, true)
	require.ErrorIs(t, err, ErrWindowResolution)
}

func TestResolve_PIDMismatchStillResolves(t *testing.T) {
	h, err := NewResolver(browserTree()).Resolve(0x100, 4242, false)
	require.NoError(t, err)
	require.Equal(t, uint32(0x100), h.Window)
}

func TestParseClass(t *testing.T) {
	instance, class := parseClass("chromium\x00Chromium\x00")
	require.Equal(t, "chromium", instance)
	require.Equal(t, "Chromium", class)

	instance, class = parseClass("solo")
	require.Equal(t, "solo", instance)
	require.Empty(t, class)
}
