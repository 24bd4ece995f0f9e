package window

import (
	"encoding/binary"
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	netWMStateAdd     = 1
	sourceApplication = 1
)

// X11 implements Tree and Shell on an X server connection
type X11 struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms *cache.Cache
	log   *zerolog.Logger
}

// NewX11 connects to the X server named by $DISPLAY
func NewX11() (*X11, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11{
		conn:  conn,
		root:  screen.Root,
		atoms: cache.New(cache.NoExpiration, 0),
		log:   logger.WithComponent("x11"),
	}, nil
}

// Conn returns the underlying connection for other X11 consumers
func (x *X11) Conn() *xgb.Conn {
	return x.conn
}

// Root returns the root window of the default screen
func (x *X11) Root() uint32 {
	return uint32(x.root)
}

// Close closes the X11 connection
func (x *X11) Close() error {
	x.conn.Close()
	return nil
}

// Exists reports whether the server knows the window
func (x *X11) Exists(win uint32) bool {
	_, err := xproto.GetGeometry(x.conn, xproto.Drawable(win)).Reply()
	return err == nil
}

// Children returns the direct children of win
func (x *X11) Children(win uint32) ([]uint32, error) {
	tree, err := xproto.QueryTree(x.conn, xproto.Window(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query tree of 0x%x: %w", win, err)
	}
	children := make([]uint32, len(tree.Children))
	for i, child := range tree.Children {
		children[i] = uint32(child)
	}
	return children, nil
}

// Class returns the WM_CLASS of win
func (x *X11) Class(win uint32) (string, string, error) {
	reply, err := xproto.GetProperty(
		x.conn,
		false,
		xproto.Window(win),
		xproto.AtomWmClass,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", "", err
	}
	if reply.ValueLen == 0 {
		return "", "", fmt.Errorf("window 0x%x has no WM_CLASS", win)
	}
	instance, class := parseClass(string(reply.Value))
	return instance, class, nil
}

// PID returns the _NET_WM_PID of win
func (x *X11) PID(win uint32) (int, error) {
	pidAtom, err := x.atom("_NET_WM_PID")
	if err != nil {
		return 0, err
	}

	reply, err := xproto.GetProperty(
		x.conn,
		false,
		xproto.Window(win),
		pidAtom,
		xproto.AtomCardinal,
		0,
		1,
	).Reply()
	if err != nil {
		return 0, err
	}
	if len(reply.Value) < 4 {
		return 0, fmt.Errorf("window 0x%x has no _NET_WM_PID", win)
	}
	return int(binary.LittleEndian.Uint32(reply.Value)), nil
}

// RemoveFromTaskSwitcher asks the window manager to skip win in taskbars and
// pagers
func (x *X11) RemoveFromTaskSwitcher(win uint32) error {
	state, err := x.atom("_NET_WM_STATE")
	if err != nil {
		return err
	}
	skipTaskbar, err := x.atom("_NET_WM_STATE_SKIP_TASKBAR")
	if err != nil {
		return err
	}
	skipPager, err := x.atom("_NET_WM_STATE_SKIP_PAGER")
	if err != nil {
		return err
	}

	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: xproto.Window(win),
		Type:   state,
		Data: xproto.ClientMessageDataUnionData32New([]uint32{
			netWMStateAdd,
			uint32(skipTaskbar),
			uint32(skipPager),
			sourceApplication,
			0,
		}),
	}

	const mask = xproto.EventMaskSubstructureNotify | xproto.EventMaskSubstructureRedirect
	if err := xproto.SendEventChecked(x.conn, false, x.root, mask, string(ev.Bytes())).Check(); err != nil {
		return fmt.Errorf("failed to update window state of 0x%x: %w", win, err)
	}

	x.log.Debug().Uint32("window", win).Msg("Removed window from task switcher")
	return nil
}

// RefreshDesktop clears the root window and generates exposures so the
// desktop behind a closed player is redrawn
func (x *X11) RefreshDesktop() error {
	if err := xproto.ClearAreaChecked(x.conn, true, x.root, 0, 0, 0, 0).Check(); err != nil {
		return fmt.Errorf("failed to refresh desktop: %w", err)
	}
	return nil
}

// atom interns name, caching the result for the life of the connection
func (x *X11) atom(name string) (xproto.Atom, error) {
	if cached, ok := x.atoms.Get(name); ok {
		return cached.(xproto.Atom), nil
	}

	reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	x.atoms.Set(name, reply.Atom, cache.NoExpiration)
	return reply.Atom, nil
}
