package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/rs/zerolog"
)

// minCaptureSize skips tiny helper windows when searching for a surface
const minCaptureSize = 10

// X11Capturer captures windows with GetImage, through a Composite pixmap when
// the extension is available so obscured windows come out intact
type X11Capturer struct {
	conn             *xgb.Conn
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	mu               sync.Mutex
	log              *zerolog.Logger
}

// NewX11Capturer creates a capturer on an existing connection
func NewX11Capturer(conn *xgb.Conn) *X11Capturer {
	log := logger.WithComponent("x11-capturer")

	c := &X11Capturer{
		conn:   conn,
		screen: xproto.Setup(conn).DefaultScreen(conn),
		log:    log,
	}

	if err := composite.Init(conn); err != nil {
		log.Warn().Err(err).Msg("Composite extension not available, obscured windows may capture incorrectly")
	} else {
		c.compositeEnabled = true
	}
	return c
}

// CaptureWindow captures win, or its first viewable descendant when win
// itself has no visible surface
func (c *X11Capturer) CaptureWindow(id uint32) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	win := xproto.Window(id)
	attrs, err := xproto.GetWindowAttributes(c.conn, win).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window attributes: %w", err)
	}

	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		child, err := c.findCapturableChild(win)
		if err != nil {
			return nil, fmt.Errorf("no capturable window under 0x%x: %w", id, err)
		}
		win = child
	}

	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	c.log.Debug().
		Uint32("window", uint32(win)).
		Uint16("width", geom.Width).
		Uint16("height", geom.Height).
		Msg("Capturing window")

	return c.captureDrawable(win, geom)
}

func (c *X11Capturer) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(c.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}

	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(c.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}

		if attrs.Class == xproto.WindowClassInputOutput &&
			attrs.MapState == xproto.MapStateViewable &&
			geom.Width > minCaptureSize && geom.Height > minCaptureSize {
			return child, nil
		}

		if grandchild, err := c.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}

	return 0, fmt.Errorf("no viewable child")
}

func (c *X11Capturer) captureDrawable(win xproto.Window, geom *xproto.GetGeometryReply) (*image.RGBA, error) {
	drawable := xproto.Drawable(win)

	if c.compositeEnabled {
		if pixmap, release, err := c.namePixmap(win); err != nil {
			c.log.Debug().Err(err).Uint32("window", uint32(win)).Msg("Composite pixmap unavailable, capturing window directly")
		} else {
			defer release()
			drawable = xproto.Drawable(pixmap)
		}
	}

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		geom.Width, geom.Height,
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return convertImageData(reply.Data, int(geom.Width), int(geom.Height), int(c.screen.RootDepth)), nil
}

// namePixmap redirects win offscreen and names its backing pixmap. release
// undoes both.
func (c *X11Capturer) namePixmap(win xproto.Window) (xproto.Pixmap, func(), error) {
	if err := composite.RedirectWindowChecked(c.conn, win, composite.RedirectAutomatic).Check(); err != nil {
		return 0, nil, fmt.Errorf("failed to redirect window: %w", err)
	}
	unredirect := func() { composite.UnredirectWindow(c.conn, win, composite.RedirectAutomatic) }

	pixmap, err := xproto.NewPixmapId(c.conn)
	if err != nil {
		unredirect()
		return 0, nil, fmt.Errorf("failed to allocate pixmap id: %w", err)
	}
	if err := composite.NameWindowPixmapChecked(c.conn, win, pixmap).Check(); err != nil {
		unredirect()
		return 0, nil, fmt.Errorf("failed to name window pixmap: %w", err)
	}

	return pixmap, func() {
		xproto.FreePixmap(c.conn, pixmap)
		unredirect()
	}, nil
}
