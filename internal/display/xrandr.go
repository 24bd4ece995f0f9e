package display

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/livelyd/livelyd/internal/logger"
)

// XRandR enumerates displays through the RandR extension
type XRandR struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
}

// NewXRandR initializes RandR on an existing connection
func NewXRandR(conn *xgb.Conn) (*XRandR, error) {
	if err := randr.Init(conn); err != nil {
		return nil, fmt.Errorf("failed to initialize RandR: %w", err)
	}
	setup := xproto.Setup(conn)
	return &XRandR{
		conn:   conn,
		screen: setup.DefaultScreen(conn),
	}, nil
}

// Enumerate returns every connected output that drives a CRTC. Without any,
// the whole screen is reported as a single display.
func (x *XRandR) Enumerate() ([]Display, error) {
	log := logger.WithComponent("display")

	res, err := randr.GetScreenResourcesCurrent(x.conn, x.screen.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(x.conn, x.screen.Root).Reply(); err == nil {
		primary = reply.Output
	}

	displays := make([]Display, 0, len(res.Outputs))
	for _, output := range res.Outputs {
		info, err := randr.GetOutputInfo(x.conn, output, res.ConfigTimestamp).Reply()
		if err != nil {
			log.Debug().Err(err).Uint32("output", uint32(output)).Msg("Skipping output")
			continue
		}
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}

		crtc, err := randr.GetCrtcInfo(x.conn, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			log.Debug().Err(err).Str("output", string(info.Name)).Msg("Skipping output without CRTC info")
			continue
		}

		name := string(info.Name)
		bounds := image.Rect(int(crtc.X), int(crtc.Y), int(crtc.X)+int(crtc.Width), int(crtc.Y)+int(crtc.Height))
		displays = append(displays, Display{
			ID:      name,
			Name:    fmt.Sprintf("%s %dx%d", name, bounds.Dx(), bounds.Dy()),
			Bounds:  bounds,
			Primary: output == primary,
		})
	}

	if len(displays) == 0 {
		w, h := int(x.screen.WidthInPixels), int(x.screen.HeightInPixels)
		displays = append(displays, Display{
			ID:      "screen",
			Name:    fmt.Sprintf("screen %dx%d", w, h),
			Bounds:  image.Rect(0, 0, w, h),
			Primary: true,
		})
	}

	arrange(displays)
	return displays, nil
}
