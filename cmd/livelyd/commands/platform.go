package commands

import (
	"fmt"

	"github.com/livelyd/livelyd/internal/capture"
	"github.com/livelyd/livelyd/internal/config"
	"github.com/livelyd/livelyd/internal/desktop"
	"github.com/livelyd/livelyd/internal/display"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/process"
	"github.com/livelyd/livelyd/internal/window"
)

// platform bundles the X11 services shared by the commands
type platform struct {
	x11      *window.X11
	displays *display.XRandR
}

func connectX11() (*platform, error) {
	log := logger.WithComponent("platform")

	log.Debug().Msg("Connecting to X11 server...")
	x, err := window.NewX11()
	if err != nil {
		return nil, err
	}

	displays, err := display.NewXRandR(x.Conn())
	if err != nil {
		x.Close()
		return nil, err
	}
	return &platform{x11: x, displays: displays}, nil
}

func (p *platform) Close() {
	p.x11.Close()
}

// newDesktop wires the platform services into a desktop manager
func (p *platform) newDesktop(configMgr *config.Manager) (*desktop.Manager, error) {
	cfg := configMgr.Get()

	mgr, err := desktop.NewManager(configMgr, desktop.Deps{
		Displays:  p.displays,
		Resolver:  window.NewResolver(p.x11, cfg.InputWindowClasses...),
		Shell:     p.x11,
		Renderers: process.NewRendererFinder(cfg.RendererMarkers...),
		Suspender: process.Suspender{},
		Capturer:  capture.NewX11Capturer(p.x11.Conn()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize desktop manager: %w", err)
	}
	return mgr, nil
}
