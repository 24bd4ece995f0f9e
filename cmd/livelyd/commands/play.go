package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/livelyd/livelyd/internal/desktop"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/pubsub"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play KIND PATH [-- PLAYER_ARGS...]",
	Short: "Show one wallpaper in the foreground",
	Long: `Show a single wallpaper without starting the API server.

KIND is web, video or app. The wallpaper runs until Ctrl+C or until its player
exits. Player console output is logged. Arguments after -- are passed to the
player with their long flags namespaced as --user-*.`,
	Example: `  # Play a local video on the primary display
  livelyd play video ~/Videos/rain.mp4

  # Show a web page on a specific output
  livelyd play web https://example.com --online --display HDMI-1

  # Pass extra flags to the player
  livelyd play web ~/walls/clock/index.html -- --fps 30`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPlay,
}

var (
	playDisplay string
	playOnline  bool
)

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVarP(&playDisplay, "display", "d", "", "target display id (default is the primary display)")
	playCmd.Flags().BoolVar(&playOnline, "online", false, "treat PATH as a remote URL")
}

func runPlay(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("play")

	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	p, err := connectX11()
	if err != nil {
		return err
	}
	defer p.Close()

	desktopMgr, err := p.newDesktop(configMgr)
	if err != nil {
		return err
	}
	defer desktopMgr.Shutdown()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	events := desktopMgr.Events().Subscribe(ctx)

	info, err := desktopMgr.SetWallpaper(ctx, desktop.Request{
		Display: playDisplay,
		Kind:    args[0],
		Path:    args[1],
		Online:  playOnline,
		Args:    args[2:],
	})
	if err != nil {
		return err
	}
	log.Info().Str("session", info.ID).Str("display", info.Display).Int("pid", info.PID).Msg("Wallpaper running, press Ctrl+C to stop")

	sess, err := desktopMgr.Get(info.ID)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			log.Info().Msg("Closing wallpaper...")
			return desktopMgr.Close(info.ID)
		case <-sess.Exited():
			log.Info().Msg("Player exited")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case pubsub.ConsoleEvent:
				log.Info().Str("source", "player").Msg(ev.Payload.Message)
			case pubsub.LoadedEvent:
				log.Info().Bool("success", ev.Payload.Success).Msg("Wallpaper loaded")
			}
		}
	}
}
