package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/livelyd/livelyd/internal/api"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wallpaper daemon",
	Long: `Start livelyd: restore the saved wallpapers and serve the control API.

On shutdown the running wallpapers are saved to the configuration so the next
start brings them back.`,
	Example: `  # Start on the default port (8642)
  livelyd serve

  # Start on a custom port
  livelyd serve --port 9090

  # Start with debug logging and without touching the saved layout
  livelyd serve --log-level debug --no-save`,
	RunE: runServe,
}

var (
	serveNoRestore bool
	serveNoSave    bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveNoRestore, "no-restore", false, "don't restore saved wallpapers")
	serveCmd.Flags().BoolVar(&serveNoSave, "no-save", false, "don't save the wallpaper layout on exit")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

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

	if !serveNoRestore {
		if err := desktopMgr.Restore(cmd.Context()); err != nil {
			log.Warn().Err(err).Msg("Some wallpapers could not be restored")
		}
	}

	server := api.NewServer(desktopMgr, configMgr)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info().
		Int("port", cfg.ServerPort).
		Int("wallpapers", len(desktopMgr.List())).
		Msg("livelyd is running, press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("API server did not stop cleanly")
	}

	if !serveNoSave {
		if err := desktopMgr.SaveLayout(); err != nil {
			log.Warn().Err(err).Msg("Failed to save wallpaper layout")
		}
	}
	return nil
}
