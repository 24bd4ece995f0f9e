package commands

import (
	"fmt"
	"os"

	"github.com/livelyd/livelyd/internal/config"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	portFlag   int
	levelFlag  string
	prettyFlag bool

	rootCmd = &cobra.Command{
		Use:   "livelyd",
		Short: "livelyd - animated wallpapers for X11 desktops",
		Long: `livelyd runs web pages, videos and applications as desktop wallpapers.

Every wallpaper is rendered by its own player process. livelyd launches the
players, places their windows on the desktop, and controls them over a
line-delimited JSON protocol on stdin/stdout.

Features:
  • One wallpaper per display, restored on startup
  • Pause, resume, seek, volume and reload per wallpaper
  • Screenshots in jpg, png and bmp
  • Live reload of local web wallpapers
  • REST and websocket API with Prometheus metrics`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := levelFlag
			if level == "" {
				level = "info"
			}
			logger.Init(level, prettyFlag)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/livelyd/config.yaml)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "API server port (default is 8642)")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyFlag, "pretty", true, "human readable log output")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig opens the config file and layers the global flags over it
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("port") {
		configMgr.SetOverride("server_port", portFlag)
	}
	if flags.Changed("log-level") {
		configMgr.SetOverride("log_level", levelFlag)
	}

	// The file may choose a level when the flag doesn't
	if !flags.Changed("log-level") {
		logger.Init(configMgr.Get().LogLevel, prettyFlag)
	}
	return configMgr, nil
}
