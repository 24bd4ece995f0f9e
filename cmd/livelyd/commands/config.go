package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/livelyd/livelyd/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the livelyd config file",
	Long: `Read or change the settings livelyd starts with: API port, logging,
player programs, timeouts and the saved wallpaper layout.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration livelyd would run with. LIVELYD_* environment
variables and command line flags are applied on top of the file.`,
	Example: `  livelyd config show
  LIVELYD_VOLUME=20 livelyd config show -f json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Write one value to the config file",
	Long: `Write one value to the config file. The value is converted to the key's
type and the whole config is validated before it is saved. Separate list
items with commas.`,
	Example: `  livelyd config set grace_period 6s
  livelyd config set players.video.program /usr/local/bin/my-videoplayer
  livelyd config set input_window_classes Chrome_RenderWidgetHostHWND,chromium`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one effective value",
	Example: `  livelyd config get show_timeout
  livelyd config get players.web.program`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where the config file lives",
	RunE:  runConfigPath,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by get and set",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(strings.Join(config.Keys(), "\n"))
		return nil
	},
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configKeysCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return writeConfig(os.Stdout, configMgr.Get(), formatFlag)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		enc.SetIndent(2)
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unknown format %q, expected yaml or json", format)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var v any = value
	if strings.Contains(value, ",") {
		v = strings.Split(value, ",")
	}
	if err := configMgr.Set(key, v); err != nil {
		return err
	}

	fmt.Printf("%s = %s (saved to %s)\n", key, value, configMgr.GetConfigPath())
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	value, err := configMgr.Value(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
