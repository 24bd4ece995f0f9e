package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var displaysCmd = &cobra.Command{
	Use:   "displays",
	Short: "List connected displays",
	Long: `List the displays wallpapers can be assigned to.

The ID column is what --display and the API's "display" field expect.`,
	Example: `  # List displays in table format (default)
  livelyd displays

  # List displays in JSON format
  livelyd displays --format json`,
	RunE: runDisplays,
}

var displaysFormat string

func init() {
	rootCmd.AddCommand(displaysCmd)

	displaysCmd.Flags().StringVarP(&displaysFormat, "format", "f", "table", "output format (table or json)")
}

func runDisplays(cmd *cobra.Command, args []string) error {
	p, err := connectX11()
	if err != nil {
		return err
	}
	defer p.Close()

	displays, err := p.displays.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate displays: %w", err)
	}

	switch displaysFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(displays)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tGEOMETRY\tPRIMARY")
		for _, d := range displays {
			primary := ""
			if d.Primary {
				primary = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Geometry(), primary)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", displaysFormat)
	}
}
