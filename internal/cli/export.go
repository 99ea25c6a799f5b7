package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"portfolio-balancer/internal/app"
)

var (
	exportSymbol    string
	exportFrom      string
	exportTo        string
	exportCSV       string
	exportPNG       string
	exportMaxPoints int
	exportPositions string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored price series or the positions snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportPositions != "" {
			return getApp().ExportPositions(cmd.Context(), exportPositions)
		}

		opts := app.ExportOptions{
			Symbol:    exportSymbol,
			CSVPath:   exportCSV,
			PNGPath:   exportPNG,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}
		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Asset symbol to export")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportCSV, "csv", "", "Write the series to this CSV path")
	exportCmd.Flags().StringVar(&exportPNG, "png", "", "Render the series to this PNG path")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points (0 uses config default)")
	exportCmd.Flags().StringVar(&exportPositions, "positions-csv", "", "Write the positions snapshot to this CSV path instead")
}
