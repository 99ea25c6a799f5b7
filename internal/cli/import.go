package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"portfolio-balancer/internal/app"
)

var importPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a positions snapshot CSV into the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importPath == "" {
			return fmt.Errorf("--file must be provided")
		}
		return getApp().Import(cmd.Context(), app.ImportOptions{Path: importPath})
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "Path to the positions snapshot CSV")
}
