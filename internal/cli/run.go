package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled maintenance service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Execute one compact-repair-evaluate pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CycleOnce(cmd.Context())
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one cycle over synthetic in-memory data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context())
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the bucket coverage report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context())
	},
}
