package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kagesort/prdl/internal/output"
	"github.com/kagesort/prdl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [dir]",
		Short: "Remove the module's log file from dir (defaults to writepath)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := writePath
			if len(args) == 1 {
				dir = args[0]
			}
			if err := utils.CleanLogFile(dir); err != nil {
				fatal("cleaning %s: %v", dir, err)
			}
			output.PrintSuccess("Cleaned up")
		},
	}
}
