package main

import (
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace <artifact>",
	Short: "Trace the provenance of an evolved artifact",
	Long: `Show every write of an artifact with the instinct it came from and the
confidence and evidence at the time. The artifact may be given by id or by
its path relative to the storage root.

Examples:
  learn trace 3f2a9c1e
  learn trace evolved/skills/3f2a9c1e.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		result, err := p.Trace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, traceView{*result})
	},
}

func init() {
	rootCmd.AddCommand(traceCmd)
}
