package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show observation counts",
	Long: `Count observations in the live log and every archive, overall and
per type. Undecodable lines are reported as corrupt, not counted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		st, err := p.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd, statsView{st})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
