package main

import (
	"github.com/spf13/cobra"
)

var metricsTextfile string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print store metrics in the Prometheus text format",
	Long: `Measure every store and print the learn_* gauges in the Prometheus
exposition format. With --textfile the output is written atomically to a
file for the node_exporter textfile collector instead.

Example:
  learn metrics --textfile /var/lib/node_exporter/learn.prom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		if _, err := p.Snapshot(cmd.Context()); err != nil {
			return err
		}
		if metricsTextfile != "" {
			return p.Metrics().WriteTextfile(metricsTextfile)
		}
		return p.Metrics().WriteText(cmd.OutOrStdout())
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsTextfile, "textfile", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(metricsCmd)
}
