package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/instinct"
)

var processMinConfidence float64

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Distil observations into instincts",
	Long: `Group every observation (archives and live log) by pattern key, score
each group and upsert the instinct records.

New patterns scoring under --min-confidence are discarded; instincts that
already exist are always refreshed. Interrupting a run commits the groups
already scored and reports the result as partial.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().Float64Var(&processMinConfidence, "min-confidence", 0, "Discard new patterns below this confidence (default from config)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	minConf := cfg.Process.MinConfidence
	if cmd.Flags().Changed("min-confidence") {
		minConf = processMinConfidence
	}
	if minConf < 0 || minConf > 1 {
		return fmt.Errorf("--min-confidence must be within [0,1], got %g", minConf)
	}

	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	result, err := p.Process(cmd.Context(), instinct.ProcessOptions{MinConfidence: minConf})
	if err != nil {
		if result.Partial && errors.Is(err, cmd.Context().Err()) {
			_ = printResult(cmd, processView{result}) //nolint:errcheck // the cancellation is reported instead
		}
		return err
	}
	return printResult(cmd, processView{result})
}
