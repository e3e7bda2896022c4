package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/formatter"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Show every CLI setting with the layer it came from.

Precedence, highest first:
  flags > LEARN_* environment > .learn/config.yaml > ~/.learn/config.yaml > defaults`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := config.Resolve(cfgFile, &config.Config{
			Root:        rootDir,
			Output:      output,
			Verbose:     verbose,
			LockTimeout: lockTimeout,
		})
		return printResult(cmd, resolvedView{*rc})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

type resolvedView struct {
	config.ResolvedConfig `yaml:",inline"`
}

func (v resolvedView) WriteTable(w io.Writer) error {
	t := formatter.NewTable(w, "SETTING", "VALUE", "SOURCE")
	for _, row := range []struct {
		name string
		r    config.Resolved
	}{
		{"output", v.Output},
		{"root", v.Root},
		{"verbose", v.Verbose},
		{"lock_timeout", v.LockTimeout},
		{"log_level", v.LogLevel},
	} {
		t.AddRow(row.name, fmt.Sprint(row.r.Value), string(row.r.Source))
	}
	return t.Render()
}
