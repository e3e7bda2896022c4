package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/evolve"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

var (
	evolveDryRun   bool
	evolveCategory string
)

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Evolve high-confidence instincts into artifacts",
	Long: `Write a skill, command or agent document for every instinct that passes
the threshold of its target category, and record provenance for each write.

Artifacts whose instinct has fallen under its threshold are flagged stale,
never deleted.

Examples:
  learn evolve --dry-run
  learn evolve --category skills`,
	Args: cobra.NoArgs,
	RunE: runEvolve,
}

func init() {
	evolveCmd.Flags().BoolVar(&evolveDryRun, "dry-run", false, "Report what would change without writing")
	evolveCmd.Flags().StringVar(&evolveCategory, "category", "", "Only evolve into this category (skill, command, agent)")
	rootCmd.AddCommand(evolveCmd)
}

func runEvolve(cmd *cobra.Command, args []string) error {
	opts := evolve.EvolveOptions{DryRun: evolveDryRun}
	if evolveCategory != "" {
		c, ok := types.ParseArtifactCategory(evolveCategory)
		if !ok {
			return fmt.Errorf("unknown category %q", evolveCategory)
		}
		opts.Category = c
	}

	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	result, err := p.Evolve(cmd.Context(), opts)
	if err != nil {
		return err
	}
	return printResult(cmd, evolveView{result})
}
