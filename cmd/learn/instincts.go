package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

var (
	instinctsCategory      string
	instinctsSource        string
	instinctsMinConfidence float64
)

var instinctsCmd = &cobra.Command{
	Use:   "instincts",
	Short: "List or import instincts",
	Long: `Instincts are the scored patterns distilled from observations. Personal
instincts come from processing; inherited ones are imported from elsewhere
and never modified by processing.

Commands:
  list    List instincts
  import  Import instinct records into the inherited store`,
}

var instinctsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instincts",
	Long: `List instincts sorted by id. A personal instinct hides an inherited
one with the same id.

Examples:
  learn instincts list --min-confidence 0.7
  learn instincts list --source inherited -o table`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch instinctsSource {
		case "", types.SourcePersonal, types.SourceInherited:
		default:
			return fmt.Errorf("--source must be %s or %s", types.SourcePersonal, types.SourceInherited)
		}
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		list, err := p.Instincts(cmd.Context(), instinct.ListOptions{
			Category:      instinctsCategory,
			Source:        instinctsSource,
			MinConfidence: instinctsMinConfidence,
		})
		if err != nil {
			return err
		}
		if list == nil {
			list = []types.Instinct{}
		}
		return printResult(cmd, instinctListView{Instincts: list})
	},
}

var instinctsImportCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import instinct records",
	Long: `Import a JSON instinct record, or every .json record in a directory,
into the inherited store. Invalid records are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		result, err := p.Import(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd, importView{result})
	},
}

func init() {
	instinctsListCmd.Flags().StringVar(&instinctsCategory, "category", "", "Only this instinct category")
	instinctsListCmd.Flags().StringVar(&instinctsSource, "source", "", "Only personal or inherited instincts")
	instinctsListCmd.Flags().Float64Var(&instinctsMinConfidence, "min-confidence", 0, "Only instincts at or above this confidence")

	instinctsCmd.AddCommand(instinctsListCmd)
	instinctsCmd.AddCommand(instinctsImportCmd)
	rootCmd.AddCommand(instinctsCmd)
}
