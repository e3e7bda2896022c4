package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/formatter"
	"github.com/Integrum-Global/kailash-learn/internal/search"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <terms...>",
	Short: "Search instincts and evolved artifacts by keyword",
	Long: `Rank instincts and evolved artifacts by how many of the query terms they
contain. Pattern keys match whole or by part, so "bash" finds tool__bash.

Example:
  learn search import error --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		results, err := p.Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		return printResult(cmd, searchView{Results: results})
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum results (0 for all)")
	rootCmd.AddCommand(searchCmd)
}

type searchView struct {
	Results []search.Result `json:"results" yaml:"results"`
}

func (v searchView) WriteTable(w io.Writer) error {
	if len(v.Results) == 0 {
		_, err := fmt.Fprintln(w, "No matches.")
		return err
	}
	t := formatter.NewTable(w, "KIND", "ID", "SCORE")
	for _, r := range v.Results {
		t.AddRow(r.Kind, r.ID, strconv.Itoa(r.Score))
	}
	return t.Render()
}
