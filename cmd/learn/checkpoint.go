package main

import (
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Snapshot and restore the stores",
	Long: `Checkpoints capture observations, instincts, evolved artifacts and the
identity in one consistent snapshot.

Commands:
  create   Snapshot every store
  list     List checkpoints, oldest first
  restore  Replace every store with a checkpoint`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot every store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		c, err := p.CreateCheckpoint(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd, newCheckpointView(c))
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		list, err := p.Checkpoints(cmd.Context())
		if err != nil {
			return err
		}
		view := checkpointListView{Checkpoints: make([]checkpointView, 0, len(list))}
		for _, c := range list {
			view.Checkpoints = append(view.Checkpoints, newCheckpointView(c))
		}
		return printResult(cmd, view)
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <checkpoint-id>",
	Short: "Replace every store with a checkpoint",
	Long: `Restore every store to the state captured by a checkpoint. Entries
created after the checkpoint are removed. Checksums are verified before any
store is touched; an interrupted restore is completed on the next run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		if err := p.RestoreCheckpoint(cmd.Context(), args[0]); err != nil {
			return err
		}
		return printResult(cmd, restoreView{Restored: args[0]})
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	rootCmd.AddCommand(checkpointCmd)
}
