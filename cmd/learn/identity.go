package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

var (
	thresholdConfidence      float64
	thresholdMinObservations int
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show or change the pipeline identity",
	Long: `The identity (identity.json under the storage root) holds the enabled
observation types, the evolution thresholds and the instinct category
routing. It is created with defaults on first use.

Commands:
  show           Print the identity
  set-threshold  Change the gate of an artifact category
  enable         Accept an observation type
  disable        Reject an observation type
  set-target     Route an instinct category to an artifact category`,
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd)
		if err != nil {
			return err
		}
		return printResult(cmd, identityView{p.Identity()})
	},
}

var identitySetThresholdCmd = &cobra.Command{
	Use:   "set-threshold <category>",
	Short: "Change the gate of an artifact category",
	Long: `Change the confidence and observation-count gate an instinct must pass
to evolve into the category. Flags left unset keep their current value.

Example:
  learn identity set-threshold skill --confidence 0.8 --min-observations 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, ok := types.ParseArtifactCategory(args[0])
		if !ok {
			return fmt.Errorf("unknown artifact category %q", args[0])
		}
		return updateIdentity(cmd, func(id *config.Identity) error {
			th := id.Threshold(category)
			if cmd.Flags().Changed("confidence") {
				th.Confidence = thresholdConfidence
			}
			if cmd.Flags().Changed("min-observations") {
				th.MinObservations = thresholdMinObservations
			}
			return id.SetThreshold(category, th)
		})
	},
}

var identityEnableCmd = &cobra.Command{
	Use:   "enable <type>",
	Short: "Accept an observation type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateIdentity(cmd, func(id *config.Identity) error {
			return id.Enable(types.ObservationType(args[0]))
		})
	},
}

var identityDisableCmd = &cobra.Command{
	Use:   "disable <type>",
	Short: "Reject an observation type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateIdentity(cmd, func(id *config.Identity) error {
			return id.Disable(types.ObservationType(args[0]))
		})
	},
}

var identitySetTargetCmd = &cobra.Command{
	Use:   "set-target <instinct-category> <artifact-category>",
	Short: "Route an instinct category to an artifact category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, ok := types.ParseArtifactCategory(args[1])
		if !ok {
			return fmt.Errorf("unknown artifact category %q", args[1])
		}
		return updateIdentity(cmd, func(id *config.Identity) error {
			return id.SetTarget(args[0], target)
		})
	},
}

func init() {
	identitySetThresholdCmd.Flags().Float64Var(&thresholdConfidence, "confidence", 0, "Minimum confidence in [0,1]")
	identitySetThresholdCmd.Flags().IntVar(&thresholdMinObservations, "min-observations", 0, "Minimum observation count")

	identityCmd.AddCommand(identityShowCmd)
	identityCmd.AddCommand(identitySetThresholdCmd)
	identityCmd.AddCommand(identityEnableCmd)
	identityCmd.AddCommand(identityDisableCmd)
	identityCmd.AddCommand(identitySetTargetCmd)
	rootCmd.AddCommand(identityCmd)
}

// updateIdentity applies fn through the pipeline and prints the saved identity.
func updateIdentity(cmd *cobra.Command, fn func(*config.Identity) error) error {
	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	id, err := p.UpdateIdentity(fn)
	if err != nil {
		return err
	}
	return printResult(cmd, identityView{id})
}
