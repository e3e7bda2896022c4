package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/checkpoint"
	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/evolve"
	"github.com/Integrum-Global/kailash-learn/internal/formatter"
	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/observe"
	"github.com/Integrum-Global/kailash-learn/internal/provenance"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// printResult writes v to stdout in the resolved output format.
func printResult(cmd *cobra.Command, v any) error {
	return formatter.Write(cmd.OutOrStdout(), GetOutput(), v)
}

const timeLayout = "2006-01-02 15:04:05"

type recordView struct {
	ID        string                `json:"id" yaml:"id"`
	Type      types.ObservationType `json:"type" yaml:"type"`
	Timestamp time.Time             `json:"timestamp" yaml:"timestamp"`
}

func (v recordView) WriteTable(w io.Writer) error {
	t := formatter.NewTable(w, "ID", "TYPE", "TIMESTAMP")
	t.AddRow(v.ID, string(v.Type), v.Timestamp.Format(timeLayout))
	return t.Render()
}

type statsView struct {
	observe.Stats `yaml:",inline"`
}

func (v statsView) WriteTable(w io.Writer) error {
	t := formatter.NewTable(w, "TYPE", "COUNT")
	for _, typ := range types.ObservationTypes {
		if n := v.CountByType[typ]; n > 0 {
			t.AddRow(string(typ), strconv.Itoa(n))
		}
	}
	t.AddRow("total", strconv.Itoa(v.TotalCount))
	t.AddRow("live", strconv.Itoa(v.LiveCount))
	t.AddRow("archived", strconv.Itoa(v.ArchiveCount))
	if v.CorruptCount > 0 {
		t.AddRow(formatter.Status("corrupt"), strconv.Itoa(v.CorruptCount))
	}
	return t.Render()
}

type processView struct {
	instinct.ProcessResult `yaml:",inline"`
}

func (v processView) WriteTable(w io.Writer) error {
	t := formatter.NewTable(w, "OUTCOME", "COUNT")
	t.AddRow(formatter.Status("created"), strconv.Itoa(v.InstinctsCreated))
	t.AddRow(formatter.Status("updated"), strconv.Itoa(v.InstinctsUpdated))
	t.AddRow(formatter.Status("unchanged"), strconv.Itoa(v.InstinctsUnchanged))
	t.AddRow(formatter.Status("discarded"), strconv.Itoa(v.Discarded))
	t.AddRow(formatter.Status("skipped"), strconv.Itoa(v.Skipped))
	if err := t.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d observations in %d groups\n", v.Observations, v.Groups)
	return err
}

type evolveView struct {
	evolve.EvolveResult `yaml:",inline"`
}

func (v evolveView) WriteTable(w io.Writer) error {
	t := formatter.NewTable(w, "INSTINCT", "STATUS", "DETAIL")
	t.SetMaxWidth(2, 60)
	for _, id := range v.Evolved {
		t.AddRow(id, formatter.Status("evolved"))
	}
	stale := map[string]bool{}
	for _, id := range v.Stale {
		stale[id] = true
		t.AddRow(id, formatter.Status("stale"))
	}
	failed := map[string]string{}
	for _, f := range v.Failed {
		failed[f.InstinctID] = f.Reason
		t.AddRow(f.InstinctID, formatter.Status("failed"), f.Reason)
	}
	for _, id := range v.Skipped {
		if _, ok := failed[id]; ok || stale[id] {
			continue
		}
		t.AddRow(id, formatter.Status("skipped"))
	}
	if err := t.Render(); err != nil {
		return err
	}
	if v.DryRun {
		_, err := fmt.Fprintln(w, "\n(dry run: nothing written)")
		return err
	}
	return nil
}

type checkpointView struct {
	CheckpointID string    `json:"checkpoint_id" yaml:"checkpoint_id"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	Files        int       `json:"files" yaml:"files"`
	Bytes        int64     `json:"bytes" yaml:"bytes"`
}

func newCheckpointView(c checkpoint.Checkpoint) checkpointView {
	return checkpointView{CheckpointID: c.ID, CreatedAt: c.CreatedAt, Files: len(c.Files), Bytes: c.Size()}
}

func (v checkpointView) WriteTable(w io.Writer) error {
	return checkpointListView{Checkpoints: []checkpointView{v}}.WriteTable(w)
}

type checkpointListView struct {
	Checkpoints []checkpointView `json:"checkpoints" yaml:"checkpoints"`
}

func (v checkpointListView) WriteTable(w io.Writer) error {
	if len(v.Checkpoints) == 0 {
		_, err := fmt.Fprintln(w, "No checkpoints.")
		return err
	}
	t := formatter.NewTable(w, "ID", "CREATED", "FILES", "BYTES")
	for _, c := range v.Checkpoints {
		t.AddRow(c.CheckpointID, c.CreatedAt.Format(timeLayout), strconv.Itoa(c.Files), strconv.FormatInt(c.Bytes, 10))
	}
	return t.Render()
}

type restoreView struct {
	Restored string `json:"restored" yaml:"restored"`
}

type identityView struct {
	config.Identity `yaml:",inline"`
}

func (v identityView) WriteTable(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Storage root: %s\nHalf-life:    %g days\nNormalizers:  %d observations, %d contexts\n\n",
		v.StorageRoot, v.HalfLifeDays, v.Normalizer, v.ConsistencyNormalizer); err != nil {
		return err
	}

	t := formatter.NewTable(w, "CATEGORY", "CONFIDENCE", "MIN OBSERVATIONS")
	for _, c := range types.ArtifactCategories {
		th := v.Thresholds[c]
		t.AddRow(string(c), strconv.FormatFloat(th.Confidence, 'f', 2, 64), strconv.Itoa(th.MinObservations))
	}
	if err := t.Render(); err != nil {
		return err
	}
	fmt.Fprintln(w) //nolint:errcheck // table output

	targets := make([]string, 0, len(v.EvolutionTargets))
	for k := range v.EvolutionTargets {
		targets = append(targets, k)
	}
	sort.Strings(targets)
	t = formatter.NewTable(w, "INSTINCT CATEGORY", "EVOLVES INTO")
	for _, k := range targets {
		t.AddRow(k, string(v.EvolutionTargets[k]))
	}
	if err := t.Render(); err != nil {
		return err
	}
	fmt.Fprintln(w) //nolint:errcheck // table output

	t = formatter.NewTable(w, "OBSERVATION TYPE", "ENABLED")
	for _, typ := range types.ObservationTypes {
		word := "disabled"
		if v.Enabled(typ) {
			word = "ok"
		}
		t.AddRow(string(typ), formatter.Status(word))
	}
	return t.Render()
}

type instinctListView struct {
	Instincts []types.Instinct `json:"instincts" yaml:"instincts"`
}

func (v instinctListView) WriteTable(w io.Writer) error {
	if len(v.Instincts) == 0 {
		_, err := fmt.Fprintln(w, "No instincts.")
		return err
	}
	t := formatter.NewTable(w, "ID", "CATEGORY", "CONFIDENCE", "OBSERVATIONS", "SOURCE", "PATTERN")
	t.SetMaxWidth(5, 48)
	for _, inst := range v.Instincts {
		t.AddRow(inst.ID, inst.Category,
			strconv.FormatFloat(inst.Confidence, 'f', 3, 64),
			strconv.Itoa(inst.Evidence.ObservationCount),
			inst.Source, inst.Pattern)
	}
	return t.Render()
}

type importView struct {
	instinct.ImportResult `yaml:",inline"`
}

func (v importView) WriteTable(w io.Writer) error {
	t := formatter.NewTable(w, "ENTRY", "STATUS", "REASON")
	for _, id := range v.Imported {
		t.AddRow(id, formatter.Status("ok"))
	}
	for _, s := range v.Skipped {
		t.AddRow(s.File, formatter.Status("skipped"), s.Reason)
	}
	return t.Render()
}

type traceView struct {
	provenance.TraceResult `yaml:",inline"`
}

func (v traceView) WriteTable(w io.Writer) error {
	if len(v.Chain) == 0 {
		_, err := fmt.Fprintf(w, "No provenance found for: %s\n", v.Artifact)
		return err
	}
	fmt.Fprintf(w, "Provenance for: %s\n\n", v.Artifact) //nolint:errcheck // table output
	t := formatter.NewTable(w, "WHEN", "ACTION", "INSTINCT", "CONFIDENCE", "OBSERVATIONS", "PATH")
	for _, r := range v.Chain {
		t.AddRow(r.CreatedAt.Format(timeLayout), formatter.Status(r.Action), r.SourceInstinctID,
			strconv.FormatFloat(r.Confidence, 'f', 3, 64), strconv.Itoa(r.ObservationCount), r.ArtifactPath)
	}
	return t.Render()
}

type versionView struct {
	Version   string `json:"version" yaml:"version"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

func (v versionView) WriteTable(w io.Writer) error {
	_, err := fmt.Fprintf(w, "learn version %s\n  Go version: %s\n  Platform: %s\n", v.Version, v.GoVersion, v.Platform)
	return err
}
