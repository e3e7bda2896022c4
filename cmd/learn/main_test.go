package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/observe"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// resetFlags restores every flag in the command tree to its default so runs
// do not leak into each other.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue) //nolint:errcheck // defaults always parse
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// isolate points HOME and the working directory at fresh temp dirs so no
// user or project config is picked up.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"LEARN_OUTPUT", "LEARN_ROOT", "LEARN_VERBOSE", "LEARN_LOCK_TIMEOUT",
		"LEARN_LOG_LEVEL", "LEARN_MIN_CONFIDENCE", "LEARN_METRICS_ADDR", "LEARN_CONFIG"} {
		t.Setenv(k, "")
	}
	orig, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(orig) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
}

type cliResult struct {
	stdout string
	stderr string
	code   int
}

// runCLI executes the command tree with args against storage root root.
func runCLI(t *testing.T, root, stdin string, args ...string) cliResult {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--root", root}, args...))
	code := Execute(context.Background())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func mustRun(t *testing.T, root string, args ...string) string {
	t.Helper()
	r := runCLI(t, root, "", args...)
	if r.code != 0 {
		t.Fatalf("learn %s: exit %d\n%s", strings.Join(args, " "), r.code, r.stderr)
	}
	return r.stdout
}

func decodeJSON(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, s)
	}
}

// errorReportOf finds the structured error on stderr among any log lines.
func errorReportOf(t *testing.T, stderr string) errorReport {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(stderr))
	for {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("stderr is not JSON: %v\n%s", err, stderr)
		}
		kind, ok := m["error"].(string)
		if !ok {
			continue
		}
		msg, _ := m["message"].(string)
		return errorReport{Error: kind, Message: msg}
	}
	t.Fatalf("no error report on stderr:\n%s", stderr)
	return errorReport{}
}

func TestVersion(t *testing.T) {
	isolate(t)
	var v versionView
	decodeJSON(t, mustRun(t, t.TempDir(), "version"), &v)
	if v.Version != version || v.GoVersion == "" || v.Platform == "" {
		t.Errorf("unexpected version output: %+v", v)
	}
}

func TestRecordProcessEvolve(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	for range 50 {
		mustRun(t, root, "record", "tool_use", `{"tool":"Bash","success":true}`, "--session", "s1", "--cwd", "/repo")
	}

	var stats struct {
		TotalCount  int            `json:"total_count"`
		CountByType map[string]int `json:"count_by_type"`
	}
	decodeJSON(t, mustRun(t, root, "stats"), &stats)
	if stats.TotalCount != 50 || stats.CountByType["tool_use"] != 50 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	var proc struct {
		Created int `json:"instincts_created"`
	}
	decodeJSON(t, mustRun(t, root, "process"), &proc)
	if proc.Created != 1 {
		t.Fatalf("instincts_created = %d, want 1", proc.Created)
	}

	var list instinctListView
	decodeJSON(t, mustRun(t, root, "instincts", "list"), &list)
	if len(list.Instincts) != 1 || list.Instincts[0].Source != types.SourcePersonal {
		t.Fatalf("unexpected instincts: %+v", list)
	}
	id := list.Instincts[0].ID

	var ev struct {
		Evolved []string `json:"evolved"`
	}
	decodeJSON(t, mustRun(t, root, "evolve"), &ev)
	if len(ev.Evolved) != 1 || ev.Evolved[0] != id {
		t.Fatalf("unexpected evolve result: %+v", ev)
	}
	if _, err := os.Stat(filepath.Join(root, "evolved", "skills", id+".md")); err != nil {
		t.Errorf("skill artifact missing: %v", err)
	}

	var trace struct {
		Artifact string `json:"artifact"`
		Chain    []struct {
			Action           string `json:"action"`
			SourceInstinctID string `json:"source_instinct_id"`
		} `json:"chain"`
	}
	decodeJSON(t, mustRun(t, root, "trace", id), &trace)
	if len(trace.Chain) != 1 || trace.Chain[0].SourceInstinctID != id {
		t.Errorf("unexpected trace: %+v", trace)
	}

	var found searchView
	decodeJSON(t, mustRun(t, root, "search", "bash"), &found)
	if len(found.Results) != 2 {
		t.Errorf("search bash = %+v, want the instinct and its artifact", found.Results)
	}
}

func TestRecordReadsStdin(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	r := runCLI(t, root, `{"framework":"core","reason":"workflow"}`+"\n", "record", "framework_selection")
	if r.code != 0 {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
	var rec recordView
	decodeJSON(t, r.stdout, &rec)
	if rec.ID == "" || rec.Type != types.ObservationFrameworkSelection {
		t.Errorf("unexpected record output: %+v", rec)
	}

	r = runCLI(t, root, `{"test_type":"unit","passed":true}`, "record", "test_pattern", "-")
	if r.code != 0 {
		t.Fatalf("exit %d: %s", r.code, r.stderr)
	}
}

func TestExitCodes(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	mustRun(t, root, "identity", "disable", "domain_model")

	tests := []struct {
		name string
		args []string
		code int
		kind string
	}{
		{"unknown type", []string{"record", "telepathy", `{}`}, exitInvalidInput, types.KindInvalidObservation},
		{"invalid json", []string{"record", "tool_use", `{not json`}, exitInvalidInput, types.KindInvalidObservation},
		{"missing field", []string{"record", "tool_use", `{"success":true}`}, exitInvalidInput, types.KindInvalidObservation},
		{"disabled type", []string{"record", "domain_model", `{"model":"Order"}`}, exitInvalidInput, types.KindTypeDisabled},
		{"unknown checkpoint", []string{"checkpoint", "restore", "ckpt-20990101T000000.000000000Z"}, exitCheckpointNotFound, types.KindCheckpointNotFound},
		{"bad output format", []string{"-o", "xml", "stats"}, exitInternal, types.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runCLI(t, root, "", tt.args...)
			if r.code != tt.code {
				t.Fatalf("exit = %d, want %d\n%s", r.code, tt.code, r.stderr)
			}
			if r.stdout != "" {
				t.Errorf("stdout should be empty on failure, got %q", r.stdout)
			}
			if rep := errorReportOf(t, r.stderr); rep.Error != tt.kind || rep.Message == "" {
				t.Errorf("error report = %+v, want kind %s", rep, tt.kind)
			}
		})
	}
}

func TestStoreLockedExitCode(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	mustRun(t, root, "stats")

	held, err := filelock.Acquire(context.Background(),
		filepath.Join(root, storage.LocksDir, observe.LockName+".lock"), filelock.Exclusive, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release() //nolint:errcheck

	r := runCLI(t, root, "", "--lock-timeout", "50ms", "record", "tool_use", `{"tool":"Bash"}`)
	if r.code != exitStoreLocked {
		t.Fatalf("exit = %d, want %d\n%s", r.code, exitStoreLocked, r.stderr)
	}
	if rep := errorReportOf(t, r.stderr); rep.Error != types.KindStoreLocked {
		t.Errorf("error kind = %q, want %s", rep.Error, types.KindStoreLocked)
	}
}

func TestCheckpointCommands(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	mustRun(t, root, "record", "tool_use", `{"tool":"Read"}`)

	var created checkpointView
	decodeJSON(t, mustRun(t, root, "checkpoint", "create"), &created)
	if created.CheckpointID == "" || created.Files == 0 {
		t.Fatalf("unexpected checkpoint: %+v", created)
	}

	mustRun(t, root, "record", "tool_use", `{"tool":"Edit"}`)
	mustRun(t, root, "identity", "set-threshold", "skill", "--confidence", "0.9")

	var list checkpointListView
	decodeJSON(t, mustRun(t, root, "checkpoint", "list"), &list)
	if len(list.Checkpoints) != 1 || list.Checkpoints[0].CheckpointID != created.CheckpointID {
		t.Fatalf("unexpected list: %+v", list)
	}

	mustRun(t, root, "checkpoint", "restore", created.CheckpointID)

	var stats struct {
		TotalCount int `json:"total_count"`
	}
	decodeJSON(t, mustRun(t, root, "stats"), &stats)
	if stats.TotalCount != 1 {
		t.Errorf("total_count after restore = %d, want 1", stats.TotalCount)
	}

	var id struct {
		Thresholds map[string]struct {
			Confidence float64 `json:"confidence"`
		} `json:"thresholds"`
	}
	decodeJSON(t, mustRun(t, root, "identity", "show"), &id)
	if got := id.Thresholds["skill"].Confidence; got == 0.9 {
		t.Errorf("identity change after the checkpoint survived restore")
	}
}

func TestIdentityCommands(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	var id struct {
		EnabledCategories []string `json:"enabled_categories"`
		Thresholds        map[string]struct {
			Confidence      float64 `json:"confidence"`
			MinObservations int     `json:"min_observations"`
		} `json:"thresholds"`
		EvolutionTargets map[string]string `json:"evolution_targets"`
	}
	decodeJSON(t, mustRun(t, root, "identity", "show"), &id)
	before := id.Thresholds["command"]

	decodeJSON(t, mustRun(t, root, "identity", "set-threshold", "commands", "--min-observations", "7"), &id)
	if got := id.Thresholds["command"]; got.MinObservations != 7 || got.Confidence != before.Confidence {
		t.Errorf("set-threshold = %+v, want min 7 and confidence %v kept", got, before.Confidence)
	}

	decodeJSON(t, mustRun(t, root, "identity", "set-target", "testing", "agent"), &id)
	if id.EvolutionTargets["testing"] != "agent" {
		t.Errorf("set-target not applied: %v", id.EvolutionTargets)
	}

	decodeJSON(t, mustRun(t, root, "identity", "disable", "tool_use"), &id)
	for _, c := range id.EnabledCategories {
		if c == "tool_use" {
			t.Errorf("tool_use still enabled")
		}
	}
	decodeJSON(t, mustRun(t, root, "identity", "enable", "tool_use"), &id)
	if len(id.EnabledCategories) != len(types.ObservationTypes) {
		t.Errorf("enabled = %v, want every type", id.EnabledCategories)
	}

	r := runCLI(t, root, "", "identity", "set-threshold", "spell", "--confidence", "0.5")
	if r.code == 0 {
		t.Error("unknown category should fail")
	}
}

func TestTableOutput(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	mustRun(t, root, "record", "tool_use", `{"tool":"Bash"}`)

	out := mustRun(t, root, "-o", "table", "stats")
	if !strings.Contains(out, "TYPE") || !strings.Contains(out, "tool_use") {
		t.Errorf("unexpected table:\n%s", out)
	}

	out = mustRun(t, root, "-o", "yaml", "checkpoint", "list")
	if !strings.Contains(out, "checkpoints:") {
		t.Errorf("unexpected yaml:\n%s", out)
	}
}

func TestMetricsTextfile(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	mustRun(t, root, "record", "tool_use", `{"tool":"Bash"}`)

	out := mustRun(t, root, "metrics")
	if !strings.Contains(out, "learn_live_observations 1") {
		t.Errorf("metrics output missing live gauge:\n%s", out)
	}

	path := filepath.Join(t.TempDir(), "learn.prom")
	mustRun(t, root, "metrics", "--textfile", path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# TYPE learn_live_observations gauge") {
		t.Errorf("textfile missing gauge:\n%s", data)
	}
}

func TestConfigShowsSources(t *testing.T) {
	isolate(t)
	var rc struct {
		Output struct {
			Value  string `json:"value"`
			Source string `json:"source"`
		} `json:"output"`
		Root struct {
			Source string `json:"source"`
		} `json:"root"`
	}
	decodeJSON(t, mustRun(t, t.TempDir(), "config"), &rc)
	if rc.Output.Value != "json" || rc.Output.Source != "default" {
		t.Errorf("output = %+v, want json from default", rc.Output)
	}
	if rc.Root.Source != "flag" {
		t.Errorf("root source = %q, want flag", rc.Root.Source)
	}
}

func TestDefaultRootFoundFromSubdirectory(t *testing.T) {
	isolate(t)
	project, _ := os.Getwd()

	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"record", "tool_use", `{"tool":"Bash"}`})
	if code := Execute(context.Background()); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}

	nested := filepath.Join(project, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	resetFlags(rootCmd)
	stdout.Reset()
	rootCmd.SetArgs([]string{"stats"})
	if code := Execute(context.Background()); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var stats struct {
		TotalCount int `json:"total_count"`
	}
	decodeJSON(t, stdout.String(), &stats)
	if stats.TotalCount != 1 {
		t.Errorf("total_count from subdirectory = %d, want 1", stats.TotalCount)
	}
	if _, err := os.Stat(filepath.Join(nested, storage.DefaultRoot)); !os.IsNotExist(err) {
		t.Errorf("a second storage root was created in the subdirectory")
	}
}
