package formatter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestTable_InstinctRows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "CATEGORY", "CONFIDENCE")
	tbl.AddRow("inst-tool_bash", "tooling", "0.93")
	tbl.AddRow("inst-workflow_a__b", "workflow", "0.61")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ID", "CATEGORY", "CONFIDENCE", "----", "inst-tool_bash", "inst-workflow_a__b"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}

	// header, separator, 2 rows
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Errorf("expected 4 lines, got %d:\n%s", len(lines), out)
	}
}

func TestTable_NoRowsNoOutput(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "STATUS")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected empty output for table with no rows, got:\n%s", buf.String())
	}
}

func TestTable_Truncate(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		value   string
		want    string
		notWant string
	}{
		{"ellipsis", 8, "inst-connection_reader_out", "inst-...", "inst-connection"},
		{"tiny limit slices", 2, "abcdef", "ab", "..."},
		{"exact fit kept", 5, "abcde", "abcde", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tbl := NewTable(&buf, "ID", "STATUS")
			tbl.SetMaxWidth(0, tt.limit)
			tbl.AddRow(tt.value, "ok")
			if err := tbl.Render(); err != nil {
				t.Fatalf("Render: %v", err)
			}
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, out)
			}
			if tt.notWant != "" && strings.Contains(out, tt.notWant) {
				t.Errorf("unexpected %q in output:\n%s", tt.notWant, out)
			}
		})
	}
}

func TestTable_MissingValuesPadded(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "CATEGORY", "STALE")
	tbl.AddRow("inst-only")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "inst-only") {
		t.Errorf("expected value in output:\n%s", buf.String())
	}
}

func TestTable_SeparatorMatchesHeaderLength(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, "ID", "CONFIDENCE")
	tbl.AddRow("x", "y")
	if err := tbl.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	sep := strings.Fields(lines[1])
	if len(sep) != 2 || sep[0] != "--" || sep[1] != "----------" {
		t.Errorf("separator = %q", lines[1])
	}
}

func TestStatus(t *testing.T) {
	prev := color.NoColor
	t.Cleanup(func() { color.NoColor = prev })

	color.NoColor = true
	if got := Status("stale"); got != "stale" {
		t.Errorf("Status(stale) without colour = %q", got)
	}

	color.NoColor = false
	if got := Status("failed"); got == "failed" || !strings.Contains(got, "failed") {
		t.Errorf("Status(failed) with colour = %q, want escape-wrapped word", got)
	}
	if got := Status("whatever"); got != "whatever" {
		t.Errorf("Status(whatever) = %q, want unchanged", got)
	}
}

func BenchmarkTableRender(b *testing.B) {
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		tbl := NewTable(&buf, "ID", "CATEGORY", "STATUS")
		tbl.SetMaxWidth(0, 20)
		for j := 0; j < 10; j++ {
			tbl.AddRow("inst-tool_bash", "tooling", "evolved")
		}
		_ = tbl.Render()
	}
}
