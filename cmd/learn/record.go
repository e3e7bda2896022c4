package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Integrum-Global/kailash-learn/internal/pipeline"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

var (
	recordSession   string
	recordCwd       string
	recordFramework string
)

var recordCmd = &cobra.Command{
	Use:   "record <type> [json-data|-]",
	Short: "Record one observation",
	Long: `Append one observation to the live log.

The payload is a JSON object whose shape depends on the type. When it is
omitted or given as "-", it is read from stdin, which is how hooks call it:

  echo '{"tool":"Bash","success":true}' | learn record tool_use --session s1

Types:
  ` + typeList() + `

Disabled types are rejected with error kind TypeDisabled.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordSession, "session", "", "Session id")
	recordCmd.Flags().StringVar(&recordCwd, "cwd", "", "Working-directory hint")
	recordCmd.Flags().StringVar(&recordFramework, "framework", "", "Detected-framework hint")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	data, err := recordData(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	p, err := openPipeline(cmd)
	if err != nil {
		return err
	}
	obs, err := p.Record(cmd.Context(), pipeline.RecordRequest{
		Type: args[0],
		Data: data,
		Context: types.Context{
			SessionID: recordSession,
			Cwd:       recordCwd,
			Framework: recordFramework,
		},
	})
	if err != nil {
		return err
	}
	return printResult(cmd, recordView{ID: obs.ID, Type: obs.Type, Timestamp: obs.Timestamp})
}

// recordData returns the payload argument or, when absent or "-", stdin.
func recordData(stdin io.Reader, args []string) (json.RawMessage, error) {
	var raw []byte
	if len(args) == 2 && args[1] != "-" {
		raw = []byte(args[1])
	} else {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		raw = b
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", types.ErrInvalidObservation)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", types.ErrInvalidObservation)
	}
	return raw, nil
}

func typeList() string {
	names := make([]string, len(types.ObservationTypes))
	for i, t := range types.ObservationTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
