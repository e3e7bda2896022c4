package main

import (
	"io"

	"github.com/Integrum-Global/kailash-learn/internal/formatter"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// Exit codes by error kind.
const (
	exitInternal           = 1
	exitInvalidInput       = 2
	exitStoreLocked        = 3
	exitCheckpointNotFound = 4
)

// errorReport is the structured error written to stderr.
type errorReport struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func exitCode(err error) int {
	switch types.Kind(err) {
	case types.KindInvalidObservation, types.KindTypeDisabled, types.KindInvalidInstinct:
		return exitInvalidInput
	case types.KindStoreLocked:
		return exitStoreLocked
	case types.KindCheckpointNotFound:
		return exitCheckpointNotFound
	}
	return exitInternal
}

func reportError(w io.Writer, err error) {
	//nolint:errcheck // nothing left to report a stderr failure to
	formatter.WriteJSON(w, errorReport{Error: types.Kind(err), Message: err.Error()})
}
