package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the deterministic part of a scenario execution.
// The endpoint and stream error text are left out since they carry the
// fake server's random port.
type TraceSnapshot struct {
	ScenarioName  string       `json:"scenario_name"`
	RunID         string       `json:"run_id"`
	Complete      bool         `json:"complete"`
	StreamFailed  bool         `json:"stream_failed"`
	TrailingBytes int          `json:"trailing_bytes"`
	Trace         []TraceEvent `json:"trace"`
}

func newSnapshot(name string, result *Result) TraceSnapshot {
	s := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	if run := result.Run; run != nil {
		s.RunID = run.RunID
		s.Complete = run.Complete() && run.StreamErr == nil
		s.StreamFailed = run.StreamErr != nil
		s.TrailingBytes = run.TrailingBytes
	}
	return s
}

// marshal renders the snapshot as indented JSON with a trailing newline.
func (s TraceSnapshot) marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t, scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := newSnapshot(scenarioName, result).marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
