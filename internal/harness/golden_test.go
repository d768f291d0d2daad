package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/abxfeed/internal/feed"
	"github.com/roach88/abxfeed/internal/testutil"
)

func TestTraceSnapshot_Marshal(t *testing.T) {
	result := NewResult()
	result.Run = &feed.Result{RunID: "r1", Packets: testutil.Packets(1), TrailingBytes: 3}
	result.Trace = []TraceEvent{{Event: EventStreamed, Sequence: 1, Packet: "p1"}}

	data, err := newSnapshot("snap", result).marshal()
	require.NoError(t, err)

	want := `{
  "scenario_name": "snap",
  "run_id": "r1",
  "complete": true,
  "stream_failed": false,
  "trailing_bytes": 3,
  "trace": [
    {
      "event": "streamed",
      "sequence": 1,
      "packet": "p1"
    }
  ]
}
`
	assert.Equal(t, want, string(data))
}

func TestTraceSnapshot_WithoutRun(t *testing.T) {
	snap := newSnapshot("empty", NewResult())
	assert.Equal(t, "empty", snap.ScenarioName)
	assert.Empty(t, snap.RunID)
	assert.False(t, snap.Complete)
	assert.NotNil(t, snap.Trace)
}

func TestAssertGolden_Matches(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/dropped_recovered.yaml")
	require.NoError(t, err)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.NoError(t, AssertGolden(t, scenario.Name, result))
}

func TestRunWithGolden_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/absent_resend.yaml")
	require.NoError(t, err)

	// Recovery order varies between runs; the golden file must not.
	for i := 0; i < 3; i++ {
		result, err := RunWithGolden(t, scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}
