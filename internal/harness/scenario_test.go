package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content to a scenario file in a temp dir.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
packets: 10
stream:
  dropped: [3, 7]
  stall_after: 6
  trailing_bytes: 5
resend:
  absent: [7]
  stalled: [3]
timeout: 300ms
concurrency: 2
run_id: fixed-run
assertions:
  - type: trace_contains
    event: recovered
    sequence: 3
  - type: complete
    value: true
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, 10, scenario.Packets)
	assert.Equal(t, []int32{3, 7}, scenario.Stream.Dropped)
	require.NotNil(t, scenario.Stream.StallAfter)
	assert.Equal(t, 6, *scenario.Stream.StallAfter)
	assert.Equal(t, 5, scenario.Stream.TrailingBytes)
	assert.Equal(t, []int32{7}, scenario.Resend.Absent)
	assert.Equal(t, []int32{3}, scenario.Resend.Stalled)
	assert.Equal(t, 300*time.Millisecond, scenario.Timeout)
	assert.Equal(t, 2, scenario.Concurrency)
	assert.Equal(t, "fixed-run", scenario.RunID)
	require.Len(t, scenario.Assertions, 2)
	assert.Equal(t, AssertTraceContains, scenario.Assertions[0].Type)
	assert.Equal(t, int32(3), scenario.Assertions[0].Sequence)
	require.NotNil(t, scenario.Assertions[1].Value)
	assert.True(t, *scenario.Assertions[1].Value)
}

func TestLoadScenario_Minimal(t *testing.T) {
	path := writeScenario(t, `
name: minimal
description: "Only required fields"
packets: 1
assertions:
  - type: trace_count
    event: streamed
    count: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Nil(t, scenario.Stream.StallAfter)
	assert.Empty(t, scenario.Stream.Dropped)
	assert.Zero(t, scenario.Timeout)
	assert.Empty(t, scenario.RunID)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_InvalidYAML(t *testing.T) {
	path := writeScenario(t, "name: [unclosed\n")

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelled assertions key"
packets: 3
assertion:
  - type: resend_count
    count: 0
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "assertion")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "d"
packets: 3
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
packets: 3
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "description is required",
		},
		{
			name: "zero packets",
			content: `
name: n
description: d
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "packets must be in 1..255",
		},
		{
			name: "too many packets",
			content: `
name: n
description: d
packets: 300
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "packets must be in 1..255",
		},
		{
			name: "dropped out of range",
			content: `
name: n
description: d
packets: 3
stream: {dropped: [4]}
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "stream.dropped: sequence 4 outside 1..3",
		},
		{
			name: "trailing bytes too large",
			content: `
name: n
description: d
packets: 3
stream: {trailing_bytes: 17}
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "stream.trailing_bytes must be in 0..16",
		},
		{
			name: "negative stall",
			content: `
name: n
description: d
packets: 3
stream: {stall_after: -1}
assertions: [{type: resend_count, count: 0}]
`,
			wantErr: "stream.stall_after must not be negative",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
packets: 3
`,
			wantErr: "assertions list is required",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: d
packets: 3
assertions: [{type: trace_order}]
`,
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name: "trace_contains without sequence",
			content: `
name: n
description: d
packets: 3
assertions: [{type: trace_contains, event: streamed}]
`,
			wantErr: "sequence is required for trace_contains",
		},
		{
			name: "trace_count with unknown event",
			content: `
name: n
description: d
packets: 3
assertions: [{type: trace_count, event: lost, count: 1}]
`,
			wantErr: "event must be one of",
		},
		{
			name: "complete without value",
			content: `
name: n
description: d
packets: 3
assertions: [{type: complete}]
`,
			wantErr: "value is required for complete",
		},
		{
			name: "final_state without table",
			content: `
name: n
description: d
packets: 3
assertions: [{type: final_state, expect: {recovered: 0}}]
`,
			wantErr: "table is required for final_state",
		},
		{
			name: "final_state without expect",
			content: `
name: n
description: d
packets: 3
assertions: [{type: final_state, table: runs}]
`,
			wantErr: "expect is required for final_state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_TestdataScenariosAreValid(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	names := make(map[string]string)
	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		if other, ok := names[scenario.Name]; ok {
			t.Fatalf("scenario name %q used by both %s and %s", scenario.Name, other, path)
		}
		names[scenario.Name] = path
	}
}
