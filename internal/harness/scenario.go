package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/abxfeed/internal/wire"
)

// Scenario defines a feed recovery scenario.
// A scenario describes a server that misbehaves in specific ways and the
// outcome the client must reach against it.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Packets is the number of packets the server holds, sequences 1..Packets.
	Packets int `yaml:"packets"`

	// Stream configures the stream-all session.
	Stream StreamBehavior `yaml:"stream,omitempty"`

	// Resend configures resend sessions.
	Resend ResendBehavior `yaml:"resend,omitempty"`

	// Timeout bounds every connection. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Concurrency caps simultaneous resends. Zero means the client default.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Assertions validate the final trace and stored run.
	// Supported types: trace_contains, trace_count, resend_count, complete, final_state
	Assertions []Assertion `yaml:"assertions"`

	// RunID is an optional fixed run id for deterministic tests.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`
}

// StreamBehavior describes how the server answers a stream-all request.
type StreamBehavior struct {
	// Dropped sequences are left out of the stream but still resendable.
	Dropped []int32 `yaml:"dropped,omitempty"`

	// StallAfter makes the stream hang after this many records.
	StallAfter *int `yaml:"stall_after,omitempty"`

	// TrailingBytes appends an incomplete record before closing.
	TrailingBytes int `yaml:"trailing_bytes,omitempty"`
}

// ResendBehavior describes how the server answers resend requests.
type ResendBehavior struct {
	// Absent sequences close the connection without data.
	Absent []int32 `yaml:"absent,omitempty"`

	// Stalled sequences never answer.
	Stalled []int32 `yaml:"stalled,omitempty"`
}

// Assertion validates the trace, the server's view, or stored state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an event for a sequence appears in the trace
	// - "trace_count": Check an event type appears exactly N times
	// - "resend_count": Check the server received exactly N resend requests
	// - "complete": Check whether the run is complete
	// - "final_state": Query a stored table and verify expected values
	Type string `yaml:"type"`

	// Event is the trace event type (used by trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Sequence is the expected sequence number (used by trace_contains).
	Sequence int32 `yaml:"sequence,omitempty"`

	// Count is the expected number of occurrences (used by trace_count, resend_count).
	Count int `yaml:"count,omitempty"`

	// Value is the expected completeness (used by complete).
	Value *bool `yaml:"value,omitempty"`

	// Table is the stored table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertResendCount   = "resend_count"
	AssertComplete      = "complete"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Packets < 1 || s.Packets > wire.MaxResendSequence {
		return fmt.Errorf("packets must be in 1..%d, got %d", wire.MaxResendSequence, s.Packets)
	}

	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	if s.Stream.StallAfter != nil && *s.Stream.StallAfter < 0 {
		return fmt.Errorf("stream.stall_after must not be negative")
	}

	if s.Stream.TrailingBytes < 0 || s.Stream.TrailingBytes >= wire.RecordSize {
		return fmt.Errorf("stream.trailing_bytes must be in 0..%d", wire.RecordSize-1)
	}

	for field, seqs := range map[string][]int32{
		"stream.dropped": s.Stream.Dropped,
		"resend.absent":  s.Resend.Absent,
		"resend.stalled": s.Resend.Stalled,
	} {
		for _, seq := range seqs {
			if seq < 1 || int(seq) > s.Packets {
				return fmt.Errorf("%s: sequence %d outside 1..%d", field, seq, s.Packets)
			}
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	// Validate assertions
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if !isEventType(a.Event) {
			return fmt.Errorf("assertions[%d]: event must be one of %v for trace_contains", index, EventTypes)
		}
		if a.Sequence < 1 {
			return fmt.Errorf("assertions[%d]: sequence is required for trace_contains", index)
		}
	case AssertTraceCount:
		if !isEventType(a.Event) {
			return fmt.Errorf("assertions[%d]: event must be one of %v for trace_count", index, EventTypes)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertResendCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for resend_count", index)
		}
	case AssertComplete:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for complete", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
