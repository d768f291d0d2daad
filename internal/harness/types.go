package harness

import (
	"slices"

	"github.com/roach88/abxfeed/internal/feed"
)

// Trace event types.
const (
	EventStreamed  = "streamed"  // delivered by the stream session
	EventRecovered = "recovered" // missing from the stream, filled by a resend
	EventMissing   = "missing"   // missing from the stream and not recovered
)

// EventTypes lists every trace event type.
var EventTypes = []string{EventStreamed, EventRecovered, EventMissing}

func isEventType(s string) bool {
	return slices.Contains(EventTypes, s)
}

// TraceEvent is the fate of one sequence number in a run.
type TraceEvent struct {
	Event    string `json:"event"`
	Sequence int32  `json:"sequence"`
	Packet   string `json:"packet,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Trace lists every sequence from the first observed to the last,
	// ascending, with what happened to it.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Resends is the number of resend requests the server received.
	Resends int `json:"resends"`

	// Run is the pipeline result the trace was built from.
	Run *feed.Result `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// buildTrace derives the per-sequence trace of a run. Sequences in
// run.Gaps were absent from the stream; they are recovered when the final
// packet set holds them and missing otherwise.
func buildTrace(run *feed.Result) []TraceEvent {
	gaps := make(map[int32]bool, len(run.Gaps))
	for _, seq := range run.Gaps {
		gaps[seq] = true
	}

	trace := make([]TraceEvent, 0, len(run.Packets)+len(run.Missing))
	for _, p := range run.Packets {
		event := EventStreamed
		if gaps[p.Sequence] {
			event = EventRecovered
		}
		trace = append(trace, TraceEvent{Event: event, Sequence: p.Sequence, Packet: p.String()})
	}
	for _, seq := range run.Missing {
		trace = append(trace, TraceEvent{Event: EventMissing, Sequence: seq})
	}

	slices.SortFunc(trace, func(a, b TraceEvent) int {
		return int(a.Sequence) - int(b.Sequence)
	})
	return trace
}
