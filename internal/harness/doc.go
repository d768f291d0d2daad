// Package harness runs feed recovery scenarios end to end.
//
// A scenario describes how a fake feed server misbehaves and what the client
// must end up with. The harness starts the server, runs the real recovery
// pipeline against it over loopback TCP, stores the run in an in-memory
// database and evaluates the scenario's assertions.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: dropped_and_absent
//	description: "Two packets dropped, one resend refused"
//	packets: 8
//	stream:
//	  dropped: [3, 6]
//	  stall_after: 5        # optional
//	  trailing_bytes: 9     # optional
//	resend:
//	  absent: [6]
//	  stalled: []
//	timeout: 500ms
//	concurrency: 4
//	assertions:
//	  - type: trace_contains
//	    event: recovered
//	    sequence: 3
//	  - type: trace_count
//	    event: missing
//	    count: 1
//	  - type: resend_count
//	    count: 2
//	  - type: complete
//	    value: false
//	  - type: final_state
//	    table: runs
//	    where: { id: test-run-default }
//	    expect: { recovered: 1 }
//
// # Assertion Types
//
//   - trace_contains: Verifies a sequence has the given event in the trace
//   - trace_count: Verifies an event appears exactly N times
//   - resend_count: Verifies the server received exactly N resend requests
//   - complete: Verifies whether the run is complete
//   - final_state: Queries a stored table and verifies expected values
//
// # Deterministic Testing
//
// Every run uses a fixed run id (scenario run_id, or DefaultRunID) and a
// testutil.SteppingClock, so stored timestamps and durations are identical
// across runs. The trace is ordered by sequence, not arrival, which keeps it
// stable under concurrent recovery. Golden snapshots live in
// testdata/golden and are compared with goldie.
package harness
