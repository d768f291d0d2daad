package harness

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/abxfeed/internal/feed"
	"github.com/roach88/abxfeed/internal/metrics"
	"github.com/roach88/abxfeed/internal/session"
	"github.com/roach88/abxfeed/internal/store"
	"github.com/roach88/abxfeed/internal/testutil"
)

// DefaultTimeout bounds every connection when a scenario sets none.
const DefaultTimeout = 2 * time.Second

// DefaultRunID is used when a scenario sets no run_id.
const DefaultRunID = "test-run-default"

// clockStep is how far the scenario clock advances on every read.
const clockStep = 250 * time.Millisecond

// Harness is the test execution engine.
// It runs one scenario against a fake feed server with a deterministic
// clock and run id.
type Harness struct {
	store  *store.Store
	server *testutil.Server
	clock  *testutil.SteppingClock
	runID  string
	logger *zap.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against its own server and in-memory database.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Start a fake feed server configured from the scenario
// 2. Create fresh in-memory database
// 3. Run the recovery pipeline against the server
// 4. Store the run and build the per-sequence trace
// 5. Evaluate assertions and return pass/fail, trace, and errors
func Run(t testing.TB, scenario *Scenario) (*Result, error) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}

	h := &Harness{
		store:  st,
		server: testutil.NewServer(t, testutil.Packets(scenario.Packets), serverOptions(scenario)...),
		clock:  testutil.NewSteppingClock(time.Time{}, clockStep),
		runID:  runID,
		logger: zap.NewNop(), // Suppress logs in tests
	}
	defer h.server.Close()

	ctx := context.Background()

	run, err := h.execute(ctx, scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	result.Run = run
	result.Trace = buildTrace(run)
	result.Resends = len(h.server.Resends())

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// execute runs the pipeline once and stores its result.
func (h *Harness) execute(ctx context.Context, scenario *Scenario) (*feed.Result, error) {
	timeout := scenario.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	pipeline := feed.New(feed.Config{
		Endpoint:    session.Endpoint{Host: h.server.Host(), Port: h.server.Port()},
		Session:     session.Options{Timeout: timeout},
		Concurrency: scenario.Concurrency,
	}, metrics.New(), h.logger,
		feed.WithRunIDGenerator(feed.NewFixedGenerator(h.runID)),
		feed.WithClock(h.clock.Now),
	)

	run, err := pipeline.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("pipeline run: %w", err)
	}

	if err := h.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}
	return run, nil
}

// serverOptions translates scenario behavior into fake server options.
func serverOptions(s *Scenario) []testutil.Option {
	opts := []testutil.Option{
		testutil.WithDropped(s.Stream.Dropped...),
		testutil.WithAbsentResend(s.Resend.Absent...),
		testutil.WithStalledResend(s.Resend.Stalled...),
	}
	if s.Stream.StallAfter != nil {
		opts = append(opts, testutil.WithStallAfter(*s.Stream.StallAfter))
	}
	if s.Stream.TrailingBytes > 0 {
		opts = append(opts, testutil.WithTrailingBytes(s.Stream.TrailingBytes))
	}
	return opts
}
