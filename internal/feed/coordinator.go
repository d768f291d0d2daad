package feed

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/abxfeed/internal/session"
	"github.com/roach88/abxfeed/internal/wire"
)

// DefaultConcurrency caps simultaneous resend sessions.
const DefaultConcurrency = 16

// Resender recovers a single sequence. *session.Resender satisfies it.
type Resender interface {
	Resend(ctx context.Context, seq int32) session.Outcome
}

// RecoveryReport is the merged outcome of a recovery round.
type RecoveryReport struct {
	// Recovered packets, in the order of the requested sequences.
	Recovered []wire.Packet

	// Absent lists sequences the server closed on without a record.
	Absent []int32

	// Failed lists sequences whose session failed.
	Failed []int32

	// Outcomes holds every individual outcome, in request order.
	Outcomes []session.Outcome
}

// Unrecovered returns Absent and Failed together, ascending.
func (r RecoveryReport) Unrecovered() []int32 {
	out := append(slices.Clone(r.Absent), r.Failed...)
	slices.Sort(out)
	return out
}

// Coordinator fans resend sessions out over a bounded set of goroutines.
type Coordinator struct {
	resender    Resender
	concurrency int
	log         *zap.Logger
}

// NewCoordinator creates a Coordinator. concurrency <= 0 starts one session
// per missing sequence at once.
func NewCoordinator(r Resender, concurrency int, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{resender: r, concurrency: concurrency, log: log.Named("recovery")}
}

// Recover runs one resend session per sequence in missing and waits for all
// of them. Each sequence is attempted exactly once; a failure affects only
// its own sequence.
func (c *Coordinator) Recover(ctx context.Context, missing []int32) RecoveryReport {
	if len(missing) == 0 {
		return RecoveryReport{}
	}

	// Each worker owns one slot; nothing is shared until Wait returns.
	outcomes := make([]session.Outcome, len(missing))

	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, seq := range missing {
		i, seq := i, seq
		g.Go(func() error {
			outcomes[i] = c.resender.Resend(ctx, seq)
			return nil
		})
	}
	_ = g.Wait()

	report := RecoveryReport{Outcomes: outcomes}
	for _, out := range outcomes {
		switch out.Status {
		case session.StatusRecovered:
			report.Recovered = append(report.Recovered, out.Packet)
		case session.StatusAbsent:
			report.Absent = append(report.Absent, out.Sequence)
		default:
			report.Failed = append(report.Failed, out.Sequence)
		}
	}

	c.log.Info("recovery finished",
		zap.Int("requested", len(missing)),
		zap.Int("recovered", len(report.Recovered)),
		zap.Int("absent", len(report.Absent)),
		zap.Int("failed", len(report.Failed)))
	return report
}
