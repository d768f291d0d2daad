package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/abxfeed/internal/metrics"
	"github.com/roach88/abxfeed/internal/session"
	"github.com/roach88/abxfeed/internal/wire"
)

// Streamer performs the initial stream-all session. *session.Streamer
// satisfies it.
type Streamer interface {
	Stream(ctx context.Context) (session.StreamResult, error)
}

// Config is everything a Pipeline needs to reach the server.
type Config struct {
	Endpoint session.Endpoint
	Session  session.Options

	// Concurrency caps simultaneous resend sessions. Zero means
	// DefaultConcurrency; negative means unbounded.
	Concurrency int
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID     string
	Endpoint  string
	StartedAt time.Time
	Duration  time.Duration

	// Packets is the reassembled set, ascending by sequence, one per sequence.
	Packets []wire.Packet

	// Streamed counts packets received from the stream session.
	Streamed int

	// Gaps lists requestable sequences missing from the stream.
	Gaps []int32

	// Unrequestable counts sequences missing from the stream that no resend
	// request can carry. They are never attempted and count as missing.
	Unrequestable int64

	// Recovered counts gaps filled by resend sessions.
	Recovered int

	// Missing lists gaps that are still absent.
	Missing []int32

	// TrailingBytes is the size of an incomplete final record, if any.
	TrailingBytes int

	// Malformed counts stream records that failed to decode.
	Malformed int

	// StreamErr is the transport failure that ended the stream early, if any.
	StreamErr error
}

// Complete reports whether every detected gap was filled. A loss after the
// last streamed packet cannot be detected and does not count.
func (r *Result) Complete() bool {
	return r.MissingCount() == 0 && Contiguous(r.Packets)
}

// MissingCount is the number of sequences still absent after recovery.
func (r *Result) MissingCount() int64 {
	return int64(len(r.Missing)) + r.Unrequestable
}

// Pipeline runs stream, gap detection, recovery and reassembly.
type Pipeline struct {
	endpoint session.Endpoint
	streamer Streamer
	coord    *Coordinator
	metrics  *metrics.Metrics
	ids      RunIDGenerator
	now      func() time.Time
	log      *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRunIDGenerator overrides the run id source.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithClock overrides the wall clock used for StartedAt and Duration.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithStreamer replaces the network stream session.
func WithStreamer(s Streamer) Option {
	return func(p *Pipeline) { p.streamer = s }
}

// WithResender replaces the network resend session.
func WithResender(r Resender) Option {
	return func(p *Pipeline) { p.coord.resender = r }
}

// New creates a Pipeline for cfg. m and log may be nil.
func New(cfg Config, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}

	p := &Pipeline{
		endpoint: cfg.Endpoint,
		streamer: session.NewStreamer(cfg.Endpoint, cfg.Session, log),
		coord:    NewCoordinator(session.NewResender(cfg.Endpoint, cfg.Session, log), concurrency, log),
		metrics:  m,
		ids:      UUIDv7Generator{},
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one full recovery. It always returns a Result; the error is
// only set when ctx was cancelled, in which case the Result holds whatever
// was collected.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     p.ids.Generate(),
		Endpoint:  p.endpoint.String(),
		StartedAt: p.now(),
	}
	log := p.log.With(zap.String("run_id", res.RunID))

	stream, err := p.streamer.Stream(ctx)
	res.Streamed = len(stream.Packets)
	res.TrailingBytes = stream.TrailingBytes
	res.Malformed = stream.Malformed
	p.metrics.Streamed.Add(float64(res.Streamed))
	p.metrics.Malformed.Add(float64(res.Malformed))
	if stream.TrailingBytes > 0 {
		p.metrics.TrailingRecords.Inc()
		log.Warn("stream ended mid-record; a packet after the last sequence may be lost",
			zap.Int("trailing_bytes", stream.TrailingBytes))
	}
	if err != nil {
		res.StreamErr = err
		p.metrics.StreamFailures.Inc()
		log.Warn("stream ended early, continuing with partial data",
			zap.Int("packets", res.Streamed), zap.Error(err))
	} else {
		log.Info("stream complete", zap.Int("packets", res.Streamed))
	}

	gaps := DetectGaps(wire.Sequences(stream.Packets))
	res.Gaps = gaps.Requestable
	res.Unrequestable = gaps.Unrequestable
	p.metrics.Gaps.Add(float64(gaps.Len()))
	if len(res.Gaps) > 0 {
		log.Info("gaps detected", zap.Int("count", len(res.Gaps)), zap.Int32s("sequences", res.Gaps))
	}
	if res.Unrequestable > 0 {
		log.Warn("gap sequences beyond resend range, not requested",
			zap.Int64("count", res.Unrequestable), zap.Int("max_sequence", wire.MaxResendSequence))
	}

	report := p.coord.Recover(ctx, res.Gaps)
	for _, out := range report.Outcomes {
		p.metrics.Recovery.WithLabelValues(out.Status.String()).Inc()
	}

	res.Packets = Reassemble(stream.Packets, report.Recovered)
	res.Recovered = len(report.Recovered)
	res.Missing = report.Unrecovered()
	p.metrics.Missing.Set(float64(res.MissingCount()))

	res.Duration = p.now().Sub(res.StartedAt)
	p.metrics.RunDuration.Observe(res.Duration.Seconds())

	if len(res.Missing) > 0 {
		log.Warn("sequences remain missing", zap.Int32s("sequences", res.Missing))
	}
	log.Info("run finished",
		zap.Int("packets", len(res.Packets)),
		zap.Int("recovered", res.Recovered),
		zap.Bool("complete", res.Complete()),
		zap.Duration("duration", res.Duration))

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
