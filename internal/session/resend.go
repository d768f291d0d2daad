package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/roach88/abxfeed/internal/wire"
)

// Status is the outcome class of a resend session.
type Status int

const (
	// StatusFailed means the session could not run to completion: the
	// sequence was out of range, the transport failed, or the record was
	// unusable. Outcome.Err says why.
	StatusFailed Status = iota

	// StatusAbsent means the server closed before sending a full record.
	StatusAbsent

	// StatusRecovered means Outcome.Packet holds the requested record.
	StatusRecovered
)

func (s Status) String() string {
	switch s {
	case StatusRecovered:
		return "recovered"
	case StatusAbsent:
		return "absent"
	default:
		return "failed"
	}
}

// Outcome is the result of one resend session. Packet is only meaningful
// when Status is StatusRecovered.
type Outcome struct {
	Sequence int32
	Status   Status
	Packet   wire.Packet
	Err      error
}

// Recovered reports whether the outcome carries a packet.
func (o Outcome) Recovered() bool {
	return o.Status == StatusRecovered
}

// Resender runs resend exchanges against one endpoint.
// It is safe for concurrent use; each call opens its own connection.
type Resender struct {
	endpoint Endpoint
	opts     Options
	log      *zap.Logger
}

// NewResender creates a Resender. A nil logger disables logging.
func NewResender(ep Endpoint, opts Options, log *zap.Logger) *Resender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resender{endpoint: ep, opts: opts, log: log.Named("resend")}
}

// Resend requests a single packet by sequence number. It makes exactly one
// attempt.
func (r *Resender) Resend(ctx context.Context, seq int32) Outcome {
	out := Outcome{Sequence: seq}

	req, err := wire.EncodeResend(seq)
	if err != nil {
		return r.failed(out, err)
	}

	conn, err := open(ctx, r.opts, r.endpoint, req)
	if err != nil {
		return r.failed(out, err)
	}
	defer conn.Close()

	stop := interruptOnCancel(ctx, conn)
	defer stop()

	buf := make([]byte, wire.RecordSize)
	n, err := io.ReadFull(conn, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		out.Status = StatusAbsent
		out.Err = fmt.Errorf("%w: sequence %d: got %d of %d bytes", ErrShortRead, seq, n, wire.RecordSize)
		r.log.Warn("packet not recovered", zap.Int32("seq", seq), zap.Int("bytes", n))
		return out
	default:
		return r.failed(out, fmt.Errorf("read: %w", err))
	}

	p, err := wire.Decode(buf)
	if err != nil {
		return r.failed(out, err)
	}
	if p.Sequence != seq {
		return r.failed(out, fmt.Errorf("server answered sequence %d", p.Sequence))
	}

	out.Status = StatusRecovered
	out.Packet = p
	r.log.Debug("packet recovered", zap.Int32("seq", seq))
	return out
}

func (r *Resender) failed(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = fmt.Errorf("%w: sequence %d: %w", ErrRecoveryFailed, out.Sequence, err)
	r.log.Warn("recovery failed", zap.Int32("seq", out.Sequence), zap.Error(err))
	return out
}
