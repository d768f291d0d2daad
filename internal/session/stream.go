package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/abxfeed/internal/wire"
)

// StreamResult is everything observed during one stream session.
type StreamResult struct {
	// Packets in arrival order.
	Packets []wire.Packet

	// TrailingBytes is the size of an incomplete record discarded when the
	// server closed mid-record. Zero on a clean end of stream.
	TrailingBytes int

	// Malformed counts full-size records that failed to decode.
	Malformed int
}

// Streamer runs the stream-all exchange against one endpoint.
type Streamer struct {
	endpoint Endpoint
	opts     Options
	log      *zap.Logger
}

// NewStreamer creates a Streamer. A nil logger disables logging.
func NewStreamer(ep Endpoint, opts Options, log *zap.Logger) *Streamer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Streamer{endpoint: ep, opts: opts, log: log.Named("stream")}
}

// Stream requests all packets and reads records until the server closes the
// connection.
//
// On a transport failure the returned result still holds every packet
// decoded before the failure, and the error wraps ErrStreamUnavailable.
func (s *Streamer) Stream(ctx context.Context) (StreamResult, error) {
	var res StreamResult

	conn, err := open(ctx, s.opts, s.endpoint, wire.EncodeStreamAll())
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrStreamUnavailable, err)
	}
	defer conn.Close()

	s.log.Debug("connected", zap.Stringer("endpoint", s.endpoint))

	stop := interruptOnCancel(ctx, conn)
	defer stop()

	r := bufio.NewReader(conn)
	buf := make([]byte, wire.RecordSize)
	for {
		// The deadline is an idle timeout: it restarts for every record.
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.timeout())); err != nil {
			return res, fmt.Errorf("%w: set deadline: %w", ErrStreamUnavailable, err)
		}
		// Checked after the deadline is set so a cancellation in between is
		// not overwritten.
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: after %d packets: %w", ErrStreamUnavailable, len(res.Packets), err)
		}

		n, err := io.ReadFull(r, buf)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.log.Debug("end of stream", zap.Int("packets", len(res.Packets)))
			return res, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			res.TrailingBytes = n
			s.log.Warn("discarded incomplete trailing record",
				zap.Int("bytes", n),
				zap.Int("packets", len(res.Packets)))
			return res, nil
		default:
			return res, fmt.Errorf("%w: read after %d packets: %w", ErrStreamUnavailable, len(res.Packets), err)
		}

		p, err := wire.Decode(buf)
		if err != nil {
			res.Malformed++
			s.log.Warn("skipping malformed record", zap.Error(err))
			continue
		}
		res.Packets = append(res.Packets, p)
	}
}
