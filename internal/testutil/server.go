// Package testutil provides an in-process ABX feed server for tests.
//
// The server speaks the real wire protocol over loopback TCP and can be told
// to misbehave in the ways a lossy feed does: omit packets from the stream,
// stall mid-stream, close mid-record, or refuse individual resends.
package testutil

import (
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/roach88/abxfeed/internal/wire"
)

// Server is a fake feed server listening on 127.0.0.1.
type Server struct {
	ln      net.Listener
	packets []wire.Packet
	bySeq   map[int32]wire.Packet

	dropped       map[int32]bool
	absentResend  map[int32]bool
	stalledResend map[int32]bool
	stallAfter    int
	trailing      int
	resendDelay   time.Duration

	done chan struct{}
	wg   sync.WaitGroup

	mu            sync.Mutex
	resends       []int32
	streams       int
	inFlight      int
	maxConcurrent int
}

// Option customizes a Server.
type Option func(*Server)

// WithDropped omits the given sequences from the stream. They remain
// available for resend.
func WithDropped(seqs ...int32) Option {
	return func(s *Server) {
		for _, seq := range seqs {
			s.dropped[seq] = true
		}
	}
}

// WithAbsentResend makes resends of the given sequences close without data.
func WithAbsentResend(seqs ...int32) Option {
	return func(s *Server) {
		for _, seq := range seqs {
			s.absentResend[seq] = true
		}
	}
}

// WithStalledResend makes resends of the given sequences hang until the
// client gives up.
func WithStalledResend(seqs ...int32) Option {
	return func(s *Server) {
		for _, seq := range seqs {
			s.stalledResend[seq] = true
		}
	}
}

// WithStallAfter makes the stream hang after n records instead of closing.
func WithStallAfter(n int) Option {
	return func(s *Server) { s.stallAfter = n }
}

// WithTrailingBytes appends n bytes of an incomplete record before closing
// the stream.
func WithTrailingBytes(n int) Option {
	return func(s *Server) { s.trailing = n }
}

// WithResendDelay holds every resend for d before answering.
func WithResendDelay(d time.Duration) Option {
	return func(s *Server) { s.resendDelay = d }
}

// NewServer starts a server for packets, which are streamed in the given
// order. The server is closed when the test ends.
func NewServer(t testing.TB, packets []wire.Packet, opts ...Option) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		ln:            ln,
		packets:       packets,
		bySeq:         make(map[int32]wire.Packet, len(packets)),
		dropped:       make(map[int32]bool),
		absentResend:  make(map[int32]bool),
		stalledResend: make(map[int32]bool),
		stallAfter:    -1,
		done:          make(chan struct{}),
	}
	for _, p := range packets {
		s.bySeq[p.Sequence] = p
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve(t)

	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops the server and waits for every connection handler.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.ln.Close()
	s.wg.Wait()
}

// Resends returns the sequences requested via resend, in arrival order.
func (s *Server) Resends() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.resends...)
}

// Streams returns how many stream-all requests were served.
func (s *Server) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// MaxConcurrentResends returns the highest number of resends held at once.
func (s *Server) MaxConcurrentResends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

func (s *Server) serve(t testing.TB) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(t, conn)
		}()
	}
}

func (s *Server) handle(t testing.TB, conn net.Conn) {
	req := make([]byte, wire.RequestSize)
	if _, err := io.ReadFull(conn, req); err != nil {
		return
	}

	switch req[0] {
	case wire.CallStreamAll:
		s.stream(t, conn)
	case wire.CallResend:
		s.resend(t, conn, int32(req[1]))
	}
}

func (s *Server) stream(t testing.TB, conn net.Conn) {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()

	sent := 0
	for _, p := range s.packets {
		if s.dropped[p.Sequence] {
			continue
		}
		if s.stallAfter >= 0 && sent == s.stallAfter {
			<-s.done
			return
		}
		if !s.write(t, conn, p) {
			return
		}
		sent++
	}

	if s.trailing > 0 {
		_, _ = conn.Write(make([]byte, s.trailing))
	}
}

func (s *Server) resend(t testing.TB, conn net.Conn, seq int32) {
	s.mu.Lock()
	s.resends = append(s.resends, seq)
	s.inFlight++
	if s.inFlight > s.maxConcurrent {
		s.maxConcurrent = s.inFlight
	}
	s.mu.Unlock()

	if s.resendDelay > 0 {
		select {
		case <-time.After(s.resendDelay):
		case <-s.done:
		}
	}

	// Leave the in-flight count before answering so a client slot is only
	// freed after the server has let go of it.
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if s.stalledResend[seq] {
		<-s.done
		return
	}
	if s.absentResend[seq] {
		return
	}
	p, ok := s.bySeq[seq]
	if !ok {
		return
	}
	s.write(t, conn, p)
}

func (s *Server) write(t testing.TB, conn net.Conn, p wire.Packet) bool {
	buf, err := wire.Encode(p)
	if err != nil {
		t.Errorf("encode %v: %v", p, err)
		return false
	}
	_, err = conn.Write(buf)
	return err == nil
}

// Packets builds count packets with sequences 1..count, alternating sides
// and cycling through a few symbols.
func Packets(count int) []wire.Packet {
	symbols := []string{"AAPL", "MSFT", "AMZN", "META"}
	packets := make([]wire.Packet, count)
	for i := range packets {
		side := wire.SideBuy
		if i%2 == 1 {
			side = wire.SideSell
		}
		packets[i] = wire.Packet{
			Symbol:   symbols[i%len(symbols)],
			Side:     side,
			Quantity: int32(10 * (i + 1)),
			Price:    int32(100 + i),
			Sequence: int32(i + 1),
		}
	}
	return packets
}
