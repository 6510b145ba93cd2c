// Package server implements the Roughtime UDP server loop: a single
// goroutine that admits well-formed requests into a batch and flushes
// the batch (signing one Merkle-committed response for every admitted
// client) once it's full or on an optional idle timer. A partial batch
// still pending at shutdown is dropped, not flushed.
//
// The read-loop shape — a dedicated goroutine feeding packets onto a
// channel, with the main loop select-ing over that channel and a timer
// — generalizes a UDP discovery protocol's read loop from "forward
// every unhandled packet" to "admit every well-formed packet into a
// batch".
package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kyhwana/roughenough/internal/batch"
	"github.com/kyhwana/roughenough/internal/metrics"
	"github.com/kyhwana/roughenough/internal/wire"
	"github.com/kyhwana/roughenough/roughtime"
)

// maxPacketSize bounds a single read. Roughtime requests are small;
// this only needs to be larger than any legitimate request plus
// padding a well-behaved client might add.
const maxPacketSize = 4096

// Config holds the server-loop knobs not owned by the batch responder
// itself.
type Config struct {
	BatchSize      int
	MinRequestSize int           // 0 disables the check
	FlushInterval  time.Duration // 0 disables the idle-flush timer
}

// Server owns the UDP socket and drives the Idle -> Collecting ->
// Flushing state machine described by the batch/request model. It is
// not safe for concurrent use by design: everything happens on the
// goroutine that calls Run, matching the "no locking on batch or
// on_priv" concurrency model.
type Server struct {
	conn      *net.UDPConn
	responder *batch.Responder
	cfg       Config
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	closing int32 // atomic; set once by Close
}

// New binds a UDP socket at addr and returns a Server ready for Run.
func New(addr *net.UDPAddr, responder *batch.Responder, cfg Config, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{conn: conn, responder: responder, cfg: cfg, metrics: m, logger: logger}, nil
}

// LocalAddr returns the bound socket's address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close marks the server as shutting down and closes the socket,
// which unblocks the read goroutine. Run returns once it has drained
// whatever the read goroutine already queued; any partial (non-full)
// batch at that point is dropped, not flushed, per the shutdown
// policy.
func (s *Server) Close() error {
	atomic.StoreInt32(&s.closing, 1)
	return s.conn.Close()
}

type packet struct {
	data []byte
	from *net.UDPAddr
}

// Run drives the server loop until ctx is cancelled or the socket is
// closed. It blocks the calling goroutine.
func (s *Server) Run(ctx context.Context) error {
	packets := make(chan packet, s.cfg.BatchSize)
	go s.readLoop(packets)

	var b batch.Batch
	var timer *time.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p, ok := <-packets:
			if !ok {
				return nil
			}
			s.admit(&b, p)
			if s.cfg.FlushInterval > 0 && b.Len() == 1 {
				timer = time.NewTimer(s.cfg.FlushInterval)
				timerC = timer.C
			}
			if b.Len() >= s.cfg.BatchSize {
				stopTimer()
				s.flush(&b)
			}

		case <-timerC:
			timerC = nil
			s.flush(&b)
		}
	}
}

// readLoop runs on its own goroutine: it only reads datagrams and
// forwards them, so every protocol decision stays on the Run
// goroutine.
func (s *Server) readLoop(out chan<- packet) {
	defer close(out)
	buf := make([]byte, maxPacketSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&s.closing) == 0 {
				s.logger.Debug().Err(err).Msg("udp read error")
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- packet{data: cp, from: from}
	}
}

func (s *Server) admit(b *batch.Batch, p packet) {
	if s.metrics != nil {
		s.metrics.RequestsReceived.Inc()
	}
	if s.cfg.MinRequestSize > 0 && len(p.data) < s.cfg.MinRequestSize {
		s.drop("too_short", nil, p.from)
		return
	}
	req, err := roughtime.DecodeRequest(p.data)
	if err != nil {
		s.drop(classifyDecodeError(err), err, p.from)
		return
	}
	b.Add(batch.Pending{Nonce: req.Nonce, Addr: p.from})
}

func classifyDecodeError(err error) string {
	switch {
	case errors.Is(err, wire.ErrFieldMissing):
		return "missing_nonce"
	case errors.Is(err, wire.ErrInvalidField):
		return "wrong_nonce_size"
	default:
		return "parse_error"
	}
}

func (s *Server) drop(reason string, err error, from *net.UDPAddr) {
	if s.metrics != nil {
		s.metrics.RequestsDropped.WithLabelValues(reason).Inc()
	}
	s.logger.Debug().Str("reason", reason).Stringer("from", from).Err(err).Msg("request dropped")
}

func (s *Server) flush(b *batch.Batch) {
	replies, err := s.responder.Flush(b)
	if err != nil {
		s.logger.Error().Err(err).Msg("batch flush failed")
		return
	}
	for _, r := range replies {
		if _, err := s.conn.WriteToUDP(r.Bytes, r.Addr); err != nil {
			s.logger.Debug().Err(err).Stringer("to", r.Addr).Msg("response send failed")
		}
	}
}
