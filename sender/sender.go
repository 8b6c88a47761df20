// Package sender emits test frames over UDP, to be received by a monitored
// tun device.
package sender

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/time/rate"

	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/mgr"
)

// Defaults.
const (
	DefaultPayloadSize = 1400
	DefaultBatchSize   = 64
	DefaultSendBuffer  = 4 * 1024 * 1024
	DefaultEndCopies   = 3

	progressInterval = time.Second
	noBufferBackoff  = 100 * time.Microsecond
)

// Options configures a sender.
type Options struct {
	// Target is the destination of the test frames.
	Target netip.AddrPort
	// Count is the amount of frames to send, with sequence indexes 0 to Count-1.
	Count uint64
	// EndMarker is the sequence index of the frame that ends the session on
	// the receiver. It is sent DefaultEndCopies times after all frames.
	// Zero disables the end frame.
	EndMarker uint64

	// PayloadSize is the UDP payload size of every frame.
	PayloadSize int
	// Rate is the maximum amount of frames per second. Zero is unlimited.
	Rate int
	// BatchSize is the amount of frames written in one call.
	BatchSize int
	// SendBuffer is the size of the socket send buffer.
	SendBuffer int
}

type batchWriter interface {
	WriteBatch(ms []ipv6.Message, flags int) (int, error)
}

// Sender sends test frames.
type Sender struct {
	mgr *mgr.Manager

	opts    Options
	builder *frame.Builder

	conn    *net.UDPConn
	batch   batchWriter
	limiter *rate.Limiter

	sent      atomic.Uint64
	sentBytes atomic.Uint64
	started   time.Time

	err  error
	done chan struct{}
}

// New validates the options and returns a new sender.
func New(builder *frame.Builder, opts Options) (*Sender, error) {
	switch {
	case !opts.Target.IsValid():
		return nil, errors.New("invalid target")
	case opts.Count > math.MaxUint32:
		return nil, fmt.Errorf("count must not exceed %d", uint64(math.MaxUint32))
	case opts.EndMarker > math.MaxUint32:
		return nil, fmt.Errorf("end marker must not exceed %d", uint64(math.MaxUint32))
	case opts.EndMarker != 0 && opts.EndMarker < opts.Count:
		return nil, errors.New("end marker must not be lower than count")
	case opts.Rate < 0:
		return nil, errors.New("rate must not be negative")
	}
	opts.Target = netip.AddrPortFrom(opts.Target.Addr().Unmap(), opts.Target.Port())
	if opts.PayloadSize == 0 {
		opts.PayloadSize = DefaultPayloadSize
	}
	if opts.PayloadSize < frame.MinPayloadSize {
		return nil, fmt.Errorf("payload size must be at least %d", frame.MinPayloadSize)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}

	s := &Sender{
		mgr:     mgr.New("sender"),
		opts:    opts,
		builder: builder,
		limiter: rate.NewLimiter(rate.Inf, opts.BatchSize),
		done:    make(chan struct{}),
	}
	if opts.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.BatchSize)
	}
	return s, nil
}

// Manager returns the module manager.
func (s *Sender) Manager() *mgr.Manager {
	return s.mgr
}

// Start connects to the target and starts sending.
func (s *Sender) Start() error {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(s.opts.Target))
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.opts.Target, err)
	}
	if err := setSendBuffer(conn, s.opts.SendBuffer); err != nil {
		s.mgr.Warn("failed to set send buffer", "size", s.opts.SendBuffer, "err", err)
	}
	s.conn = conn
	if s.opts.Target.Addr().Is4() {
		s.batch = ipv4.NewPacketConn(conn)
	} else {
		s.batch = ipv6.NewPacketConn(conn)
	}

	s.started = time.Now()
	s.mgr.Info(
		"sending test frames",
		"target", s.opts.Target,
		"count", s.opts.Count,
		"payloadSize", s.opts.PayloadSize,
		"rate", s.opts.Rate,
		"batch", s.opts.BatchSize,
	)
	s.mgr.Repeat("report progress", progressInterval, s.reportProgress)
	s.mgr.Go("send frames", s.sendFrames)
	return nil
}

// Stop stops sending and closes the connection.
func (s *Sender) Stop() error {
	s.mgr.Cancel()
	s.mgr.WaitForWorkers(0)
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Done returns a channel that is closed when all frames were sent or
// sending failed.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped sending, if any.
// Only valid after Done is closed.
func (s *Sender) Err() error {
	return s.err
}

// Sent returns the amount of frames sent.
func (s *Sender) Sent() uint64 {
	return s.sent.Load()
}

func (s *Sender) sendFrames(w *mgr.WorkerCtx) error {
	defer close(s.done)

	// Prepare batch buffers.
	msgs := make([]ipv6.Message, s.opts.BatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, s.opts.PayloadSize)}
	}

	var seq uint64
	for seq < s.opts.Count {
		n := int(min(uint64(len(msgs)), s.opts.Count-seq))
		for i := range n {
			_ = s.builder.BuildPayload(msgs[i].Buffers[0], uint32(seq)+uint32(i))
		}
		if err := s.writeBatch(w, msgs[:n]); err != nil {
			s.err = err
			if !w.IsDone() {
				w.Error("failed to send frames", "err", err, "seq", seq)
			}
			return nil
		}
		seq += uint64(n)
	}

	// Send end frames.
	if s.opts.EndMarker != 0 {
		n := min(DefaultEndCopies, len(msgs))
		for i := range n {
			_ = s.builder.BuildPayload(msgs[i].Buffers[0], uint32(s.opts.EndMarker))
		}
		if err := s.writeBatch(w, msgs[:n]); err != nil {
			s.err = err
			w.Error("failed to send end frames", "err", err)
			return nil
		}
	}

	s.logProgress(w, "all test frames sent")
	return nil
}

func (s *Sender) writeBatch(w *mgr.WorkerCtx, msgs []ipv6.Message) error {
	if err := s.limiter.WaitN(w.Ctx(), len(msgs)); err != nil {
		return err
	}

	for len(msgs) > 0 {
		n, err := s.batch.WriteBatch(msgs, 0)
		switch {
		case err != nil && isNoBufferSpace(err):
			// Kernel queue is full, retry shortly.
			select {
			case <-time.After(noBufferBackoff):
			case <-w.Done():
				return w.Ctx().Err()
			}
			continue
		case err != nil:
			return err
		case n == 0:
			return errors.New("no frames written")
		}

		for _, msg := range msgs[:n] {
			s.sentBytes.Add(uint64(len(msg.Buffers[0])))
		}
		s.sent.Add(uint64(n))
		msgs = msgs[n:]
	}
	return nil
}

func (s *Sender) reportProgress(w *mgr.WorkerCtx) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.logProgress(w, "sending")
	return nil
}

func (s *Sender) logProgress(w *mgr.WorkerCtx, msg string) {
	sent := s.sent.Load()
	elapsed := time.Since(s.started).Seconds()
	var pps, mbps float64
	if elapsed > 0 {
		pps = float64(sent) / elapsed
		mbps = float64(s.sentBytes.Load()) * 8 / elapsed / 1_000_000
	}
	w.Info(
		msg,
		"sent", sent,
		"of", s.opts.Count,
		"pps", int(pps),
		"mbit/s", fmt.Sprintf("%.1f", mbps),
	)
}
