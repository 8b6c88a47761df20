// Package replay delivers frames from a packet capture file, as if they
// were read from the tun device.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/mgr"
)

// ErrUnsupportedLinkType is returned for captures with a link type that
// cannot be stripped to the raw IP packet.
var ErrUnsupportedLinkType = errors.New("unsupported link type")

// pcapngMagic is the block type of the pcapng section header block.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ZeroCopyReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader replays frames from a pcap or pcapng file.
type Reader struct {
	mgr *mgr.Manager

	path       string
	file       *os.File
	packets    packetReader
	linkOffset int

	frames   chan []byte
	received atomic.Uint64
	replayed atomic.Uint64

	instance instance
}

// instance is an interface subset of inst.Ance.
type instance interface {
	Config() *config.Config
	FrameBuilder() *frame.Builder
}

// New opens the given capture file for replay.
func New(instance instance, path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	// Detect file format.
	buffered := bufio.NewReader(f)
	magic, err := buffered.Peek(len(pcapngMagic))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	var packets packetReader
	if string(magic) == string(pcapngMagic) {
		packets, err = pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	} else {
		packets, err = pcapgo.NewReader(buffered)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	linkOffset, err := LinkOffset(packets.LinkType())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Reader{
		mgr:        mgr.New("replay"),
		path:       path,
		file:       f,
		packets:    packets,
		linkOffset: linkOffset,
		frames:     make(chan []byte, 1000),
		instance:   instance,
	}, nil
}

// LinkOffset returns the size of the link layer header that precedes the
// IP packet for the given link type.
func LinkOffset(linkType layers.LinkType) (int, error) {
	switch linkType { //nolint:exhaustive
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return 0, nil
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return 4, nil
	case layers.LinkTypeEthernet:
		return 14, nil
	case layers.LinkTypeLinuxSLL:
		return 16, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLinkType, linkType)
	}
}

// Manager returns the module manager.
func (r *Reader) Manager() *mgr.Manager {
	return r.mgr
}

// Start starts replaying.
func (r *Reader) Start() error {
	r.mgr.Info("replaying capture", "path", r.path, "linkType", r.packets.LinkType())
	r.mgr.Go("replay frames", r.replayWorker)
	return nil
}

// Stop stops replaying and closes the file.
func (r *Reader) Stop() error {
	r.mgr.Cancel()
	r.mgr.WaitForWorkers(0)
	return r.file.Close()
}

// Frames returns the channel on which replayed frames are delivered.
// The channel is closed when the capture is exhausted.
// Frames must be returned with ReturnFrame after use.
func (r *Reader) Frames() <-chan []byte {
	return r.frames
}

// ReturnFrame returns a frame received via Frames.
// The frame must not be used anymore in any way.
func (r *Reader) ReturnFrame(f []byte) {
	r.instance.FrameBuilder().ReturnPooledSlice(f)
}

// Drain returns the amount of bytes replayed since the last call and resets it.
func (r *Reader) Drain() uint64 {
	return r.received.Swap(0)
}

// Replayed returns the amount of replayed frames.
func (r *Reader) Replayed() uint64 {
	return r.replayed.Load()
}

func (r *Reader) replayWorker(w *mgr.WorkerCtx) error {
	builder := r.instance.FrameBuilder()
	var skipped uint64

	for {
		data, _, err := r.packets.ZeroCopyReadPacketData()
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			w.Info("capture exhausted", "replayed", r.replayed.Load(), "skipped", skipped)
			close(r.frames)
			return nil
		case err != nil:
			// Do not restart, the capture position is lost.
			w.Error("failed to read capture", "err", err, "replayed", r.replayed.Load())
			close(r.frames)
			return nil
		case len(data) <= r.linkOffset:
			skipped++
			continue
		}

		// Copy packet without the link layer to pooled slice.
		packet := data[r.linkOffset:]
		pooled := builder.GetPooledSlice(len(packet))
		if pooled == nil {
			skipped++
			continue
		}
		f := pooled[:copy(pooled, packet)]

		r.received.Add(uint64(len(f)))
		r.replayed.Add(1)

		select {
		case r.frames <- f:
		case <-w.Done():
			return nil
		}
	}
}
