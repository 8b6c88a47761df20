package tun

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	"golang.zx2c4.com/wireguard/tun"

	"github.com/mycoria/tunstat/config"
	"github.com/mycoria/tunstat/frame"
	"github.com/mycoria/tunstat/mgr"
)

// Device represents a tun device.
type Device struct {
	mgr *mgr.Manager

	linkName  string
	linkIndex int

	tun tun.Device

	address netip.Prefix

	frames   chan []byte
	received atomic.Uint64

	instance instance
}

// instance is an interface subset of inst.Ance.
type instance interface {
	Config() *config.Config
	FrameBuilder() *frame.Builder
}

// Create creates a tun device and returns it.
func Create(instance instance) (*Device, error) {
	// Get parameters.
	c := instance.Config()
	linkName := c.System.TunName
	if linkName == "" {
		linkName = config.DefaultTunName
	}
	address := c.TunAddress
	if !address.IsValid() {
		return nil, fmt.Errorf("interface address %v is invalid", address)
	}

	// Create tun device.
	t, err := tun.CreateTUN(linkName, c.TunMTU())
	if err != nil {
		return nil, err
	}

	// The kernel may have assigned a different name.
	if name, err := t.Name(); err == nil {
		linkName = name
	}

	// Create device struct.
	d := &Device{
		mgr:      mgr.New("tun"),
		linkName: linkName,
		tun:      t,
		address:  address,
		frames:   make(chan []byte, 1000),
		instance: instance,
	}

	// Add address and MTU to interface.
	if err := d.InitInterface(address, c.TunMTU()); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("failed to initialize interface %s: %w", linkName, err)
	}

	return d, nil
}

// Manager returns the module manager.
func (d *Device) Manager() *mgr.Manager {
	return d.mgr
}

// Start starts brings the device online and starts workers.
func (d *Device) Start() error {
	if err := d.StartInterface(); err != nil {
		return err
	}

	d.mgr.Info("interface is up", "name", d.linkName, "address", d.address, "mtu", d.instance.Config().TunMTU())
	d.mgr.Go("read frames", d.tunReader)
	d.mgr.Go("handle tun events", d.handleTunEvents)
	return nil
}

// Stop closes the interface and stops workers.
func (d *Device) Stop() error {
	d.mgr.Cancel()
	return d.Close()
}

// Name returns the interface name.
func (d *Device) Name() string {
	return d.linkName
}

// Frames returns the channel on which read frames are delivered.
// Frames must be returned with ReturnFrame after use.
func (d *Device) Frames() <-chan []byte {
	return d.frames
}

// ReturnFrame returns a frame received via Frames.
// The frame must not be used anymore in any way.
func (d *Device) ReturnFrame(f []byte) {
	d.instance.FrameBuilder().ReturnPooledSlice(f)
}

// Drain returns the amount of bytes read since the last call and resets it.
func (d *Device) Drain() uint64 {
	return d.received.Swap(0)
}

// Read one or more packets from the Device (without any additional headers).
// On a successful read it returns the number of packets read, and sets
// packet lengths within the sizes slice. len(sizes) must be >= len(bufs).
// A nonzero offset can be used to instruct the Device on where to begin
// reading into each element of the bufs slice.
func (d *Device) Read(bufs [][]byte, sizes []int, offset int) (n int, err error) {
	return d.tun.Read(bufs, sizes, offset)
}

// TunEvents returns a channel of type Event, which is fed Device events.
func (d *Device) TunEvents() <-chan tun.Event {
	return d.tun.Events()
}

// Close stops the Device and closes the Event channel.
func (d *Device) Close() error {
	return d.tun.Close()
}

// BatchSize returns the preferred/max number of packets that can be read or
// written in a single read/write call. BatchSize must not change over the
// lifetime of a Device.
func (d *Device) BatchSize() int {
	return d.tun.BatchSize()
}

func (d *Device) handleTunEvents(w *mgr.WorkerCtx) error {
	for {
		select {
		case event := <-d.TunEvents():
			switch event {
			case 0:
				w.Info("tun interface event", "event", "closed", "eventID", event)
				return nil
			case tun.EventUp:
				w.Info("tun interface event", "event", "EventUp", "eventID", event)
			case tun.EventDown:
				w.Warn("tun interface event", "event", "EventDown", "eventID", event)
			case tun.EventMTUUpdate:
				mtu, err := d.tun.MTU()
				if err != nil {
					w.Warn("failed to get tun mtu", "err", err)
					continue
				}
				w.Info("tun interface event", "event", "EventMTUUpdate", "eventID", event, "mtu", mtu)
				d.instance.Config().SetTunMTU(mtu)
			default:
				w.Info("tun interface event", "event", "unknown", "eventID", event)
			}
		case <-w.Done():
			return nil
		}
	}
}
