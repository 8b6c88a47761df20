package tun

import (
	"errors"
	"os"

	"golang.zx2c4.com/wireguard/tun"

	"github.com/mycoria/tunstat/mgr"
)

const readSegments = 32

func (d *Device) tunReader(w *mgr.WorkerCtx) error {
	builder := d.instance.FrameBuilder()
	getMTU := d.instance.Config().TunMTU
	sizes := make([]int, readSegments)
	slices := make([][]byte, readSegments)

	for {
		// Refill all empty segments.
		mtu := getMTU()
		for i := range readSegments {
			if slices[i] == nil {
				slices[i] = builder.GetPooledSlice(mtu)
			}
			sizes[i] = 0
		}

		// Read from tun device.
		segments, err := d.Read(slices, sizes, 0)
		if err != nil {
			// Check if we are done before handling the error.
			if w.IsDone() {
				return nil
			}

			// Important: If an error is returned, there might still be successfully
			// read packets.
			switch {
			case errors.Is(err, tun.ErrTooManySegments):
				w.Error("not enough read segments, consider increasing", "segments", readSegments)
			case errors.Is(err, os.ErrClosed):
				return nil
			default:
				w.Error("failed to read packet", "err", err)
			}
		}

		// Process read segments.
		for i := range segments {
			// Skip empty segments.
			if sizes[i] == 0 {
				continue
			}

			// Get data from return values.
			data := slices[i][:sizes[i]]
			slices[i] = nil

			// Account before handing over.
			d.received.Add(uint64(len(data)))

			// Submit data to next handler.
			select {
			case d.frames <- data:
			default:
				select {
				case d.frames <- data:
				case <-w.Done():
					return nil
				}
			}
		}
	}
}
