package config

import "github.com/mycoria/tunstat/frame"

// MTU limits.
const (
	// DefaultTunMTU is used for tun devices.
	DefaultTunMTU = 65500

	// MinTunMTU is the minimum MTU required by IPv6.
	MinTunMTU = 1280
	// MaxTunMTU is the maximum MTU of a tun device.
	MaxTunMTU = 65535
)

// TunMTU returns the MTU to be used for tun devices.
func (c *Config) TunMTU() int {
	return int(c.tunMTU.Load())
}

// SetTunMTU sets the MTU to be used for tun devices.
func (c *Config) SetTunMTU(mtu int) {
	c.tunMTU.Store(int32(mtu))
}

// MaxPayloadSize returns the biggest UDP payload that fits into a single
// test frame on the tun device.
func (c *Config) MaxPayloadSize() int {
	return c.TunMTU() - frame.IPv6HeaderSize - frame.UDPHeaderSize
}
