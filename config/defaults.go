package config

import (
	"net/netip"
	"time"

	"github.com/mycoria/tunstat/frame"
)

// DefaultTunName is the default interface name for the tun device.
const DefaultTunName = "tunstat"

// DefaultTunAddress is the default address and routed prefix of the tun device.
// Traffic to any other address within fd00::/8 is routed into the device.
var DefaultTunAddress = netip.MustParsePrefix("fd00:8080:8080:8080:8080:8080:8080:8080/8")

// DefaultSendTarget is the default destination of the test frame sender.
// It is within the default tun prefix, but not the tun address itself.
var DefaultSendTarget = netip.MustParseAddrPort("[fd42::1]:4242")

// Session defaults.
const (
	DefaultEndAfter = 4_000_000
	DefaultCapacity = 10_000_000
)

// UnboundedWindow is used for counters without a window.
const UnboundedWindow = 100 * 365 * 24 * time.Hour

// DefaultStore returns the default configuration.
func DefaultStore() Store {
	return Store{
		System: System{
			TunName:    DefaultTunName,
			TunMTU:     DefaultTunMTU,
			TunAddress: DefaultTunAddress.String(),
		},
		Session: Session{
			EndAfter:     DefaultEndAfter,
			Capacity:     DefaultCapacity,
			MarkerOffset: frame.DefaultMarkerOffset,
		},
		Counters: []CounterConfig{
			{
				Name:    "1s",
				Window:  "1s",
				Primary: true,
			},
			{
				Name:      "3s",
				Window:    "3s",
				Primary:   true,
				Integrity: true,
			},
			{
				Name:    "all",
				Primary: true,
				Silent:  true,
				Final:   true,
			},
		},
	}
}
