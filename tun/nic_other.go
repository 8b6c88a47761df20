//go:build !linux

package tun

import (
	"errors"
	"net/netip"
)

// InitInterface sets the address and MTU of the interface.
// Only supported on Linux.
func (d *Device) InitInterface(prefix netip.Prefix, mtu int) error {
	return errors.ErrUnsupported
}

// StartInterface starts the interface and brings it online.
// Only supported on Linux.
func (d *Device) StartInterface() error {
	return errors.ErrUnsupported
}
