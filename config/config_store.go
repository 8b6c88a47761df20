package config

import (
	"github.com/mitchellh/copystructure"
)

// Store holds all configuration in a storable format.
type Store struct {
	System   System          `json:"system,omitempty"   yaml:"system,omitempty"`
	Session  Session         `json:"session,omitempty"  yaml:"session,omitempty"`
	Counters []CounterConfig `json:"counters,omitempty" yaml:"counters,omitempty"`
	Report   Report          `json:"report,omitempty"   yaml:"report,omitempty"`
	Metrics  Metrics         `json:"metrics,omitempty"  yaml:"metrics,omitempty"`
}

// System defines all configuration regarding the system.
type System struct {
	TunName    string `json:"tunName,omitempty"    yaml:"tunName,omitempty"`
	TunMTU     int    `json:"tunMTU,omitempty"     yaml:"tunMTU,omitempty"`
	TunAddress string `json:"tunAddress,omitempty" yaml:"tunAddress,omitempty"`
}

// Session defines the measurement session.
type Session struct {
	// EndAfter ends the session when a frame with this or a higher sequence
	// index is received.
	EndAfter uint64 `json:"endAfter,omitempty" yaml:"endAfter,omitempty"`

	// Capacity is the amount of sequence indexes that can be tracked.
	// Must be at least EndAfter.
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty"`

	// MarkerOffset is the offset of the test frame magic within the raw packet.
	MarkerOffset int `json:"markerOffset,omitempty" yaml:"markerOffset,omitempty"`

	// VerifyPayload also checks the filler bytes of test frames.
	VerifyPayload bool `json:"verifyPayload,omitempty" yaml:"verifyPayload,omitempty"`
}

// CounterConfig defines a rate counter.
type CounterConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Window is the measurement window and report interval, eg. "1s".
	// Zero or empty means the window never ends.
	Window string `json:"window,omitempty" yaml:"window,omitempty"`

	// Primary also reports lifetime figures.
	Primary bool `json:"primary,omitempty" yaml:"primary,omitempty"`
	// Silent never reports while running.
	Silent bool `json:"silent,omitempty" yaml:"silent,omitempty"`
	// Integrity adds the sequence integrity report when the counter reports.
	Integrity bool `json:"integrity,omitempty" yaml:"integrity,omitempty"`
	// Final reports once more at the end of the session.
	Final bool `json:"final,omitempty" yaml:"final,omitempty"`
}

// Report defines additional report output.
type Report struct {
	// Record is a file path to record snapshots to.
	// Supported suffixes: .json, .jsonl, .cbor
	Record string `json:"record,omitempty" yaml:"record,omitempty"`

	// DumpFrames logs the bytes of the first frames.
	DumpFrames int `json:"dumpFrames,omitempty" yaml:"dumpFrames,omitempty"`
}

// Metrics defines the metrics endpoint.
type Metrics struct {
	// Listen is the address to serve prometheus metrics on, eg. "127.0.0.1:9342".
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// Clone returns a full copy the store.
func (s Store) Clone() (Store, error) {
	copied, err := copystructure.Copy(s)
	if err != nil {
		return Store{}, err
	}
	return copied.(Store), nil //nolint:forcetypeassert
}
