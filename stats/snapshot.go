package stats

import "time"

// RateSnapshot holds the statistics of a rate counter at one point in time.
type RateSnapshot struct {
	Counter string `cbor:"c"           json:"counter"           yaml:"counter"`
	Primary bool   `cbor:"p,omitempty" json:"primary,omitempty" yaml:"primary,omitempty"`

	PacketsTotal  uint64 `cbor:"pt" json:"packetsTotal"  yaml:"packetsTotal"`
	BytesTotal    uint64 `cbor:"bt" json:"bytesTotal"    yaml:"bytesTotal"`
	PacketsWindow uint64 `cbor:"pw" json:"packetsWindow" yaml:"packetsWindow"`
	BytesWindow   uint64 `cbor:"bw" json:"bytesWindow"   yaml:"bytesWindow"`

	Lifetime      time.Duration `cbor:"lt" json:"lifetime"      yaml:"lifetime"`
	WindowElapsed time.Duration `cbor:"wt" json:"windowElapsed" yaml:"windowElapsed"`

	// Rates are per second and zero if not yet available.
	LifetimePacketRate float64 `cbor:"lpr" json:"lifetimePacketRate" yaml:"lifetimePacketRate"`
	LifetimeByteRate   float64 `cbor:"lbr" json:"lifetimeByteRate"   yaml:"lifetimeByteRate"`
	WindowPacketRate   float64 `cbor:"wpr" json:"windowPacketRate"   yaml:"windowPacketRate"`
	WindowByteRate     float64 `cbor:"wbr" json:"windowByteRate"     yaml:"windowByteRate"`
}

// SequenceSnapshot holds the statistics of a sequence tracker at one point in time.
type SequenceSnapshot struct {
	Unique     uint64 `cbor:"u" json:"unique"     yaml:"unique"`
	MaxIndex   uint64 `cbor:"m" json:"maxIndex"   yaml:"maxIndex"`
	Duplicates uint64 `cbor:"d" json:"duplicates" yaml:"duplicates"`
	Reorders   uint64 `cbor:"r" json:"reorders"   yaml:"reorders"`

	Missing        uint64  `cbor:"mi" json:"missing"        yaml:"missing"`
	MissingPercent float64 `cbor:"mp" json:"missingPercent" yaml:"missingPercent"`

	LossNow       bool `cbor:"ln" json:"lossNow"       yaml:"lossNow"`
	LossSuspected bool `cbor:"ls" json:"lossSuspected" yaml:"lossSuspected"`
}
