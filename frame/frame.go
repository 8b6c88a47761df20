package frame

import (
	"strconv"
	"strings"

	"github.com/mycoria/tunstat/m"
)

// Test frame layout.
// Offsets are relative to the start of the raw IP packet, as read from the
// tun device.
const (
	// IPv6HeaderSize is the size of an IPv6 header without extension headers.
	IPv6HeaderSize = 40
	// UDPHeaderSize is the size of a UDP header.
	UDPHeaderSize = 8

	// PayloadPrefixSize is the amount of payload bytes before the magic.
	PayloadPrefixSize = 4

	// DefaultMarkerOffset is the offset of the magic in an UDP/IPv6 test frame.
	DefaultMarkerOffset = IPv6HeaderSize + UDPHeaderSize + PayloadPrefixSize

	// MagicSize is the size of the magic marker.
	MagicSize = 3
	// SequenceSize is the size of the little-endian sequence index after the magic.
	SequenceSize = 4

	// TrailerXDistance is the distance of the 'X' marker from the end of the frame.
	TrailerXDistance = 10

	// MinPayloadSize is the smallest payload that holds all markers.
	MinPayloadSize = PayloadPrefixSize + MagicSize + SequenceSize + TrailerXDistance

	trailerX = 'X'
	trailerE = 'E'
)

// Magic marks a test frame.
var Magic = [MagicSize]byte{100, 101, 102}

// Fault describes why a frame is not a well-formed test frame.
// Multiple faults may be combined.
type Fault uint8

// Faults.
const (
	FaultTooShort Fault = 1 << iota
	FaultBadMagic
	FaultBadTrailerX
	FaultBadTrailerE
)

// Faults lists all single faults.
var Faults = []Fault{
	FaultTooShort,
	FaultBadMagic,
	FaultBadTrailerX,
	FaultBadTrailerE,
}

// Has returns whether the given fault is set.
func (f Fault) Has(fault Fault) bool {
	return f&fault != 0
}

func (f Fault) String() string {
	if f == 0 {
		return "none"
	}

	names := make([]string, 0, len(Faults))
	for _, fault := range Faults {
		if !f.Has(fault) {
			continue
		}
		switch fault { //nolint:exhaustive
		case FaultTooShort:
			names = append(names, "too short")
		case FaultBadMagic:
			names = append(names, "wrong magic")
		case FaultBadTrailerX:
			names = append(names, "wrong marker X")
		case FaultBadTrailerE:
			names = append(names, "wrong marker E")
		}
	}
	return strings.Join(names, ", ")
}

// Marker is the result of inspecting a frame.
type Marker struct {
	// Sequence is the sequence index of the frame.
	// Only valid if HasSequence is true.
	Sequence uint32
	// HasSequence is set if the magic was found and the sequence index
	// could be read.
	HasSequence bool

	// Faults holds all detected faults.
	Faults Fault
}

// OK returns whether the frame is a well-formed test frame.
func (mk Marker) OK() bool {
	return mk.HasSequence && mk.Faults == 0
}

// Inspect checks the test frame markers of the given raw packet and reads
// the sequence index, if the magic is found at markerOffset.
func Inspect(packet []byte, markerOffset int) (mk Marker) {
	// Check magic and read sequence index.
	seqOffset := markerOffset + MagicSize
	switch {
	case markerOffset < 0 || len(packet) < seqOffset+SequenceSize:
		mk.Faults |= FaultTooShort
	case [MagicSize]byte(packet[markerOffset:seqOffset]) != Magic:
		mk.Faults |= FaultBadMagic
	default:
		mk.Sequence = m.GetUint32LE(packet[seqOffset:])
		mk.HasSequence = true
	}

	// Check trailing markers.
	switch {
	case len(packet) < TrailerXDistance:
		mk.Faults |= FaultTooShort
	default:
		if packet[len(packet)-TrailerXDistance] != trailerX {
			mk.Faults |= FaultBadTrailerX
		}
		if packet[len(packet)-1] != trailerE {
			mk.Faults |= FaultBadTrailerE
		}
	}

	return mk
}

// Dump formats up to limit bytes of the packet as decimal numbers and
// returns the position of the first magic within them, or -1.
func Dump(packet []byte, limit int) (dump string, magicPos int) {
	show := min(len(packet), limit)
	magicPos = -1

	var sb strings.Builder
	for i := range show {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(int(packet[i])))

		if magicPos < 0 &&
			i+MagicSize <= len(packet) &&
			[MagicSize]byte(packet[i:i+MagicSize]) == Magic {
			magicPos = i
		}
	}

	return sb.String(), magicPos
}
