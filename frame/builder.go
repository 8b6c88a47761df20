package frame

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/mycoria/tunstat/m"
)

// ErrPayloadTooSmall is returned when a payload cannot hold all markers.
var ErrPayloadTooSmall = errors.New("payload too small for test frame markers")

// Builder builds and verifies test frames.
// It holds internal pools of slices and hashers for efficiency.
type Builder struct {
	fiveHBytePool      sync.Pool
	fifteenHBytePool   sync.Pool
	fiveKBytePool      sync.Pool
	sixtyFiveKBytePool sync.Pool

	hasherPool sync.Pool
}

const (
	fiveHByteSize      = 500 + 100
	fifteenHByteSize   = 1500 + 100
	fiveKByteSize      = 5000 + 100
	sixtyFiveKByteSize = 65535 + 40 + 100 // Max IPv6 packet size + IPv6 header
)

// NewBuilder returns a new frame builder.
func NewBuilder() *Builder {
	return &Builder{
		fiveHBytePool: sync.Pool{
			New: func() any { return make([]byte, fiveHByteSize) },
		},
		fifteenHBytePool: sync.Pool{
			New: func() any { return make([]byte, fifteenHByteSize) },
		},
		fiveKBytePool: sync.Pool{
			New: func() any { return make([]byte, fiveKByteSize) },
		},
		sixtyFiveKBytePool: sync.Pool{
			New: func() any { return make([]byte, sixtyFiveKByteSize) },
		},
		hasherPool: sync.Pool{
			New: func() any { return blake3.New() },
		},
	}
}

// GetPooledSlice returns a slice from the pool (or creates one) that has
// at least the specified size.
func (b *Builder) GetPooledSlice(minSize int) (pooledSlice []byte) {
	switch {
	case minSize <= fiveHByteSize:
		return b.fiveHBytePool.Get().([]byte) //nolint:forcetypeassert
	case minSize <= fifteenHByteSize:
		return b.fifteenHBytePool.Get().([]byte) //nolint:forcetypeassert
	case minSize <= fiveKByteSize:
		return b.fiveKBytePool.Get().([]byte) //nolint:forcetypeassert
	case minSize <= sixtyFiveKByteSize:
		return b.sixtyFiveKBytePool.Get().([]byte) //nolint:forcetypeassert
	default:
		// Required min size cannot be satisfied.
		return nil
	}
}

// ReturnPooledSlice returns the give pooled slice to the pool.
// The provided slice must not be used anymore in any way.
func (b *Builder) ReturnPooledSlice(pooledSlice []byte) {
	//nolint:forcetypeassert

	// Revert slice back to original size.
	pooledSlice = pooledSlice[0:cap(pooledSlice)]
	// Reset slice to zero.
	clear(pooledSlice)
	// Put slice back into correct pool.
	switch len(pooledSlice) {
	case fiveHByteSize:
		b.fiveHBytePool.Put(pooledSlice) //nolint:staticcheck
	case fifteenHByteSize:
		b.fifteenHBytePool.Put(pooledSlice) //nolint:staticcheck
	case fiveKByteSize:
		b.fiveKBytePool.Put(pooledSlice) //nolint:staticcheck
	case sixtyFiveKByteSize:
		b.sixtyFiveKBytePool.Put(pooledSlice) //nolint:staticcheck
	default:
		// Provided slice does not match any pools.
	}
}

// BuildPayload writes a test frame UDP payload with the given sequence index
// into dst. All bytes that do not carry a marker are filled with a stream
// derived from the sequence index.
// The magic is placed at PayloadPrefixSize, which results in
// DefaultMarkerOffset within the UDP/IPv6 packet.
func (b *Builder) BuildPayload(dst []byte, seq uint32) error {
	if len(dst) < MinPayloadSize {
		return fmt.Errorf("%w: %d bytes, need %d", ErrPayloadTooSmall, len(dst), MinPayloadSize)
	}

	b.fill(dst, seq)

	// Place markers.
	copy(dst[PayloadPrefixSize:], Magic[:])
	m.PutUint32LE(dst[PayloadPrefixSize+MagicSize:], seq)
	dst[len(dst)-TrailerXDistance] = trailerX
	dst[len(dst)-1] = trailerE

	return nil
}

// VerifyPayload checks whether the filler bytes of the test frame payload
// match the stream derived from the sequence index.
// The payload starts PayloadPrefixSize bytes before the magic.
func (b *Builder) VerifyPayload(payload []byte, seq uint32) bool {
	if len(payload) < MinPayloadSize {
		return false
	}

	expected := b.GetPooledSlice(len(payload))
	if expected == nil {
		return false
	}
	defer b.ReturnPooledSlice(expected)
	expected = expected[:len(payload)]
	b.fill(expected, seq)

	// Compare filler regions only.
	seqEnd := PayloadPrefixSize + MagicSize + SequenceSize
	xPos := len(payload) - TrailerXDistance
	return string(payload[:PayloadPrefixSize]) == string(expected[:PayloadPrefixSize]) &&
		string(payload[seqEnd:xPos]) == string(expected[seqEnd:xPos]) &&
		string(payload[xPos+1:len(payload)-1]) == string(expected[xPos+1:len(payload)-1])
}

func (b *Builder) fill(dst []byte, seq uint32) {
	h := b.hasherPool.Get().(*blake3.Hasher) //nolint:forcetypeassert
	defer b.hasherPool.Put(h)

	var seqData [SequenceSize]byte
	m.PutUint32LE(seqData[:], seq)

	h.Reset()
	_, _ = h.Write(seqData[:])
	_, _ = h.Digest().Read(dst)
}
