package m

import (
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/stretchr/testify/assert"
)

func TestUint32LE(t *testing.T) {
	t.Parallel()

	b := make([]byte, 4)
	PutUint32LE(b, 0x04030201)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)
	assert.Equal(t, uint32(0x04030201), GetUint32LE(b))

	for range 100 {
		v := gofakeit.Uint32()
		PutUint32LE(b, v)
		assert.Equal(t, v, GetUint32LE(b))
	}
}
