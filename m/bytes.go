package m

// GetUint32LE returns a little-endian uint32 from the first four bytes of the given byte slice.
func GetUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// PutUint32LE writes the uint32 little-endian to the first four bytes of the given byte slice.
func PutUint32LE(dst []byte, src uint32) {
	dst[0] = byte(src)
	dst[1] = byte(src >> 8)
	dst[2] = byte(src >> 16)
	dst[3] = byte(src >> 24)
}
