// Package byteutil holds the small binary-packing helpers shared by the
// image builder and the bootloader protocol: little-endian word
// packing, XOR checksums seeded with the ESP magic constant, and
// size-to-multiple rounding.
package byteutil

import "encoding/binary"

// ChecksumMagic is the seed value for the single-byte XOR checksum
// appended to ESP images and embedded in FLASH_DATA commands.
const ChecksumMagic byte = 0xEF

// PutUint32LE appends the little-endian encoding of v to dst.
func PutUint32LE(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// PutUint16LE appends the little-endian encoding of v to dst.
func PutUint16LE(dst []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

// Uint32LE reads a little-endian uint32 from the first 4 bytes of b.
func Uint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// Uint16LE reads a little-endian uint16 from the first 2 bytes of b.
func Uint16LE(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

// RoundUp rounds n up to the next multiple of m.
func RoundUp(n, m int) int {
	if m <= 0 {
		return n
	}
	rem := n % m
	if rem == 0 {
		return n
	}
	return n + (m - rem)
}

// XOR folds seed with every byte of data using XOR, in order.
func XOR(seed byte, data []byte) byte {
	c := seed
	for _, b := range data {
		c ^= b
	}
	return c
}
