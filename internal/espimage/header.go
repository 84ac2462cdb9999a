package espimage

import "github.com/esptoolgo/esptool/internal/byteutil"

// HeaderSize is the fixed, padding-free size of the ESP image header.
const HeaderSize = 24

const imageMagic byte = 0xE9

// Header is the 24-byte image header described in the image format.
type Header struct {
	SegmentCount   byte
	FlashMode      byte
	FlashSizeFreq  byte // (size_id<<4)|(freq_id&0xF)
	EntryAddress   uint32
	WPPin          byte
	SPIPinDrive    [3]byte
	ChipID         uint16
	MinChipRev     byte
}

// Encode serialises the header into its 24-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = imageMagic
	buf[1] = h.SegmentCount
	buf[2] = h.FlashMode
	buf[3] = h.FlashSizeFreq
	copy(buf[4:8], byteutil.PutUint32LE(nil, h.EntryAddress))
	buf[8] = h.WPPin
	copy(buf[9:12], h.SPIPinDrive[:])
	copy(buf[12:14], byteutil.PutUint16LE(nil, h.ChipID))
	buf[14] = h.MinChipRev
	// bytes 15-22 reserved (zero), byte 23 hash flag (zero) — buf is
	// already zero-initialised.
	return buf
}

// Segment is one loadable region to be written into the image.
type Segment struct {
	Addr uint64
	Size uint64
	// Offset is the file offset in the source ELF this segment's
	// payload bytes are read from.
	Offset uint64
	// MemType disambiguates merge candidates that share an address
	// boundary but sit in different program headers.
	MemType uint32
}
