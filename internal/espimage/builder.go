// Package espimage turns a parsed ELF file into the ESP32 firmware image
// format: segment selection, adjacent-segment merging when the section
// count exceeds the chip's budget, and byte-exact emission of header,
// segment records, padding and checksum.
package espimage

import (
	"fmt"
	"io"
	"sort"

	"github.com/esptoolgo/esptool/internal/byteutil"
	"github.com/esptoolgo/esptool/internal/elf"
)

// TooManySegmentsError is returned when merging still leaves more segments
// than the chip's budget allows.
type TooManySegmentsError struct {
	Count, Max int
}

func (e *TooManySegmentsError) Error() string {
	return fmt.Sprintf("espimage: %d segments exceeds budget of %d for this chip", e.Count, e.Max)
}

// Overlay carries the flash-parameter overlay applied at flash time, not
// at build time: bytes 2-3 of the first transmitted block and byte 12
// (chip-id low byte).
type Overlay struct {
	FlashMode byte
	FlashSize byte // 4 bits
	FlashFreq byte // 4 bits
	ChipID    byte
}

// Apply overwrites the overlay bytes of a full ESP image buffer in place,
// mirroring the overlay rule in the image format: bytes 2, 3 of the image
// header (which doubles as the first bytes of the first transmitted flash
// block) and byte 12.
func (o Overlay) Apply(image []byte) {
	if len(image) < HeaderSize {
		return
	}
	image[2] = o.FlashMode
	image[3] = (o.FlashSize << 4) | (o.FlashFreq & 0x0F)
	image[12] = o.ChipID
}

// selectSegments collects loadable sections with real content, in file
// order.
func selectSegments(f *elf.File) ([]Segment, error) {
	var segs []Segment
	for _, s := range f.Sections {
		h := s.Header
		if !h.Loadable() || !h.HasContent() {
			continue
		}
		memType, err := f.SectionMemoryType(h)
		var memTypeKey uint32
		if err == nil {
			memTypeKey = memType.Type<<16 ^ uint32(memType.VAddr)
		}
		segs = append(segs, Segment{Addr: h.Addr, Size: h.Size, Offset: h.Offset, MemType: memTypeKey})
	}
	return segs, nil
}

// mergeAdjacent implements the sort-descending / sliding-window merge
// described for the image builder: sections with the same memory type and
// contiguous addresses collapse into one segment.
func mergeAdjacent(segs []Segment) []Segment {
	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Addr != sorted[j].Addr {
			return sorted[i].Addr > sorted[j].Addr
		}
		return sorted[i].Size > sorted[j].Size
	})

	if len(sorted) == 0 {
		return sorted
	}

	// Sentinel: append a copy of the first element so the sliding window
	// has a predecessor to compare the last real element against.
	sorted = append(sorted, sorted[0])

	var result []Segment
	curr := sorted[0]
	for i := 1; i < len(sorted); i++ {
		next := sorted[i]
		if i == len(sorted)-1 {
			result = append(result, curr)
			break
		}
		if curr.MemType == next.MemType && next.Addr+next.Size == curr.Addr {
			curr = Segment{Addr: next.Addr, Size: curr.Size + next.Size, Offset: next.Offset, MemType: curr.MemType}
		} else {
			result = append(result, curr)
			curr = next
		}
	}

	return result
}

// Build runs segment selection, optional merging, and emission, and
// returns the complete ESP32 image bytes. source must be the same ELF
// file f was parsed from, since segment payload bytes are re-read from it
// by file offset.
func Build(source io.ReadSeeker, f *elf.File, chip ChipID) ([]byte, error) {
	segs, err := selectSegments(f)
	if err != nil {
		return nil, err
	}

	maxSeg := MaxSegments(chip)
	if len(segs) > maxSeg {
		segs = mergeAdjacent(segs)
		if len(segs) > maxSeg {
			return nil, &TooManySegmentsError{Count: len(segs), Max: maxSeg}
		}
	}

	hdr := Header{
		SegmentCount: byte(len(segs)),
		EntryAddress: uint32(f.Header.Entry),
		ChipID:       uint16(chip),
	}

	image := hdr.Encode()
	checksum := byteutil.ChecksumMagic

	for _, seg := range segs {
		padded := byteutil.RoundUp(int(seg.Size), 4)

		record := make([]byte, 0, 8)
		record = byteutil.PutUint32LE(record, uint32(seg.Addr))
		record = byteutil.PutUint32LE(record, uint32(padded))
		image = append(image, record...)

		if _, err := source.Seek(int64(seg.Offset), io.SeekStart); err != nil {
			return nil, fmt.Errorf("espimage: seeking to segment payload: %w", err)
		}
		payload := make([]byte, seg.Size)
		if _, err := io.ReadFull(source, payload); err != nil {
			return nil, fmt.Errorf("espimage: reading segment payload: %w", err)
		}
		image = append(image, payload...)
		image = append(image, make([]byte, padded-int(seg.Size))...)

		checksum = byteutil.XOR(checksum, payload)
	}

	l := len(image)
	padTo := byteutil.RoundUp(l+1, 16)
	image = append(image, make([]byte, padTo-l-1)...)
	image = append(image, checksum)

	return image, nil
}
