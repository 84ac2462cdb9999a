package elf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildTestELF assembles a minimal ELF32 little-endian object matching the
// "Parse" scenario: entry=0x40380080, phnum=3, shnum=23, shoff=82980,
// shstrndx=22. Only the fields Parse reads are populated meaningfully; the
// rest are zeroed out to keep the fixture small.
func buildTestELF(t *testing.T) []byte {
	t.Helper()

	const (
		ehSize = 16 + 36 // identity + Elf32_Ehdr
		phSize = 32
		shSize = 40
		phnum  = 3
		shnum  = 23
	)

	buf := make([]byte, 0, 200000)

	// Identity.
	buf = append(buf, 0x7F, 'E', 'L', 'F')
	buf = append(buf, 1, 1, 1, 0, 0) // class=32, endian=little, version, osabi, abiversion
	buf = append(buf, make([]byte, 7)...)

	// Elf32_Ehdr body.
	le := binary.LittleEndian
	var hdr [36]byte
	le.PutUint16(hdr[0:2], 2)            // e_type
	le.PutUint16(hdr[2:4], 0xF3)         // e_machine (RISC-V, arbitrary)
	le.PutUint32(hdr[4:8], 1)            // e_version
	le.PutUint32(hdr[8:12], 0x40380080)  // e_entry
	le.PutUint32(hdr[12:16], ehSize)     // e_phoff: program headers right after ehdr
	le.PutUint32(hdr[16:20], 82980)      // e_shoff
	le.PutUint32(hdr[20:24], 0)          // e_flags
	le.PutUint16(hdr[24:26], ehSize)     // e_ehsize
	le.PutUint16(hdr[26:28], phSize)     // e_phentsize
	le.PutUint16(hdr[28:30], phnum)      // e_phnum
	le.PutUint16(hdr[30:32], shSize)     // e_shentsize
	le.PutUint16(hdr[32:34], shnum)      // e_shnum
	le.PutUint16(hdr[34:36], 22)         // e_shstrndx
	buf = append(buf, hdr[:]...)

	// Three placeholder program headers (content irrelevant to this test).
	for i := 0; i < phnum; i++ {
		var ph [phSize]byte
		le.PutUint32(ph[0:4], 1) // PT_LOAD
		buf = append(buf, ph[:]...)
	}

	// Pad out to the section header offset.
	for len(buf) < 82980 {
		buf = append(buf, 0)
	}

	type secSpec struct {
		name         string
		addr, offset uint32
		size         uint32
	}
	specs := make([]secSpec, shnum)
	specs[0] = secSpec{"", 0, 0, 0} // SHN_UNDEF
	specs[1] = secSpec{".vector_table", 0x40380000, 0x2000, 0x80}
	specs[2] = secSpec{".text", 0x40380080, 0x2080, 0x1EC}
	specs[3] = secSpec{".rodata", 0x3FF00000, 0x1000, 0xB8}
	specs[4] = secSpec{".init_array", 0x40380270, 0x2270, 0x4}
	specs[5] = secSpec{".fini_array", 0x40380274, 0x2274, 0x10}
	for i := 6; i < shnum-1; i++ {
		specs[i] = secSpec{"", 0, 0, 0}
	}
	specs[shnum-1] = secSpec{".shstrtab", 0, 0, 0} // filled below

	// Build the string table content and record name offsets.
	strtab := []byte{0}
	nameOff := make([]uint32, shnum)
	for i, s := range specs {
		if s.name == "" {
			continue
		}
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.name)...)
		strtab = append(strtab, 0)
	}
	strtabOffset := uint32(82980 + shnum*shSize)
	specs[shnum-1].offset = strtabOffset
	specs[shnum-1].size = uint32(len(strtab))

	for i, s := range specs {
		var sh [shSize]byte
		le.PutUint32(sh[0:4], nameOff[i])
		le.PutUint32(sh[4:8], 1) // SHT_PROGBITS
		if s.name != "" && s.name != ".shstrtab" {
			le.PutUint32(sh[8:12], 0x2) // SHF_ALLOC
		}
		le.PutUint32(sh[12:16], s.addr)
		le.PutUint32(sh[16:20], s.offset)
		le.PutUint32(sh[20:24], s.size)
		buf = append(buf, sh[:]...)
	}

	buf = append(buf, strtab...)

	return buf
}

func TestParse_LoadableWithContent(t *testing.T) {
	raw := buildTestELF(t)
	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.Header.Entry != 0x40380080 {
		t.Errorf("Entry = 0x%X, want 0x40380080", f.Header.Entry)
	}
	if len(f.ProgramHeaders) != 3 {
		t.Errorf("ProgramHeaders count = %d, want 3", len(f.ProgramHeaders))
	}
	if len(f.Sections) != 23 {
		t.Errorf("Sections count = %d, want 23", len(f.Sections))
	}

	var loadable []NamedSection
	for _, s := range f.Sections {
		if s.Header.Loadable() && s.Header.HasContent() {
			loadable = append(loadable, s)
		}
	}
	if len(loadable) != 5 {
		t.Fatalf("loadable-with-content count = %d, want 5", len(loadable))
	}

	want := map[string]struct{ addr, size, offset uint64 }{
		".vector_table": {0x40380000, 0x80, 0x2000},
		".text":         {0x40380080, 0x1EC, 0x2080},
		".rodata":       {0x3FF00000, 0xB8, 0x1000},
		".init_array":   {0x40380270, 0x4, 0x2270},
		".fini_array":   {0x40380274, 0x10, 0x2274},
	}
	for _, s := range loadable {
		w, ok := want[s.Name]
		if !ok {
			t.Errorf("unexpected loadable section %q", s.Name)
			continue
		}
		if s.Header.Addr != w.addr || s.Header.Size != w.size || s.Header.Offset != w.offset {
			t.Errorf("%s = {addr=0x%X size=0x%X off=0x%X}, want {0x%X 0x%X 0x%X}",
				s.Name, s.Header.Addr, s.Header.Size, s.Header.Offset, w.addr, w.size, w.offset)
		}
	}
}

func TestParse_BadMagic(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x00, 0x00}
	raw = append(raw, make([]byte, 60)...)
	if _, err := Parse(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

// buildUndersizedPhentELF builds a minimal ELF32 object whose e_phentsize is
// smaller than the native 32-byte Elf32_Phdr, which must fail validation
// rather than silently misalign every subsequent header read.
func buildUndersizedPhentELF(t *testing.T) []byte {
	t.Helper()

	const ehSize = 16 + 36

	buf := make([]byte, 0, 128)
	buf = append(buf, 0x7F, 'E', 'L', 'F')
	buf = append(buf, 1, 1, 1, 0, 0)
	buf = append(buf, make([]byte, 7)...)

	le := binary.LittleEndian
	var hdr [36]byte
	le.PutUint16(hdr[0:2], 2)
	le.PutUint16(hdr[2:4], 0xF3)
	le.PutUint32(hdr[4:8], 1)
	le.PutUint32(hdr[8:12], 0x1000)
	le.PutUint32(hdr[12:16], ehSize) // e_phoff
	le.PutUint32(hdr[16:20], 0)      // e_shoff
	le.PutUint32(hdr[20:24], 0)
	le.PutUint16(hdr[24:26], ehSize)
	le.PutUint16(hdr[26:28], 20) // e_phentsize: smaller than native 32
	le.PutUint16(hdr[28:30], 1)  // e_phnum
	le.PutUint16(hdr[30:32], 0)  // e_shentsize
	le.PutUint16(hdr[32:34], 0)  // e_shnum
	le.PutUint16(hdr[34:36], 0)  // e_shstrndx
	buf = append(buf, hdr[:]...)

	buf = append(buf, make([]byte, 20)...) // one undersized program header
	return buf
}

func TestParse_ProgramHeaderEntrySizeTooSmall(t *testing.T) {
	raw := buildUndersizedPhentELF(t)
	_, err := Parse(bytes.NewReader(raw))
	if err == nil {
		t.Fatal("expected error for undersized e_phentsize")
	}
	if !errors.Is(err, ErrInvalidELF) {
		t.Errorf("err = %v, want wrapping ErrInvalidELF", err)
	}
}
