package elf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wire structs mirror the on-disk Elf32_Ehdr/Elf64_Ehdr layout (minus the
// 16-byte identity block, which is read separately).
type fileHeader32 struct {
	Type             uint16
	Machine          uint16
	Version          uint32
	Entry            uint32
	ProgHdrOff       uint32
	SecHdrOff        uint32
	Flags            uint32
	HeaderSize       uint16
	ProgHdrEntrySize uint16
	ProgHdrCount     uint16
	SecHdrEntrySize  uint16
	SecHdrCount      uint16
	SecHdrStrIndex   uint16
}

type fileHeader64 struct {
	Type             uint16
	Machine          uint16
	Version          uint32
	Entry            uint64
	ProgHdrOff       uint64
	SecHdrOff        uint64
	Flags            uint32
	HeaderSize       uint16
	ProgHdrEntrySize uint16
	ProgHdrCount     uint16
	SecHdrEntrySize  uint16
	SecHdrCount      uint16
	SecHdrStrIndex   uint16
}

type programHeader32 struct {
	Type   uint32
	Offset uint32
	VAddr  uint32
	PAddr  uint32
	FileSz uint32
	MemSz  uint32
	Flags  uint32
	Align  uint32
}

// ELF64's Phdr moves Flags right after Type, ahead of Offset.
type programHeader64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

type sectionHeader32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

type sectionHeader64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

func byteOrder(e Endianness) binary.ByteOrder {
	if e == EndianBig {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Parse reads a complete ELF32 or ELF64 object from r, which must support
// seeking so that section names and program-header-adjacent data can be
// revisited.
func Parse(r io.ReadSeeker) (*File, error) {
	var identBuf [16]byte
	if _, err := io.ReadFull(r, identBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading identity: %v", ErrShortRead, err)
	}

	ident := Identity{
		Class:      Class(identBuf[4]),
		Endian:     Endianness(identBuf[5]),
		Version:    identBuf[6],
		OSABI:      identBuf[7],
		ABIVersion: identBuf[8],
	}
	copy(ident.Magic[:], identBuf[0:4])

	if !ident.valid() {
		if ident.Magic != magic {
			return nil, ErrInvalidELF
		}
		return nil, ErrUnsupportedClass
	}

	order := byteOrder(ident.Endian)

	f := &File{Identity: ident}
	if err := readFileHeader(r, order, ident.Class, f); err != nil {
		return nil, err
	}
	if err := readProgramHeaders(r, order, ident.Class, f); err != nil {
		return nil, err
	}
	if err := readSectionHeaders(r, order, ident.Class, f); err != nil {
		return nil, err
	}
	if err := resolveSectionNames(r, f); err != nil {
		return nil, err
	}

	return f, nil
}

func readFileHeader(r io.ReadSeeker, order binary.ByteOrder, class Class, f *File) error {
	if class == Class64 {
		var h fileHeader64
		if err := binary.Read(r, order, &h); err != nil {
			return fmt.Errorf("%w: file header: %v", ErrShortRead, err)
		}
		f.Header = FileHeader{
			Type: h.Type, Machine: h.Machine, Version: h.Version,
			Entry: h.Entry, ProgramHeaderOff: h.ProgHdrOff, SectionHeaderOff: h.SecHdrOff,
			Flags: h.Flags, HeaderSize: h.HeaderSize,
			ProgramEntrySize: h.ProgHdrEntrySize, ProgramEntryCount: h.ProgHdrCount,
			SectionEntrySize: h.SecHdrEntrySize, SectionEntryCount: h.SecHdrCount,
			SectionStringIndex: h.SecHdrStrIndex,
		}
		return nil
	}

	var h fileHeader32
	if err := binary.Read(r, order, &h); err != nil {
		return fmt.Errorf("%w: file header: %v", ErrShortRead, err)
	}
	f.Header = FileHeader{
		Type: h.Type, Machine: h.Machine, Version: h.Version,
		Entry: uint64(h.Entry), ProgramHeaderOff: uint64(h.ProgHdrOff), SectionHeaderOff: uint64(h.SecHdrOff),
		Flags: h.Flags, HeaderSize: h.HeaderSize,
		ProgramEntrySize: h.ProgHdrEntrySize, ProgramEntryCount: h.ProgHdrCount,
		SectionEntrySize: h.SecHdrEntrySize, SectionEntryCount: h.SecHdrCount,
		SectionStringIndex: h.SecHdrStrIndex,
	}
	return nil
}

func nativePhEntrySize(class Class) uint16 {
	if class == Class64 {
		return 56
	}
	return 32
}

func readProgramHeaders(r io.ReadSeeker, order binary.ByteOrder, class Class, f *File) error {
	if f.Header.ProgramEntryCount == 0 {
		return nil
	}
	if _, err := r.Seek(int64(f.Header.ProgramHeaderOff), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking to program headers: %v", ErrShortRead, err)
	}

	native := nativePhEntrySize(class)
	extra := int64(f.Header.ProgramEntrySize) - int64(native)
	if extra < 0 {
		return fmt.Errorf("%w: program header entry size %d smaller than native size %d", ErrInvalidELF, f.Header.ProgramEntrySize, native)
	}

	for i := 0; i < int(f.Header.ProgramEntryCount); i++ {
		ph, err := readOneProgramHeader(r, order, class)
		if err != nil {
			return err
		}
		f.ProgramHeaders = append(f.ProgramHeaders, ph)
		if extra > 0 {
			if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
				return fmt.Errorf("%w: skipping extra program header bytes: %v", ErrShortRead, err)
			}
		}
	}
	return nil
}

func readOneProgramHeader(r io.Reader, order binary.ByteOrder, class Class) (ProgramHeader, error) {
	if class == Class64 {
		var p programHeader64
		if err := binary.Read(r, order, &p); err != nil {
			return ProgramHeader{}, fmt.Errorf("%w: program header: %v", ErrShortRead, err)
		}
		return ProgramHeader{
			Type: p.Type, Flags: p.Flags, Offset: p.Offset,
			VAddr: p.VAddr, PAddr: p.PAddr, FileSz: p.FileSz, MemSz: p.MemSz, Align: p.Align,
		}, nil
	}

	var p programHeader32
	if err := binary.Read(r, order, &p); err != nil {
		return ProgramHeader{}, fmt.Errorf("%w: program header: %v", ErrShortRead, err)
	}
	return ProgramHeader{
		Type: p.Type, Flags: p.Flags, Offset: uint64(p.Offset),
		VAddr: uint64(p.VAddr), PAddr: uint64(p.PAddr),
		FileSz: uint64(p.FileSz), MemSz: uint64(p.MemSz), Align: uint64(p.Align),
	}, nil
}

func nativeShEntrySize(class Class) uint16 {
	if class == Class64 {
		return 64
	}
	return 40
}

func readSectionHeaders(r io.ReadSeeker, order binary.ByteOrder, class Class, f *File) error {
	if f.Header.SectionEntryCount == 0 {
		return nil
	}
	if _, err := r.Seek(int64(f.Header.SectionHeaderOff), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking to section headers: %v", ErrShortRead, err)
	}

	native := nativeShEntrySize(class)
	extra := int64(f.Header.SectionEntrySize) - int64(native)
	if extra < 0 {
		return fmt.Errorf("%w: section header entry size %d smaller than native size %d", ErrInvalidELF, f.Header.SectionEntrySize, native)
	}

	for i := 0; i < int(f.Header.SectionEntryCount); i++ {
		sh, err := readOneSectionHeader(r, order, class)
		if err != nil {
			return err
		}
		f.Sections = append(f.Sections, NamedSection{Header: sh})
		if extra > 0 {
			if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
				return fmt.Errorf("%w: skipping extra section header bytes: %v", ErrShortRead, err)
			}
		}
	}
	return nil
}

func readOneSectionHeader(r io.Reader, order binary.ByteOrder, class Class) (SectionHeader, error) {
	if class == Class64 {
		var s sectionHeader64
		if err := binary.Read(r, order, &s); err != nil {
			return SectionHeader{}, fmt.Errorf("%w: section header: %v", ErrShortRead, err)
		}
		return SectionHeader{
			NameOffset: s.Name, Type: s.Type, Flags: s.Flags, Addr: s.Addr, Offset: s.Offset,
			Size: s.Size, Link: s.Link, Info: s.Info, AddrAlign: s.AddrAlign, EntSize: s.EntSize,
		}, nil
	}

	var s sectionHeader32
	if err := binary.Read(r, order, &s); err != nil {
		return SectionHeader{}, fmt.Errorf("%w: section header: %v", ErrShortRead, err)
	}
	return SectionHeader{
		NameOffset: s.Name, Type: s.Type, Flags: uint64(s.Flags), Addr: uint64(s.Addr), Offset: uint64(s.Offset),
		Size: uint64(s.Size), Link: s.Link, Info: s.Info, AddrAlign: uint64(s.AddrAlign), EntSize: uint64(s.EntSize),
	}, nil
}

// resolveSectionNames reads each section's NUL-terminated name out of the
// section-header string table named by Header.SectionStringIndex.
func resolveSectionNames(r io.ReadSeeker, f *File) error {
	strIdx := int(f.Header.SectionStringIndex)
	if strIdx == 0 || strIdx >= len(f.Sections) {
		return nil
	}
	strTab := f.Sections[strIdx].Header

	for i := range f.Sections {
		off := strTab.Offset + uint64(f.Sections[i].Header.NameOffset)
		if _, err := r.Seek(int64(off), io.SeekStart); err != nil {
			return fmt.Errorf("%w: seeking to section name: %v", ErrShortRead, err)
		}
		name, err := readCString(r)
		if err != nil {
			return err
		}
		f.Sections[i].Name = name
	}
	return nil
}

func readCString(r io.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := r.Read(b[:]); err != nil {
			return "", fmt.Errorf("%w: reading string: %v", ErrShortRead, err)
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}
