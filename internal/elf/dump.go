package elf

import (
	"fmt"
	"io"
)

// Dump writes a human-readable rendering of f's identity, file header,
// program headers and named sections to w. It is read-only reporting used
// by the image-builder CLI's verbose mode; it performs no ELF linking or
// relocation.
func (f *File) Dump(w io.Writer) {
	fmt.Fprintf(w, "class=%d endian=%d entry=0x%X phnum=%d shnum=%d shstrndx=%d\n",
		f.Identity.Class, f.Identity.Endian, f.Header.Entry,
		f.Header.ProgramEntryCount, f.Header.SectionEntryCount, f.Header.SectionStringIndex)

	fmt.Fprintln(w, "program headers:")
	for i, ph := range f.ProgramHeaders {
		fmt.Fprintf(w, "  [%2d] type=0x%X vaddr=0x%X paddr=0x%X filesz=0x%X memsz=0x%X flags=0x%X\n",
			i, ph.Type, ph.VAddr, ph.PAddr, ph.FileSz, ph.MemSz, ph.Flags)
	}

	fmt.Fprintln(w, "sections:")
	for i, s := range f.Sections {
		fmt.Fprintf(w, "  [%2d] %-16s addr=0x%X size=0x%X off=0x%X flags=0x%X loadable=%v hasContent=%v\n",
			i, s.Name, s.Header.Addr, s.Header.Size, s.Header.Offset, s.Header.Flags,
			s.Header.Loadable(), s.Header.HasContent())
	}
}
