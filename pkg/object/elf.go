package object

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteELF serialises the object as an ELF64 relocatable file for x86-64.
//
// Layout: ELF header, section bodies, then the section header table. The
// section list is the object's sections plus .symtab, .strtab, .shstrtab
// and one .rela per section that has relocations.
func WriteELF(w io.Writer, o *GenericObject) error {
	const (
		ehSize  = 64
		shSize  = 64
		symSize = 24
	)

	type sectionOut struct {
		name      string
		typ       elf.SectionType
		flags     elf.SectionFlag
		data      []byte
		size      uint64 // BSS only
		link      uint32
		info      uint32
		align     uint64
		entsize   uint64
		fileOff   uint64
		nameOff   uint32
		relocates string // for .rela sections: the section they patch
	}

	var outs []*sectionOut
	outs = append(outs, &sectionOut{name: "", typ: elf.SHT_NULL}) // index 0

	secIndex := make(map[string]uint32)
	for _, s := range o.Sections {
		so := &sectionOut{name: s.Name, align: 16}
		switch s.Kind {
		case Text:
			so.typ = elf.SHT_PROGBITS
			so.flags = elf.SHF_ALLOC | elf.SHF_EXECINSTR
			so.data = s.Data
		case Data:
			so.typ = elf.SHT_PROGBITS
			so.flags = elf.SHF_ALLOC | elf.SHF_WRITE
			so.data = s.Data
		case BSS:
			so.typ = elf.SHT_NOBITS
			so.flags = elf.SHF_ALLOC | elf.SHF_WRITE
			so.size = s.BSSSize
		}
		secIndex[s.Name] = uint32(len(outs))
		outs = append(outs, so)
	}

	// Symbol table: null symbol, then locals, then globals (ELF requires
	// locals first; sh_info is the index of the first global).
	strtab := &bytes.Buffer{}
	strtab.WriteByte(0)
	strOff := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		return off
	}

	symtab := &bytes.Buffer{}
	writeSym := func(nameOff uint32, info uint8, shndx uint16, value uint64) {
		binary.Write(symtab, binary.LittleEndian, nameOff)
		symtab.WriteByte(info)
		symtab.WriteByte(0) // st_other
		binary.Write(symtab, binary.LittleEndian, shndx)
		binary.Write(symtab, binary.LittleEndian, value)
		binary.Write(symtab, binary.LittleEndian, uint64(0)) // st_size
	}
	writeSym(0, 0, 0, 0)

	symIndex := make(map[string]uint32)
	next := uint32(1)
	addSyms := func(global bool) {
		for _, s := range o.Symbols {
			if s.Global != global {
				continue
			}
			bind := elf.STB_LOCAL
			if global {
				bind = elf.STB_GLOBAL
			}
			shndx, ok := secIndex[s.Section]
			if !ok {
				shndx = uint32(elf.SHN_UNDEF)
			}
			writeSym(strOff(s.Name), uint8(bind)<<4|uint8(elf.STT_NOTYPE), uint16(shndx), s.Offset)
			symIndex[s.Name] = next
			next++
		}
	}
	addSyms(false)
	firstGlobal := next
	addSyms(true)

	// Undefined symbols referenced by relocations.
	for _, r := range o.Relocations {
		if _, ok := symIndex[r.Symbol]; ok {
			continue
		}
		writeSym(strOff(r.Symbol), uint8(elf.STB_GLOBAL)<<4|uint8(elf.STT_NOTYPE), uint16(elf.SHN_UNDEF), 0)
		symIndex[r.Symbol] = next
		next++
	}

	// Relocation sections.
	relaBySection := make(map[string]*bytes.Buffer)
	for _, r := range o.Relocations {
		buf, ok := relaBySection[r.Section]
		if !ok {
			buf = &bytes.Buffer{}
			relaBySection[r.Section] = buf
		}
		var typ elf.R_X86_64
		switch r.Kind {
		case RelocPC32:
			typ = elf.R_X86_64_PLT32
		case RelocAbs64:
			typ = elf.R_X86_64_64
		}
		binary.Write(buf, binary.LittleEndian, r.Offset)
		binary.Write(buf, binary.LittleEndian, uint64(symIndex[r.Symbol])<<32|uint64(typ))
		binary.Write(buf, binary.LittleEndian, r.Addend)
	}

	symtabIdx := uint32(len(outs))
	outs = append(outs, &sectionOut{
		name: ".symtab", typ: elf.SHT_SYMTAB, data: symtab.Bytes(),
		link: symtabIdx + 1, info: firstGlobal, align: 8, entsize: symSize,
	})
	outs = append(outs, &sectionOut{
		name: ".strtab", typ: elf.SHT_STRTAB, data: strtab.Bytes(), align: 1,
	})
	for _, s := range o.Sections {
		buf, ok := relaBySection[s.Name]
		if !ok {
			continue
		}
		outs = append(outs, &sectionOut{
			name: ".rela" + s.Name, typ: elf.SHT_RELA, data: buf.Bytes(),
			link: symtabIdx, info: secIndex[s.Name], align: 8, entsize: 24,
			relocates: s.Name,
		})
	}

	// Section name string table, last.
	shstrtab := &bytes.Buffer{}
	shstrtab.WriteByte(0)
	for _, so := range outs {
		if so.name == "" {
			continue
		}
		so.nameOff = uint32(shstrtab.Len())
		shstrtab.WriteString(so.name)
		shstrtab.WriteByte(0)
	}
	shstrOut := &sectionOut{typ: elf.SHT_STRTAB, align: 1}
	shstrOut.name = ".shstrtab"
	shstrOut.nameOff = uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)
	shstrOut.data = shstrtab.Bytes()
	shstrIdx := uint32(len(outs))
	outs = append(outs, shstrOut)

	// Assign file offsets.
	off := uint64(ehSize)
	for _, so := range outs {
		if so.typ == elf.SHT_NULL || so.typ == elf.SHT_NOBITS {
			so.fileOff = off
			continue
		}
		off = align(off, 8)
		so.fileOff = off
		off += uint64(len(so.data))
	}
	shoff := align(off, 8)

	// ELF header.
	var ident [16]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	buf := &bytes.Buffer{}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(elf.ET_REL))
	binary.Write(buf, binary.LittleEndian, uint16(elf.EM_X86_64))
	binary.Write(buf, binary.LittleEndian, uint32(elf.EV_CURRENT))
	binary.Write(buf, binary.LittleEndian, uint64(0)) // e_entry
	binary.Write(buf, binary.LittleEndian, uint64(0)) // e_phoff
	binary.Write(buf, binary.LittleEndian, shoff)
	binary.Write(buf, binary.LittleEndian, uint32(0))      // e_flags
	binary.Write(buf, binary.LittleEndian, uint16(ehSize)) // e_ehsize
	binary.Write(buf, binary.LittleEndian, uint16(0))      // e_phentsize
	binary.Write(buf, binary.LittleEndian, uint16(0))      // e_phnum
	binary.Write(buf, binary.LittleEndian, uint16(shSize)) // e_shentsize
	binary.Write(buf, binary.LittleEndian, uint16(len(outs)))
	binary.Write(buf, binary.LittleEndian, uint16(shstrIdx))

	// Section bodies.
	for _, so := range outs {
		if so.typ == elf.SHT_NULL || so.typ == elf.SHT_NOBITS {
			continue
		}
		pad(buf, so.fileOff)
		buf.Write(so.data)
	}

	// Section header table.
	pad(buf, shoff)
	for _, so := range outs {
		size := uint64(len(so.data))
		if so.typ == elf.SHT_NOBITS {
			size = so.size
		}
		binary.Write(buf, binary.LittleEndian, so.nameOff)
		binary.Write(buf, binary.LittleEndian, uint32(so.typ))
		binary.Write(buf, binary.LittleEndian, uint64(so.flags))
		binary.Write(buf, binary.LittleEndian, uint64(0)) // sh_addr
		binary.Write(buf, binary.LittleEndian, so.fileOff)
		binary.Write(buf, binary.LittleEndian, size)
		binary.Write(buf, binary.LittleEndian, so.link)
		binary.Write(buf, binary.LittleEndian, so.info)
		binary.Write(buf, binary.LittleEndian, so.align)
		binary.Write(buf, binary.LittleEndian, so.entsize)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing ELF object: %w", err)
	}
	return nil
}

func align(v, to uint64) uint64 {
	return (v + to - 1) &^ (to - 1)
}

func pad(buf *bytes.Buffer, to uint64) {
	for uint64(buf.Len()) < to {
		buf.WriteByte(0)
	}
}
