// Package elfload loads ELF64 kernel images into a page table hierarchy
// under construction.
package elfload

import (
	"bytes"
	"debug/elf"
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
	"gopherboot/boot/mm/pmm"
	"gopherboot/boot/mm/vmm"
	"gopherboot/bootinfo"
)

var (
	errMalformedImage = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "malformed ELF image"}
	errNotELF64       = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "kernel image is not an ELF64 file"}
	errNotLSB         = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "kernel image is not little-endian"}
	errWrongMachine   = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "kernel image targets a different machine"}
	errNotExecutable  = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "kernel image is not an executable"}
	errNoLoadable     = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "kernel image has no loadable segments"}
	errEntryOutside   = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "entry point lies outside the loadable segments"}
	errFileSize       = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "segment file size exceeds its memory size"}
	errTruncated      = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "segment data extends past the end of the image"}
	errBadAddress     = &boot.Error{Kind: boot.InvalidKernelImage, Module: "elf_loader", Message: "segment virtual range is not canonical"}
)

// Mapper establishes virtual to physical mappings.
type Mapper interface {
	Map(virtAddr, physAddr uintptr, size mm.Size, perm vmm.Perm) *boot.Error
}

// Segment describes a loaded PT_LOAD segment.
type Segment struct {
	VirtAddr uintptr
	PhysAddr uintptr
	FileSize mm.Size
	MemSize  mm.Size
	Perm     vmm.Perm
}

// Kernel describes a loaded kernel image.
type Kernel struct {
	Entry    uintptr
	Segments []Segment
	Sections []bootinfo.ElfSection
}

// Load validates image and loads every PT_LOAD segment into freshly
// allocated frames which are then mapped through pdt at the segment's
// virtual address. The top-level slots used by the segments are marked in
// space so no other region is placed there.
func Load(image []byte, alloc pmm.Allocator, pdt Mapper, pmem mm.PhysicalMemory, space *vmm.AddressSpace) (*Kernel, *boot.Error) {
	f, progs, err := parse(image)
	if err != nil {
		return nil, err
	}

	kernel := &Kernel{Entry: uintptr(f.Entry)}
	for _, prog := range progs {
		seg, err := loadSegment(image, prog, alloc, pdt, pmem)
		if err != nil {
			return nil, err
		}

		if space != nil {
			space.MarkUsed(seg.VirtAddr, seg.MemSize)
		}
		kernel.Segments = append(kernel.Segments, seg)
	}

	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NULL {
			continue
		}
		kernel.Sections = append(kernel.Sections, bootinfo.NewElfSection(sec.Name, sec.Addr, sec.Size, uint64(sec.Flags)))
	}

	kfmt.Printf("[elf_loader] loaded %d segment(s), entry point: 0x%x\n", len(kernel.Segments), kernel.Entry)
	return kernel, nil
}

// parse validates the ELF header and returns the loadable program headers
// in file order.
func parse(image []byte) (*elf.File, []*elf.Prog, *boot.Error) {
	f, perr := elf.NewFile(bytes.NewReader(image))
	if perr != nil {
		kfmt.Printf("[elf_loader] %s\n", perr.Error())
		return nil, nil, errMalformedImage
	}

	switch {
	case f.Class != elf.ELFCLASS64:
		return nil, nil, errNotELF64
	case f.Data != elf.ELFDATA2LSB:
		return nil, nil, errNotLSB
	case f.Machine != targetMachine:
		kfmt.Printf("[elf_loader] image machine: %s, expected: %s\n", f.Machine, targetMachine)
		return nil, nil, errWrongMachine
	case f.Type != elf.ET_EXEC:
		return nil, nil, errNotExecutable
	}

	var (
		progs      []*elf.Prog
		entryFound bool
	)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		if prog.Filesz > prog.Memsz {
			return nil, nil, errFileSize
		}

		if end := prog.Off + prog.Filesz; end < prog.Off || end > uint64(len(image)) {
			kfmt.Printf("[elf_loader] segment at 0x%x: file range [0x%x, 0x%x) exceeds image size 0x%x\n", prog.Vaddr, prog.Off, end, len(image))
			return nil, nil, errTruncated
		}

		last := prog.Vaddr + prog.Memsz - 1
		if last < prog.Vaddr || !vmm.IsCanonical(uintptr(prog.Vaddr)) || prog.Vaddr>>47 != last>>47 {
			kfmt.Printf("[elf_loader] segment [0x%x, 0x%x] is not canonical\n", prog.Vaddr, last)
			return nil, nil, errBadAddress
		}

		if f.Entry >= prog.Vaddr && f.Entry <= last {
			entryFound = true
		}
		progs = append(progs, prog)
	}

	if len(progs) == 0 {
		return nil, nil, errNoLoadable
	}

	if !entryFound {
		kfmt.Printf("[elf_loader] entry point 0x%x is not covered by any segment\n", f.Entry)
		return nil, nil, errEntryOutside
	}

	return f, progs, nil
}

// loadSegment copies a segment into new frames, clears the bytes past its
// file size and maps it with the permissions requested by its flags.
func loadSegment(image []byte, prog *elf.Prog, alloc pmm.Allocator, pdt Mapper, pmem mm.PhysicalMemory) (Segment, *boot.Error) {
	seg := Segment{
		VirtAddr: uintptr(prog.Vaddr),
		FileSize: mm.Size(prog.Filesz),
		MemSize:  mm.Size(prog.Memsz),
	}

	if prog.Flags&elf.PF_W != 0 {
		seg.Perm |= vmm.PermWrite
	}
	if prog.Flags&elf.PF_X != 0 {
		seg.Perm |= vmm.PermExecute
	}

	pageOffset := vmm.PageOffset(seg.VirtAddr)
	frameCount := mm.Size(pageOffset + uintptr(seg.MemSize)).Pages()

	frame, err := alloc.AllocFrames(frameCount, 1, bootinfo.KernelImage)
	if err != nil {
		return seg, err
	}

	mm.Zero(pmem, frame.Address(), mm.Size(frameCount)<<mm.PageShift)
	seg.PhysAddr = frame.Address() + pageOffset
	if seg.FileSize != 0 {
		copy(pmem.Bytes(seg.PhysAddr, seg.FileSize), image[prog.Off:prog.Off+prog.Filesz])
	}

	if err = pdt.Map(seg.VirtAddr, seg.PhysAddr, seg.MemSize, seg.Perm); err != nil {
		return seg, err
	}

	kfmt.Printf("[elf_loader] segment 0x%x-0x%x (%s) -> 0x%x\n", seg.VirtAddr, seg.VirtAddr+uintptr(seg.MemSize), seg.Perm, seg.PhysAddr)
	return seg, nil
}
