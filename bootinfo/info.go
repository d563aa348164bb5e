// Package bootinfo defines the record a kernel receives from the loader at
// entry. All structures have a fixed little-endian layout with 8-byte
// aligned fields so a kernel written in any language can overlay them.
package bootinfo

import (
	"bytes"
	"encoding/binary"
	"gopherboot/boot"
)

const (
	// Magic identifies an encoded Info block ("GOPHBOOT").
	Magic = uint64(0x544f4f4248504f47)

	// Version is bumped on every layout change.
	Version = uint32(1)

	// maxSectionName is the size of ElfSection.Name including the
	// terminating zero.
	maxSectionName = 64
)

var (
	errBufferTooSmall = &boot.Error{Kind: boot.OutOfMemory, Module: "bootinfo", Message: "boot info does not fit in the reserved frames"}
	errBadMagic       = &boot.Error{Module: "bootinfo", Message: "buffer does not contain a boot info block"}
	errBadSlice       = &boot.Error{Module: "bootinfo", Message: "boot info array lies outside the block"}
)

// PixelFormat describes the byte order of framebuffer pixels.
type PixelFormat uint32

const (
	// RGB pixels store red in the lowest byte.
	RGB PixelFormat = iota

	// BGR pixels store blue in the lowest byte.
	BGR
)

// String implements fmt.Stringer for PixelFormat.
func (f PixelFormat) String() string {
	if f == BGR {
		return "BGR"
	}
	return "RGB"
}

// FrameBuffer describes a linear framebuffer. Address is physical;
// VirtAddress is where the loader mapped it for the kernel.
type FrameBuffer struct {
	Address       uint64
	VirtAddress   uint64
	Size          uint64
	Width         uint64
	Height        uint64
	Stride        uint64
	BytesPerPixel uint64
	Format        PixelFormat
	_             uint32
}

// ElfSection describes one section header of the loaded kernel.
type ElfSection struct {
	Name  [maxSectionName]byte
	Start uint64
	Size  uint64
	Flags uint64
}

// NewElfSection builds an ElfSection, truncating long names.
func NewElfSection(name string, start, size, flags uint64) ElfSection {
	sec := ElfSection{Start: start, Size: size, Flags: flags}
	copy(sec.Name[:maxSectionName-1], name)
	return sec
}

// SectionName returns the section name without the zero padding.
func (s *ElfSection) SectionName() string {
	if n := bytes.IndexByte(s.Name[:], 0); n >= 0 {
		return string(s.Name[:n])
	}
	return string(s.Name[:])
}

// Slice points to an array stored after the Info header. Addr is the
// virtual address of the first element as seen by the kernel.
type Slice struct {
	Addr uint64
	Len  uint64
}

// Info is the header of the block handed to the kernel.
type Info struct {
	Magic   uint64
	Version uint32

	// Size is the length in bytes of the header and all arrays.
	Size uint32

	// PhysicalMemoryOffset is the virtual address at which physical
	// address 0 is mirrored.
	PhysicalMemoryOffset uint64

	// RecursiveIndex is the top-level table slot that maps the table to
	// itself.
	RecursiveIndex uint64

	// RSDPAddress is the physical address of the ACPI RSDP or 0.
	RSDPAddress uint64

	StackTop    uint64
	StackBottom uint64

	MemoryRegions Slice
	ElfSections   Slice

	HasFrameBuffer uint32
	_              uint32
	FrameBuffer    FrameBuffer
}

var (
	headerSize  = binary.Size(Info{})
	regionSize  = binary.Size(MemoryRegion{})
	sectionSize = binary.Size(ElfSection{})
)

// EncodedSize returns the number of bytes Encode needs for the given
// number of regions and sections.
func EncodedSize(regions, sections int) int {
	return headerSize + regions*regionSize + sections*sectionSize
}

// Encode writes info followed by the region and section arrays into dst.
// dstVirt is the address at which the kernel sees dst[0]; it is used to
// fill in the Slice descriptors. The Magic, Version, Size and Slice fields
// of info are overwritten.
func Encode(dst []byte, dstVirt uint64, info *Info, regions []MemoryRegion, sections []ElfSection) (int, *boot.Error) {
	size := EncodedSize(len(regions), len(sections))
	if size > len(dst) {
		return 0, errBufferTooSmall
	}

	info.Magic = Magic
	info.Version = Version
	info.Size = uint32(size)
	info.MemoryRegions = Slice{Addr: dstVirt + uint64(headerSize), Len: uint64(len(regions))}
	info.ElfSections = Slice{
		Addr: dstVirt + uint64(headerSize+len(regions)*regionSize),
		Len:  uint64(len(sections)),
	}

	var buf bytes.Buffer
	buf.Grow(size)
	_ = binary.Write(&buf, binary.LittleEndian, info)
	_ = binary.Write(&buf, binary.LittleEndian, regions)
	_ = binary.Write(&buf, binary.LittleEndian, sections)

	return copy(dst, buf.Bytes()), nil
}

// Decode parses a block produced by Encode. srcVirt is the address the
// Slice descriptors were encoded against.
func Decode(src []byte, srcVirt uint64) (*Info, []MemoryRegion, []ElfSection, *boot.Error) {
	if len(src) < headerSize {
		return nil, nil, nil, errBadMagic
	}

	var info Info
	_ = binary.Read(bytes.NewReader(src[:headerSize]), binary.LittleEndian, &info)
	if info.Magic != Magic || int(info.Size) > len(src) {
		return nil, nil, nil, errBadMagic
	}

	block := src[:info.Size]
	if info.MemoryRegions.Len > uint64(len(block)) || info.ElfSections.Len > uint64(len(block)) {
		return nil, nil, nil, errBadSlice
	}

	regions := make([]MemoryRegion, info.MemoryRegions.Len)
	if err := readArray(block, srcVirt, info.MemoryRegions, regionSize, regions); err != nil {
		return nil, nil, nil, err
	}

	sections := make([]ElfSection, info.ElfSections.Len)
	if err := readArray(block, srcVirt, info.ElfSections, sectionSize, sections); err != nil {
		return nil, nil, nil, err
	}

	return &info, regions, sections, nil
}

func readArray(block []byte, blockVirt uint64, s Slice, elemSize int, out interface{}) *boot.Error {
	if s.Len == 0 {
		return nil
	}

	start := s.Addr - blockVirt
	end := start + s.Len*uint64(elemSize)
	if s.Addr < blockVirt || end > uint64(len(block)) {
		return errBadSlice
	}

	_ = binary.Read(bytes.NewReader(block[start:end]), binary.LittleEndian, out)
	return nil
}
