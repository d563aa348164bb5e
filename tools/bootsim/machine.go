package main

import (
	"fmt"
	"gopherboot/boot/handoff"
	"gopherboot/boot/mm"
	"gopherboot/bootinfo"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// byteSize accepts plain integers as well as human readable sizes such as
// "64 KiB" or "1MB".
type byteSize uint64

func (s *byteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	*s = byteSize(n)
	return nil
}

var uefiTypes = map[string]uint32{
	"reserved":              bootinfo.UEFIReservedMemoryType,
	"loader_code":           bootinfo.UEFILoaderCode,
	"loader_data":           bootinfo.UEFILoaderData,
	"boot_services_code":    bootinfo.UEFIBootServicesCode,
	"boot_services_data":    bootinfo.UEFIBootServicesData,
	"runtime_services_code": bootinfo.UEFIRuntimeServicesCode,
	"runtime_services_data": bootinfo.UEFIRuntimeServicesData,
	"conventional":          bootinfo.UEFIConventionalMemory,
	"unusable":              bootinfo.UEFIUnusableMemory,
	"acpi_reclaim":          bootinfo.UEFIACPIReclaimMemory,
	"acpi_nvs":              bootinfo.UEFIACPIMemoryNVS,
	"mmio":                  bootinfo.UEFIMemoryMappedIO,
	"mmio_port_space":       bootinfo.UEFIMemoryMappedIOPortSpace,
	"pal_code":              bootinfo.UEFIPalCode,
	"persistent":            bootinfo.UEFIPersistentMemory,
}

type regionSpec struct {
	Start uint64   `yaml:"start"`
	Size  byteSize `yaml:"size"`
	Type  string   `yaml:"type"`
}

type frameBufferSpec struct {
	Address uint64 `yaml:"address"`
	Width   uint64 `yaml:"width"`
	Height  uint64 `yaml:"height"`

	// Stride is in pixels and defaults to the width.
	Stride uint64 `yaml:"stride"`
	Format string `yaml:"format"`
}

type loaderSpec struct {
	StackPages           uint64 `yaml:"stack_pages"`
	MinFrameAddress      uint64 `yaml:"min_frame_address"`
	RecursiveIndex       uint16 `yaml:"recursive_index"`
	PhysicalMemoryOffset uint64 `yaml:"physical_memory_offset"`
}

// Machine describes the simulated firmware environment.
type Machine struct {
	Regions     []regionSpec     `yaml:"regions"`
	FrameBuffer *frameBufferSpec `yaml:"framebuffer"`
	RSDP        uint64           `yaml:"rsdp"`
	Loader      loaderSpec       `yaml:"loader"`
}

// ParseMachine decodes a YAML machine description.
func ParseMachine(r io.Reader) (*Machine, error) {
	m := &Machine{}
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(m); err != nil {
		return nil, err
	}

	if len(m.Regions) == 0 {
		return nil, fmt.Errorf("machine has no memory regions")
	}

	for i, r := range m.Regions {
		if _, ok := uefiTypes[strings.ToLower(r.Type)]; !ok {
			return nil, fmt.Errorf("region %d: unknown memory type %q", i, r.Type)
		}
		if r.Start%bootinfo.FrameSize != 0 || r.Size == 0 || uint64(r.Size)%bootinfo.FrameSize != 0 {
			return nil, fmt.Errorf("region %d: start and size must be non-zero multiples of %d", i, bootinfo.FrameSize)
		}
	}

	if fb := m.FrameBuffer; fb != nil {
		if fb.Stride == 0 {
			fb.Stride = fb.Width
		}
		if f := strings.ToLower(fb.Format); f != "" && f != "rgb" && f != "bgr" {
			return nil, fmt.Errorf("framebuffer: unknown pixel format %q", fb.Format)
		}
	}

	return m, nil
}

// MemoryMap returns the regions as the firmware would report them after
// exiting boot services.
func (m *Machine) MemoryMap() []bootinfo.MemoryRegion {
	regions := make([]bootinfo.MemoryRegion, 0, len(m.Regions))
	for _, r := range m.Regions {
		regions = append(regions, bootinfo.FromUEFI(uefiTypes[strings.ToLower(r.Type)], r.Start, uint64(r.Size)/bootinfo.FrameSize))
	}
	return regions
}

// PhysicalMemory backs every region that is not device memory.
func (m *Machine) PhysicalMemory() (*mm.SparseMemory, error) {
	pmem := mm.NewSparseMemory()
	for _, region := range m.MemoryMap() {
		switch region.FirmwareType {
		case bootinfo.UEFIMemoryMappedIO, bootinfo.UEFIMemoryMappedIOPortSpace, bootinfo.UEFIUnusableMemory:
			continue
		}

		if err := pmem.AddRegion(uintptr(region.Start), mm.Size(region.Frames*bootinfo.FrameSize)); err != nil {
			return nil, err
		}
	}
	return pmem, nil
}

// Inputs returns the loader inputs for the machine.
func (m *Machine) Inputs(kernel []byte) handoff.Inputs {
	in := handoff.Inputs{KernelImage: kernel, RSDPAddress: m.RSDP}
	if fb := m.FrameBuffer; fb != nil {
		const bytesPerPixel = 4

		in.FrameBuffer = &bootinfo.FrameBuffer{
			Address:       fb.Address,
			Size:          fb.Stride * fb.Height * bytesPerPixel,
			Width:         fb.Width,
			Height:        fb.Height,
			Stride:        fb.Stride,
			BytesPerPixel: bytesPerPixel,
		}
		if strings.ToLower(fb.Format) == "bgr" {
			in.FrameBuffer.Format = bootinfo.BGR
		}
	}
	return in
}

// Config returns the loader configuration for the machine.
func (m *Machine) Config() handoff.Config {
	return handoff.Config{
		StackPages:           m.Loader.StackPages,
		MinFrameAddress:      uintptr(m.Loader.MinFrameAddress),
		RecursiveIndex:       m.Loader.RecursiveIndex,
		PhysicalMemoryOffset: uintptr(m.Loader.PhysicalMemoryOffset),
	}
}

// firmware replays the machine memory map.
type firmware struct {
	regions []bootinfo.MemoryRegion
}

func (fw *firmware) ExitBootServices() ([]bootinfo.MemoryRegion, error) {
	if fw.regions == nil {
		return nil, fmt.Errorf("boot services already exited")
	}

	regions := fw.regions
	fw.regions = nil
	return regions, nil
}
