// Package acpi validates and locates the ACPI root system description
// pointer handed to the kernel.
package acpi

import (
	"bytes"
	"encoding/binary"
	"gopherboot/boot"
	"gopherboot/boot/kfmt"
	"gopherboot/boot/mm"
)

const (
	// The legacy BIOS area scanned when the firmware configuration table
	// does not provide an RSDP.
	rsdpLocationLow uintptr = 0xe0000
	rsdpLocationHi  uintptr = 0xfffff
	rsdpAlignment   uintptr = 16

	acpiRev1 uint8 = 0
)

var (
	errMissingRSDP = &boot.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errInvalidRSDP = &boot.Error{Module: "acpi", Message: "RSDP signature or checksum mismatch"}

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}

	rsdpSize    = binary.Size(RSDPDescriptor{})
	extRSDPSize = binary.Size(ExtRSDPDescriptor{})
)

// RSDPDescriptor defines the root system descriptor pointer for ACPI 1.0.
type RSDPDescriptor struct {
	// The signature must contain "RSD PTR " (last byte is a space).
	Signature [8]byte

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	Checksum uint8

	OEMID [6]byte

	// ACPI revision number. It is 0 for ACPI1.0 and 2 for versions 2.0 to 6.2.
	Revision uint8

	// Physical address of 32-bit root system descriptor table.
	RSDTAddr uint32
}

// ExtRSDPDescriptor extends RSDPDescriptor with additional fields. It is used
// when RSDPDescriptor.Revision > 1.
type ExtRSDPDescriptor struct {
	RSDPDescriptor

	// The size of the 64-bit root system descriptor table.
	Length uint32

	// Physical address of 64-bit root system descriptor table.
	XSDTAddr uint64

	// A value that when added to the sum of all other bytes contained in
	// this descriptor should result in the value 0.
	ExtendedChecksum uint8

	_ [3]byte
}

// TableAddr returns the address of the XSDT when available or the RSDT
// otherwise, and whether it is an XSDT.
func (d *ExtRSDPDescriptor) TableAddr() (uintptr, bool) {
	if d.Revision != acpiRev1 && d.XSDTAddr != 0 {
		return uintptr(d.XSDTAddr), true
	}
	return uintptr(d.RSDTAddr), false
}

// ReadRSDP decodes and validates the RSDP stored at physAddr. For ACPI 1.0
// descriptors only the RSDPDescriptor part is populated.
func ReadRSDP(pmem mm.PhysicalMemory, physAddr uintptr) (*ExtRSDPDescriptor, *boot.Error) {
	if rc, ok := pmem.(rangeChecker); ok && !rc.Contains(physAddr, mm.Size(extRSDPSize)) {
		return nil, errInvalidRSDP
	}

	raw := pmem.Bytes(physAddr, mm.Size(rsdpSize))
	if !bytes.Equal(raw[:len(rsdpSignature)], rsdpSignature[:]) || !validTable(raw) {
		return nil, errInvalidRSDP
	}

	var desc ExtRSDPDescriptor
	_ = binary.Read(bytes.NewReader(raw), binary.LittleEndian, &desc.RSDPDescriptor)
	if desc.Revision == acpiRev1 {
		return &desc, nil
	}

	// System uses ACPI revision > 1 and provides an extended RSDP
	// which can be accessed at the same place.
	raw = pmem.Bytes(physAddr, mm.Size(extRSDPSize))
	if !validTable(raw) {
		return nil, errInvalidRSDP
	}
	_ = binary.Read(bytes.NewReader(raw), binary.LittleEndian, &desc)
	return &desc, nil
}

// rangeChecker is implemented by PhysicalMemory backends that do not cover
// the whole physical address space.
type rangeChecker interface {
	Contains(physAddr uintptr, size mm.Size) bool
}

// LocateRSDP scans the legacy BIOS area for a valid RSDP. The descriptor
// must be aligned on a 16-byte boundary.
func LocateRSDP(pmem mm.PhysicalMemory) (uintptr, *boot.Error) {
	if rc, ok := pmem.(rangeChecker); ok && !rc.Contains(rsdpLocationLow, mm.Size(rsdpLocationHi-rsdpLocationLow+1)) {
		return 0, errMissingRSDP
	}

	for curPtr := rsdpLocationLow; curPtr < rsdpLocationHi; curPtr += rsdpAlignment {
		if _, err := ReadRSDP(pmem, curPtr); err == nil {
			kfmt.Printf("[acpi] found RSDP at 0x%x\n", curPtr)
			return curPtr, nil
		}
	}

	return 0, errMissingRSDP
}

// validTable returns true if all bytes of the table add up to zero.
func validTable(table []byte) bool {
	var sum uint8
	for _, b := range table {
		sum += b
	}

	return sum == 0
}
