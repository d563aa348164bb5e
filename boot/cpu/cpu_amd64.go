package cpu

const (
	// msrEFER is the extended feature enable register.
	msrEFER = 0xc0000080

	// eferNXE enables the no-execute bit in page table entries.
	eferNXE = 1 << 11

	// extFeatureLeaf is the CPUID leaf reporting extended features.
	extFeatureLeaf = 0x80000001

	// extFeatureNX is the EDX bit of extFeatureLeaf that signals NX support.
	extFeatureNX = 1 << 20
)

var (
	cpuidFn    = ID
	readMSRFn  = ReadMSR
	writeMSRFn = WriteMSR
)

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// ReadMSR returns the value of a model specific register.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value into a model specific register.
func WriteMSR(msr uint32, value uint64)

// LoadGDT loads the descriptor table pointer stored at gdtrAddr and reloads
// CS with codeSel and DS, ES and SS with dataSel. FS and GS are left intact
// as their bases hold runtime state.
func LoadGDT(gdtrAddr uintptr, codeSel, dataSel uint16)

// gdtReloaded is the far return target of LoadGDT.
func gdtReloaded()

// JumpToKernel disables interrupts, activates the page table at pdtPhysAddr,
// switches to the stack ending at stackTop and jumps to entry with bootInfo
// as the first System V argument. It never returns.
func JumpToKernel(pdtPhysAddr, stackTop, entry, bootInfo uintptr)

// TrampolineSize bounds the length of the JumpToKernel code.
const TrampolineSize = 64

// TrampolineAddr returns the address of the code that performs the switch
// in JumpToKernel. The TrampolineSize bytes starting there must be
// identity-mapped in the kernel address space.
func TrampolineAddr() uintptr

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasNoExecute returns true if the CPU supports no-execute page protection.
func HasNoExecute() bool {
	if maxLeaf, _, _, _ := cpuidFn(0x80000000); maxLeaf < extFeatureLeaf {
		return false
	}

	_, _, _, edx := cpuidFn(extFeatureLeaf)
	return edx&extFeatureNX != 0
}

// EnableNoExecute sets EFER.NXE so the no-execute bit of page table entries
// is honored instead of faulting as a reserved bit.
func EnableNoExecute() {
	if efer := readMSRFn(msrEFER); efer&eferNXE == 0 {
		writeMSRFn(msrEFER, efer|eferNXE)
	}
}
