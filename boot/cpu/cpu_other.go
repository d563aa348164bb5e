//go:build !amd64 && !arm64

package cpu

// DisableInterrupts is a no-op on architectures without a loader port.
func DisableInterrupts() {}

// Halt stops instruction execution.
func Halt() {
	for {
	}
}

// FlushTLBEntry is a no-op on architectures without a loader port.
func FlushTLBEntry(_ uintptr) {}

// ActivePDT returns 0 on architectures without a loader port.
func ActivePDT() uintptr { return 0 }

// JumpToKernel halts on architectures without a loader port.
func JumpToKernel(_, _, _, _ uintptr) { Halt() }

// TrampolineSize is 0 on architectures without a loader port.
const TrampolineSize = 0

// TrampolineAddr returns 0 on architectures without a loader port.
func TrampolineAddr() uintptr { return 0 }
