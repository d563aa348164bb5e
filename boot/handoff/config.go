package handoff

import "gopherboot/boot/mm/pmm"

const (
	// DefaultStackPages is the kernel stack size in pages. The lowest
	// page is left unmapped as a guard.
	DefaultStackPages = 18

	// DefaultRecursiveIndex is the top-level slot that maps the page
	// table hierarchy onto itself.
	DefaultRecursiveIndex = 510
)

// Config controls the layout of the kernel address space. Zero fields
// select the defaults.
type Config struct {
	// StackPages includes the guard page and must be at least 2.
	StackPages uint64

	// MinFrameAddress is the lowest physical address the frame allocator
	// may hand out.
	MinFrameAddress uintptr

	RecursiveIndex uint16

	// PhysicalMemoryOffset is the virtual address at which physical
	// memory is mirrored. When 0 the lowest free run of top-level slots
	// that fits all RAM is used.
	PhysicalMemoryOffset uintptr
}

// DefaultConfig returns the configuration used by the UEFI entry point.
func DefaultConfig() Config {
	return Config{
		StackPages:      DefaultStackPages,
		MinFrameAddress: pmm.DefaultMinAddress,
		RecursiveIndex:  DefaultRecursiveIndex,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.StackPages < 2 {
		cfg.StackPages = def.StackPages
	}
	if cfg.MinFrameAddress == 0 {
		cfg.MinFrameAddress = def.MinFrameAddress
	}
	if cfg.RecursiveIndex == 0 {
		cfg.RecursiveIndex = def.RecursiveIndex
	}
	return cfg
}
