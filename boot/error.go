package boot

// ErrorKind classifies a loader error. Every kind is fatal: the hand-off
// sequencer halts with a diagnostic instead of giving control to a kernel
// with an incomplete memory layout.
type ErrorKind uint8

const (
	// OutOfMemory is reported when no usable region can satisfy a frame
	// request.
	OutOfMemory ErrorKind = iota + 1

	// MappingConflict is reported when a virtual range is already mapped
	// to a different physical range or with different permissions.
	MappingConflict

	// InvalidKernelImage is reported for malformed or unsupported ELF
	// images.
	InvalidKernelImage

	// UnsupportedPlatform is reported when the privilege state cannot be
	// set up on the running CPU.
	UnsupportedPlatform

	// FirmwareFailure is reported when a firmware service invoked on
	// behalf of the loader fails.
	FirmwareFailure
)

// String implements fmt.Stringer for ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case OutOfMemory:
		return "out of memory"
	case MappingConflict:
		return "mapping conflict"
	case InvalidKernelImage:
		return "invalid kernel image"
	case UnsupportedPlatform:
		return "unsupported platform"
	case FirmwareFailure:
		return "firmware failure"
	default:
		return "unknown"
	}
}

// Error describes a loader error. All loader errors must be defined as global
// variables that are pointers to the Error structure so callers can compare
// them by identity.
type Error struct {
	// The error class.
	Kind ErrorKind

	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether err is a loader error of the given kind.
func Is(err *Error, kind ErrorKind) bool {
	return err != nil && err.Kind == kind
}
