//go:build !amd64 && !arm64

package elfload

import "debug/elf"

// targetMachine rejects every image on architectures without a loader port.
var targetMachine = elf.EM_NONE
