package elfload

import "debug/elf"

// targetMachine is the ELF machine type the loader accepts.
var targetMachine = elf.EM_X86_64
