package vmm

// Perm describes the access rights of a mapping. Read access is always
// implied.
type Perm uint8

const (
	// PermWrite allows writes to the mapped pages.
	PermWrite Perm = 1 << iota

	// PermExecute allows instruction fetches from the mapped pages.
	PermExecute

	// PermUncached maps the pages as device memory.
	PermUncached
)

// String returns a ls(1) style rendering of the permissions, e.g. "rw-".
func (p Perm) String() string {
	out := []byte("r--")
	if p&PermWrite != 0 {
		out[1] = 'w'
	}
	if p&PermExecute != 0 {
		out[2] = 'x'
	}
	if p&PermUncached != 0 {
		out = append(out, 'u')
	}
	return string(out)
}
