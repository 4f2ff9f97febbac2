package pyzordigest

import "errors"

// Error kinds returned by Update and the buffer-growth path. They mirror the
// three conditions spec'd for the C implementation: a failed allocation, a
// buffer that would grow past an implementation limit, and a call made
// outside the create/update*/finalize/destroy lifecycle.
var (
	ErrOutOfMemory  = errors.New("pyzordigest: out of memory")
	ErrOverflow     = errors.New("pyzordigest: buffer would exceed configured limit")
	ErrInvalidState = errors.New("pyzordigest: invalid call for current digester state")
)
