// Package procio reads and writes the address space of another process
// through the process_vm_readv and process_vm_writev syscalls.
package procio

import (
	"errors"
	"fmt"
)

// ErrProcessGone indicates that the target process no longer exists. The
// connector reacts by re-resolving the process and rebuilding its memory
// map once before giving up.
var ErrProcessGone = errors.New("target process is gone")

// ErrUnsupported indicates that the platform offers no way to access the
// memory of another process.
var ErrUnsupported = errors.New("process memory access is not supported on this platform")

// PartialTransferError is returned when the kernel repeatedly transfers
// fewer bytes than requested and no forward progress is being made.
type PartialTransferError struct {
	Addr uint64
	Want int
	Got  int
}

func (err *PartialTransferError) Error() string {
	return fmt.Sprintf("partial transfer at %#x: %d of %d bytes", err.Addr, err.Got, err.Want)
}

// Partial transfers are resumed from the short count; this bounds how many
// zero-progress attempts are made before giving up.
const maxShortRetries = 3
