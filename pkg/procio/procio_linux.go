//go:build linux && (amd64 || arm64)

package procio

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/memflow/memflow-qemu/pkg/logflags"
)

// Engine accesses the memory of one target process. It is owned by a
// single connector and is not safe for concurrent use.
type Engine struct {
	pid int
	log logflags.Logger
}

// New returns an Engine for the given process. No handle is held open;
// validity is checked on every transfer by the kernel.
func New(pid int) (*Engine, error) {
	return &Engine{pid: pid, log: logflags.IOEngineLogger()}, nil
}

// Pid returns the target process id.
func (e *Engine) Pid() int { return e.pid }

// Close releases the engine. Idempotent.
func (e *Engine) Close() error { return nil }

// ReadAt fills buf from the target's address space at addr. Short reads
// are resumed; persistent lack of progress becomes a PartialTransferError.
func (e *Engine) ReadAt(addr uint64, buf []byte) error {
	return e.transfer(addr, buf, processVmRead)
}

// WriteAt copies buf into the target's address space at addr.
func (e *Engine) WriteAt(addr uint64, buf []byte) error {
	return e.transfer(addr, buf, processVmWrite)
}

func (e *Engine) transfer(addr uint64, buf []byte, op func(int, uintptr, []byte) (int, error)) error {
	done, stalls := 0, 0
	for done < len(buf) {
		n, err := op(e.pid, uintptr(addr)+uintptr(done), buf[done:])
		if err != nil {
			return e.transferError(addr+uint64(done), err)
		}
		if n <= 0 {
			stalls++
			if stalls > maxShortRetries {
				return &PartialTransferError{Addr: addr, Want: len(buf), Got: done}
			}
			continue
		}
		e.log.Debugf("transferred %d bytes at %#x", n, addr+uint64(done))
		done += n
	}
	return nil
}

// transferError maps syscall errnos onto the connector error taxonomy.
func (e *Engine) transferError(addr uint64, err error) error {
	switch err {
	case syscall.ESRCH:
		return fmt.Errorf("pid %d: %w", e.pid, ErrProcessGone)
	case syscall.EPERM:
		return fmt.Errorf("reading memory of pid %d requires ptrace access (CAP_SYS_PTRACE or root): %w", e.pid, os.ErrPermission)
	case syscall.EFAULT:
		return fmt.Errorf("address %#x is not mapped in pid %d", addr, e.pid)
	default:
		return fmt.Errorf("process memory transfer at %#x failed: %w", addr, err)
	}
}

// processVmRead calls process_vm_readv
func processVmRead(pid int, addr uintptr, data []byte) (int, error) {
	len_iov := uint64(len(data))
	local_iov := sys.Iovec{Base: &data[0], Len: len_iov}
	remote_iov := remoteIovec{base: addr, len: uintptr(len_iov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_READV, uintptr(pid), uintptr(unsafe.Pointer(&local_iov)), 1, uintptr(unsafe.Pointer(&remote_iov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}

// processVmWrite calls process_vm_writev
func processVmWrite(pid int, addr uintptr, data []byte) (int, error) {
	len_iov := uint64(len(data))
	local_iov := sys.Iovec{Base: &data[0], Len: len_iov}
	remote_iov := remoteIovec{base: addr, len: uintptr(len_iov)}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_WRITEV, uintptr(pid), uintptr(unsafe.Pointer(&local_iov)), 1, uintptr(unsafe.Pointer(&remote_iov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}

// remoteIovec mirrors struct iovec for the remote side of the transfer.
type remoteIovec struct {
	base uintptr
	len  uintptr
}
