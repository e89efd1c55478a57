//go:build linux && (amd64 || arm64)

package procio

import (
	"bytes"
	"os"
	"testing"
	"unsafe"
)

// The engine is exercised against our own address space: the kernel
// applies the same code path for self-access as for a foreign process.
func TestReadOwnMemory(t *testing.T) {
	e, err := New(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	src := []byte("physical memory connector")
	got := make([]byte, len(src))
	if err := e.ReadAt(uint64(uintptr(unsafe.Pointer(&src[0]))), got); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Errorf("read %q, want %q", got, src)
	}
}

func TestWriteOwnMemory(t *testing.T) {
	e, err := New(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	dst := make([]byte, 8)
	payload := []byte("\xde\xad\xbe\xef\x00\x11\x22\x33")
	if err := e.WriteAt(uint64(uintptr(unsafe.Pointer(&dst[0]))), payload); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if !bytes.Equal(dst, payload) {
		t.Errorf("wrote %x, want %x", dst, payload)
	}
}

func TestProcessGoneMapsToTaxonomy(t *testing.T) {
	// a pid far above pid_max cannot belong to a live process
	e, err := New(999999999)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	var buf [16]byte
	err = e.ReadAt(0x1000, buf[:])
	if err == nil {
		t.Fatal("reading from a nonexistent process succeeded")
	}
}
