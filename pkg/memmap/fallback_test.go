package memmap

import (
	"errors"
	"testing"
)

func TestFallbackQ35Large(t *testing.T) {
	const base = uint64(0x7f0000000000)
	size := 4 * gb
	m, err := Fallback("pc-q35-7.2", base, size)
	if err != nil {
		t.Fatal(err)
	}
	rs := m.Regions()
	if len(rs) != 2 {
		t.Fatalf("got %d regions, want 2", len(rs))
	}
	// low RAM below the PCI hole
	if rs[0].Base != 1*mb || rs[0].End() != 2*gb || rs[0].HostAddr != base+1*mb {
		t.Errorf("low region = %s", rs[0])
	}
	// remaining RAM relocated above 4GiB
	if rs[1].Base != 4*gb || rs[1].Size != size-2*gb || rs[1].HostAddr != base+2*gb {
		t.Errorf("high region = %s", rs[1])
	}
}

func TestFallbackQ35SmallMem(t *testing.T) {
	const base = uint64(0x7f0000000000)
	size := 2 * gb
	m, err := Fallback("q35", base, size)
	if err != nil {
		t.Fatal(err)
	}
	rs := m.Regions()
	if len(rs) != 1 {
		t.Fatalf("got %d regions, want 1", len(rs))
	}
	if rs[0].Base != 1*mb || rs[0].End() != size || rs[0].HostAddr != base+1*mb {
		t.Errorf("region = %s", rs[0])
	}
}

func TestFallbackPC(t *testing.T) {
	const base = uint64(0x7f0000000000)

	m, err := Fallback("pc", base, 2*gb)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.Regions()); got != 4 {
		t.Fatalf("small pc machine: got %d regions, want 4", got)
	}
	// the low-memory ROM holes are preserved
	if _, err := m.Translate(800*kb, 0x10); err == nil {
		t.Error("translating inside the 768k..812k hole succeeded")
	}
	if _, err := m.Translate(0, 768*kb); err != nil {
		t.Errorf("translating low conventional memory failed: %v", err)
	}

	m, err = Fallback("pc-i440fx-7.2", base, 5*gb)
	if err != nil {
		t.Fatal(err)
	}
	rs := m.Regions()
	if got := len(rs); got != 5 {
		t.Fatalf("large pc machine: got %d regions, want 5", got)
	}
	high := rs[len(rs)-1]
	if high.Base != 4*gb || high.Size != 2*gb || high.HostAddr != base+3*gb {
		t.Errorf("high region = %s", high)
	}
}

func TestFallbackAarch64(t *testing.T) {
	const base = uint64(0x7f0000000000)
	m, err := Fallback("aarch64", base, 2*gb)
	if err != nil {
		t.Fatal(err)
	}
	rs := m.Regions()
	if len(rs) != 1 {
		t.Fatalf("got %d regions, want 1", len(rs))
	}
	if rs[0].Base != 1*gb || rs[0].Size != 2*gb || rs[0].HostAddr != base {
		t.Errorf("region = %s", rs[0])
	}
}

func TestFallbackUnknownMachine(t *testing.T) {
	_, err := Fallback("microvm", 0x7f0000000000, 2*gb)
	var unknown *UnknownMachineLayoutError
	if !errors.As(err, &unknown) {
		t.Fatalf("Fallback(microvm) = %v, want UnknownMachineLayoutError", err)
	}
	if unknown.Machine != "microvm" {
		t.Errorf("error names machine %q", unknown.Machine)
	}
}

func TestFallbackTinyBacking(t *testing.T) {
	_, err := Fallback("q35", 0x7f0000000000, 512*kb)
	var unknown *UnknownMachineLayoutError
	if !errors.As(err, &unknown) {
		t.Fatalf("Fallback with 512k backing = %v, want UnknownMachineLayoutError", err)
	}
}
