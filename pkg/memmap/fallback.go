package memmap

import (
	"fmt"
	"strings"
)

const (
	kb = uint64(1) << 10
	mb = uint64(1) << 20
	gb = uint64(1) << 30
)

// q35 guests with at least this much RAM split it across the 4GiB boundary.
const q35HighmemSplit = 2816 * mb

// Guest RAM backings smaller than this cannot hold any known layout.
const minBackingSize = 1 * mb

// UnknownMachineLayoutError is returned by Fallback when the probed machine
// configuration matches no known layout. This is fatal: without a layout
// the connector has no way to locate guest RAM.
type UnknownMachineLayoutError struct {
	Machine     string
	BackingSize uint64
}

func (err *UnknownMachineLayoutError) Error() string {
	return fmt.Sprintf("no known memory layout for machine %q with %#x bytes of backing RAM", err.Machine, err.BackingSize)
}

// Fallback builds a Map from the static layout table, used when the QMP
// monitor is unavailable. The machine string comes from the -machine
// argument of the QEMU process (or "aarch64" detected from the binary
// name); backingBase and backingSize describe the guest-RAM backing
// mapping found in the process.
//
// Matching is by explicit machine class only: "q35" (split at 2816MiB of
// RAM), "pc"/"pc-i440fx*"/"i440fx", and "aarch64"/"virt". Anything else,
// or a backing smaller than 1MiB, is an UnknownMachineLayoutError rather
// than a guess.
func Fallback(machine string, backingBase, backingSize uint64) (*Map, error) {
	if backingSize < minBackingSize {
		return nil, &UnknownMachineLayoutError{Machine: machine, BackingSize: backingSize}
	}
	switch {
	case strings.Contains(machine, "q35"):
		if backingSize >= q35HighmemSplit {
			return New(fallbackQ35(backingBase, backingSize))
		}
		return New(fallbackQ35SmallMem(backingBase, backingSize))
	case strings.Contains(machine, "aarch64"), strings.Contains(machine, "virt"):
		return New(fallbackAarch64(backingBase, backingSize))
	case machine == "pc", strings.HasPrefix(machine, "pc-i440fx"), strings.Contains(machine, "i440fx"):
		return New(fallbackPC(backingBase, backingSize))
	default:
		return nil, &UnknownMachineLayoutError{Machine: machine, BackingSize: backingSize}
	}
}

// Layout of a q35 guest with 2816MiB of RAM or more:
//
//	0000000000000000-000000000009ffff (prio 0, ram): pc.ram
//	00000000000c0000-00000000000c3fff (prio 0, rom): pc.ram @00000000000c0000
//	0000000000100000-000000007fffffff (prio 0, ram): pc.ram @0000000000100000
//	0000000100000000-000000047fffffff (prio 0, ram): pc.ram @0000000080000000
func fallbackQ35(base, size uint64) []Region {
	return []Region{
		{Base: 1 * mb, Size: 2*gb - 1*mb, HostAddr: base + 1*mb},
		{Base: 4 * gb, Size: size - 2*gb, HostAddr: base + 2*gb},
	}
}

// Same as fallbackQ35 but all RAM fits below the PCI hole.
func fallbackQ35SmallMem(base, size uint64) []Region {
	return []Region{
		{Base: 1 * mb, Size: size - 1*mb, HostAddr: base + 1*mb},
	}
}

// On aarch64 guest RAM is shifted up by 1GiB and linear from there.
func fallbackAarch64(base, size uint64) []Region {
	return []Region{
		{Base: 1 * gb, Size: size, HostAddr: base},
	}
}

// Layout of a pc-i440fx guest:
//
//	0000000000000000-00000000000bffff (prio 0, ram): pc.ram
//	00000000000c0000-00000000000cafff (prio 0, rom): pc.ram @00000000000c0000
//	00000000000cb000-00000000000cdfff (prio 0, ram): pc.ram @00000000000cb000
//	00000000000ce000-00000000000e7fff (prio 0, rom): pc.ram @00000000000ce000
//	00000000000e8000-00000000000effff (prio 0, ram): pc.ram @00000000000e8000
//	00000000000f0000-00000000000fffff (prio 0, rom): pc.ram @00000000000f0000
//	0000000000100000-00000000bfffffff (prio 0, ram): pc.ram @0000000000100000
//	0000000100000000-000000023fffffff (prio 0, ram): pc.ram @00000000c0000000
func fallbackPC(base, size uint64) []Region {
	rs := []Region{
		{Base: 0, Size: 768 * kb, HostAddr: base},
		{Base: 812 * kb, Size: 12 * kb, HostAddr: base + 812*kb},
		{Base: 928 * kb, Size: 32 * kb, HostAddr: base + 928*kb},
	}
	if size <= 3*gb {
		rs = append(rs, Region{Base: 1 * mb, Size: size - 1*mb, HostAddr: base + 1*mb})
	} else {
		rs = append(rs,
			Region{Base: 1 * mb, Size: 3*gb - 1*mb, HostAddr: base + 1*mb},
			Region{Base: 4 * gb, Size: size - 3*gb, HostAddr: base + 3*gb},
		)
	}
	return rs
}
