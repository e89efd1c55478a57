// Package memmap implements the translation layer between guest-physical
// addresses and addresses inside the virtual address space of the QEMU
// process backing the guest.
//
// A Map is an immutable snapshot: it is fully built (and validated) before
// it is handed to a connector and never mutated afterwards. Refreshing a
// layout builds a brand new Map.
package memmap

import (
	"fmt"
	"sort"
)

// Region describes one contiguous run of guest-physical memory.
// Guest-physical address Base+i corresponds to the host virtual address
// HostAddr+i inside the QEMU process, for 0 <= i < Size.
type Region struct {
	Base     uint64
	Size     uint64
	HostAddr uint64
}

// End returns the first guest-physical address past the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x -> %#x", r.Base, r.End(), r.HostAddr)
}

// Span is one piece of a translated request, addressing Size bytes at
// HostAddr in the QEMU process.
type Span struct {
	HostAddr uint64
	Size     uint64
}

// Map is an ordered, gap-aware sequence of regions sorted by Base.
// Gaps between regions are legal and represent unmapped holes (MMIO space,
// the PCI hole below 4GiB); translating through a hole is an error, never a
// zero-fill.
type Map struct {
	regions []Region
}

// OverlapError is returned by New when two regions overlap in
// guest-physical space. A map that fails validation is never installed.
type OverlapError struct {
	A, B Region
}

func (err *OverlapError) Error() string {
	return fmt.Sprintf("memory regions overlap: %s and %s", err.A, err.B)
}

// UnmappedRangeError is returned by Translate when any byte of the
// requested range falls into a hole or past the end of the map.
type UnmappedRangeError struct {
	Addr uint64
	Size uint64
}

func (err *UnmappedRangeError) Error() string {
	return fmt.Sprintf("guest-physical range %#x-%#x is not mapped", err.Addr, err.Addr+err.Size)
}

// New builds a Map from the given regions. The regions are sorted by base
// address; zero-sized entries are dropped. Returns an OverlapError if any
// two regions overlap.
func New(regions []Region) (*Map, error) {
	rs := make([]Region, 0, len(regions))
	for _, r := range regions {
		if r.Size == 0 {
			continue
		}
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Base < rs[j].Base })
	for i := 1; i < len(rs); i++ {
		if rs[i].Base < rs[i-1].End() {
			return nil, &OverlapError{A: rs[i-1], B: rs[i]}
		}
	}
	return &Map{regions: rs}, nil
}

// Regions returns the regions of the map in ascending base order.
// The returned slice must not be modified.
func (m *Map) Regions() []Region {
	return m.regions
}

// Size returns the total addressable guest-physical size, i.e. the end of
// the highest region. Holes count towards this size.
func (m *Map) Size() uint64 {
	if len(m.regions) == 0 {
		return 0
	}
	return m.regions[len(m.regions)-1].End()
}

// Translate resolves size bytes at guest-physical address addr into host
// address spans. The spans, concatenated, exactly cover the request in
// address order; a request crossing a region boundary produces one span per
// region since each region remaps independently. Returns an
// UnmappedRangeError if any byte of the request is not backed by a region.
func (m *Map) Translate(addr, size uint64) ([]Span, error) {
	if size == 0 {
		return nil, nil
	}

	// First region that could contain addr: the last region with
	// Base <= addr, or the next one if addr sits in the gap before it.
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].End() > addr
	})

	spans := make([]Span, 0, 1)
	cur, remaining := addr, size
	for ; i < len(m.regions) && remaining > 0; i++ {
		r := m.regions[i]
		if r.Base > cur {
			// hole before this region
			break
		}
		n := r.End() - cur
		if n > remaining {
			n = remaining
		}
		spans = append(spans, Span{HostAddr: r.HostAddr + (cur - r.Base), Size: n})
		cur += n
		remaining -= n
	}
	if remaining > 0 {
		return nil, &UnmappedRangeError{Addr: cur, Size: remaining}
	}
	return spans, nil
}
