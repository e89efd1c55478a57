package memmap

import (
	"errors"
	"testing"
)

func mustMap(t *testing.T, regions []Region) *Map {
	t.Helper()
	m, err := New(regions)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestTranslateSingleRegion(t *testing.T) {
	m := mustMap(t, []Region{
		{Base: 0x100000, Size: 0x100000, HostAddr: 0x7f0000100000},
	})
	spans, err := m.Translate(0x180000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].HostAddr != 0x7f0000180000 || spans[0].Size != 0x1000 {
		t.Errorf("span = %+v", spans[0])
	}
}

func TestTranslateCrossesRegionBoundary(t *testing.T) {
	m := mustMap(t, []Region{
		{Base: 0x0, Size: 0x1000, HostAddr: 0x10000},
		{Base: 0x1000, Size: 0x1000, HostAddr: 0x50000},
	})
	spans, err := m.Translate(0xf00, 0x200)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].HostAddr != 0x10f00 || spans[0].Size != 0x100 {
		t.Errorf("first span = %+v", spans[0])
	}
	if spans[1].HostAddr != 0x50000 || spans[1].Size != 0x100 {
		t.Errorf("second span = %+v", spans[1])
	}
	var total uint64
	for _, s := range spans {
		total += s.Size
	}
	if total != 0x200 {
		t.Errorf("span sizes sum to %#x, want 0x200", total)
	}
}

func TestTranslateGap(t *testing.T) {
	// two protocol regions with a hole [0x1000, 0x2000)
	m := mustMap(t, []Region{
		{Base: 0x0, Size: 0x1000, HostAddr: 0x0},
		{Base: 0x2000, Size: 0x1000, HostAddr: 0x1000},
	})

	_, err := m.Translate(0x1800, 0x10)
	var unmapped *UnmappedRangeError
	if !errors.As(err, &unmapped) {
		t.Fatalf("Translate(0x1800, 0x10) = %v, want UnmappedRangeError", err)
	}
	if unmapped.Addr != 0x1800 {
		t.Errorf("error reports addr %#x, want 0x1800", unmapped.Addr)
	}

	// a request straddling into the hole fails too
	if _, err := m.Translate(0xf00, 0x200); err == nil {
		t.Error("Translate into the hole succeeded")
	}

	// past the end of the map
	if _, err := m.Translate(0x3000, 0x1); err == nil {
		t.Error("Translate past the end of the map succeeded")
	}
	if _, err := m.Translate(0x2fff, 0x2); err == nil {
		t.Error("Translate across the end of the map succeeded")
	}
}

func TestTranslateZeroLength(t *testing.T) {
	m := mustMap(t, []Region{{Base: 0, Size: 0x1000, HostAddr: 0}})
	spans, err := m.Translate(0x500, 0)
	if err != nil || len(spans) != 0 {
		t.Errorf("Translate(_, 0) = %v, %v", spans, err)
	}
}

func TestNewOverlap(t *testing.T) {
	_, err := New([]Region{
		{Base: 0x0, Size: 0x2000, HostAddr: 0x0},
		{Base: 0x1000, Size: 0x1000, HostAddr: 0x8000},
	})
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("New = %v, want OverlapError", err)
	}
}

func TestNewSortsAndDropsEmpty(t *testing.T) {
	m := mustMap(t, []Region{
		{Base: 0x2000, Size: 0x1000, HostAddr: 0x1000},
		{Base: 0x1800, Size: 0, HostAddr: 0xdead},
		{Base: 0x0, Size: 0x1000, HostAddr: 0x0},
	})
	rs := m.Regions()
	if len(rs) != 2 {
		t.Fatalf("got %d regions, want 2", len(rs))
	}
	if rs[0].Base != 0 || rs[1].Base != 0x2000 {
		t.Errorf("regions not sorted: %v", rs)
	}
	if m.Size() != 0x3000 {
		t.Errorf("Size = %#x, want 0x3000", m.Size())
	}
}
