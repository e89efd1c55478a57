package qmp

import "testing"

const sampleMtree = `
            0000000000000000-000000000009ffff (prio 0, ram): pc.ram KVM
            00000000000a0000-00000000000affff (prio 1, ram): vga.vram KVM
            00000000000b0000-00000000000bffff (prio 1, i/o): vga-lowmem @0000000000010000
            00000000000c0000-00000000000c3fff (prio 0, rom): pc.ram @00000000000c0000 KVM
            00000000000c4000-00000000000dffff (prio 1, rom): pc.rom @0000000000004000 KVM
            00000000000e0000-00000000000fffff (prio 1, rom): isa-bios KVM
            0000000000100000-000000007fffffff (prio 0, ram): pc.ram @0000000000100000 KVM
            0000000100000000-000000047fffffff (prio 0, ram): pc.ram @0000000080000000 KVM
            0000000000000000-000000000009ffff (prio 0, ram): pc.ram KVM
            00000000000a0000-00000000000affff (prio 1, ram): vga.vram KVM
            00000000000b0000-00000000000bffff (prio 1, i/o): vga-lowmem @0000000000010000
            00000000000c0000-00000000000c3fff (prio 0, rom): pc.ram @00000000000c0000 KVM
            00000000000c4000-00000000000dffff (prio 1, rom): pc.rom @0000000000004000 KVM
            00000000000e0000-00000000000fffff (prio 1, rom): isa-bios KVM
            0000000000100000-000000007fffffff (prio 0, ram): pc.ram @0000000000100000 KVM
            0000000100000000-000000047fffffff (prio 0, ram): pc.ram @0000000080000000 KVM`

func TestParseMtree(t *testing.T) {
	blocks := ParseMtree(sampleMtree)

	want := []RAMBlock{
		{Base: 0, Size: 0xa0000, BackingOffset: 0},
		{Base: 0xc0000, Size: 0x4000, BackingOffset: 0xc0000},
		{Base: 0x100000, Size: 0x7ff00000, BackingOffset: 0x100000},
		{Base: 0x100000000, Size: 0x380000000, BackingOffset: 0x80000000},
	}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d: %v", len(blocks), len(want), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestParseMtreeEmpty(t *testing.T) {
	if blocks := ParseMtree("no ram lines here"); len(blocks) != 0 {
		t.Errorf("ParseMtree on garbage = %v", blocks)
	}
}
