package qemu

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Mapping is one entry of the process memory map.
type Mapping struct {
	Start uint64
	End   uint64
	Perm  string
}

// Size returns the extent of the mapping in bytes.
func (m Mapping) Size() uint64 {
	return m.End - m.Start
}

// GuestBacking locates the mapping backing guest RAM: QEMU allocates guest
// memory as one large anonymous mapping, by far the biggest region of the
// process. Returns the mapping's base address and size.
//
// Reading the memory map of a foreign process requires ptrace-level access
// (CAP_SYS_PTRACE, same-uid with a permissive yama scope, or root); a
// permission error here means the caller has to fix its privileges, not a
// bug in the target.
func (p *Process) GuestBacking() (base, size uint64, err error) {
	mappings, err := p.Mappings()
	if err != nil {
		return 0, 0, err
	}
	var best Mapping
	for _, m := range mappings {
		if m.Size() > best.Size() {
			best = m
		}
	}
	if best.Size() == 0 {
		return 0, 0, fmt.Errorf("no memory mappings found for pid %d", p.PID)
	}
	return best.Start, best.Size(), nil
}

// Mappings parses /proc/<pid>/maps.
func (p *Process) Mappings() ([]Mapping, error) {
	buf, err := os.ReadFile(filepath.Join(p.root(), strconv.Itoa(p.PID), "maps"))
	if err != nil {
		return nil, fmt.Errorf("could not read memory map of pid %d: %w", p.PID, err)
	}
	var mappings []Mapping
	for lineno, line := range strings.Split(string(buf), "\n") {
		if line == "" {
			continue
		}
		m, err := parseMapsLine(lineno+1, line)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func parseMapsLine(lineno int, in string) (Mapping, error) {
	fields := strings.Fields(in)
	if len(fields) < 5 {
		return Mapping{}, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (wrong number of fields)", lineno, in)
	}
	addrs := strings.Split(fields[0], "-")
	if len(addrs) != 2 {
		return Mapping{}, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (bad first field)", lineno, in)
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("malformed /proc/pid/maps on line %d: %q (%v)", lineno, in, err)
	}
	return Mapping{Start: start, End: end, Perm: fields[1]}, nil
}
