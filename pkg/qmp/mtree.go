package qmp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RAMBlock is one populated guest RAM range as reported by the monitor.
// BackingOffset is relative to the start of the pc.ram backing allocation,
// not to the process address space; the caller rebases it onto the
// guest-RAM backing mapping it probed from the process.
type RAMBlock struct {
	Base          uint64
	Size          uint64
	BackingOffset uint64
}

// QueryRAMBlocks retrieves the current guest memory layout from the
// monitor through the flat view of "info mtree". A monitor that rejects
// the command (human-monitor-command can be compiled out) yields
// ErrUnavailable; an unparseable reply yields ErrQueryFailed.
func (conn *Conn) QueryRAMBlocks() ([]RAMBlock, error) {
	type hmcArgs struct {
		CommandLine string `json:"command-line"`
	}
	ret, err := conn.execute("human-monitor-command", hmcArgs{CommandLine: "info mtree -f"})
	if err != nil {
		var cmderr *CommandError
		if errors.As(err, &cmderr) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmderr)
		}
		return nil, err
	}
	var mtree string
	if err := json.Unmarshal(ret, &mtree); err != nil {
		return nil, fmt.Errorf("%w: reply is not a string: %q", ErrQueryFailed, string(ret))
	}
	blocks := ParseMtree(mtree)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: no pc.ram ranges in mtree output", ErrQueryFailed)
	}
	return blocks, nil
}

// ParseMtree extracts the pc.ram ranges from "info mtree -f" output.
// Relevant lines look like
//
//	0000000000100000-000000007fffffff (prio 0, ram): pc.ram @0000000000100000 KVM
//
// where the end address is inclusive and the @offset is absent when the
// range starts at the beginning of the backing allocation. The flat view
// repeats address spaces, so duplicate lines are collapsed.
func ParseMtree(mtree string) []RAMBlock {
	var lines []string
	for _, line := range strings.Split(mtree, "\n") {
		if strings.Contains(line, "pc.ram") {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	sort.Strings(lines)
	lines = dedup(lines)

	var blocks []RAMBlock
	for _, line := range lines {
		if b, ok := parseMtreeLine(line); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func parseMtreeLine(line string) (RAMBlock, bool) {
	// "start-end (prio N, kind): pc.ram [@offset] [KVM]"
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return RAMBlock{}, false
	}
	start, end, ok := parseHexRange(fields[0])
	if !ok {
		return RAMBlock{}, false
	}
	ramIdx := -1
	for i, f := range fields[1:] {
		if f == "pc.ram" {
			ramIdx = i + 1
			break
		}
	}
	if ramIdx < 0 || !strings.HasSuffix(fields[ramIdx-1], ":") {
		return RAMBlock{}, false
	}
	offset := start
	if ramIdx+1 < len(fields) && strings.HasPrefix(fields[ramIdx+1], "@") {
		o, err := strconv.ParseUint(strings.TrimPrefix(fields[ramIdx+1], "@"), 16, 64)
		if err != nil {
			return RAMBlock{}, false
		}
		offset = o
	}
	return RAMBlock{Base: start, Size: end - start + 1, BackingOffset: offset}, true
}

func parseHexRange(s string) (start, end uint64, ok bool) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return 0, 0, false
	}
	end, err = strconv.ParseUint(hi, 16, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, end, true
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
