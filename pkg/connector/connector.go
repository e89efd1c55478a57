// Package connector composes process resolution, memory layout acquisition
// and process-memory I/O into guest-physical read/write access to a
// running QEMU virtual machine.
//
// A Connector is built by Open and moves through a simple lifecycle:
// opening resolves the hypervisor process and acquires the memory layout
// (preferring a live QMP query, falling back to the static layout table);
// ready serves ReadPhys/WritePhys; Close tears everything down. A
// connector is not safe for concurrent use; callers either serialize on
// one connector or open several.
package connector

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/memflow/memflow-qemu/pkg/logflags"
	"github.com/memflow/memflow-qemu/pkg/memmap"
	"github.com/memflow/memflow-qemu/pkg/procio"
	"github.com/memflow/memflow-qemu/pkg/qemu"
	"github.com/memflow/memflow-qemu/pkg/qmp"
)

// ErrClosed is returned by operations on a closed connector.
var ErrClosed = errors.New("connector is closed")

// Memory is the process-memory access primitive the connector drives.
// Satisfied by procio.Engine; tests substitute their own.
type Memory interface {
	ReadAt(addr uint64, buf []byte) error
	WriteAt(addr uint64, buf []byte) error
	Close() error
}

// monitor is the slice of the QMP session the connector uses.
type monitor interface {
	QueryRAMBlocks() ([]qmp.RAMBlock, error)
	Close() error
}

const (
	pageSize       = 0x1000
	translateCache = 512
)

// Connector gives read/write access to the physical memory of one VM.
type Connector struct {
	cfg      Config
	resolver *qemu.Resolver

	proc *qemu.Process
	mem  Memory
	mon  monitor // nil while the QMP channel is unavailable
	mmap *memmap.Map

	// pages caches guest-phys page -> host page translations; purged on
	// every map swap.
	pages *lru.Cache

	closed bool
	log    logflags.Logger

	// hooks for tests
	newEngine func(pid int) (Memory, error)
	dial      func(addr string) (monitor, error)
}

// Open resolves the target VM and builds the connector. Every error at
// open time is fatal and indicates missing setup: no matching process,
// ambiguous selection, missing ptrace rights, or an unrecognizable machine
// layout with no live monitor to query.
func Open(cfg Config) (*Connector, error) {
	c := &Connector{
		cfg: cfg,
		log: logflags.ConnectorLogger(),
		newEngine: func(pid int) (Memory, error) {
			return procio.New(pid)
		},
		dial: func(addr string) (monitor, error) {
			return qmp.Dial(addr)
		},
	}
	c.resolver = qemu.NewResolver()
	if cfg.ProcRoot != "" {
		c.resolver.ProcRoot = cfg.ProcRoot
	}
	if err := c.attach(); err != nil {
		return nil, err
	}
	c.pages, _ = lru.New(translateCache)
	return c, nil
}

// attach resolves the process, opens the I/O engine and the monitor
// session, and builds the memory map. Used both at open time and when
// reattaching after the process disappeared.
func (c *Connector) attach() error {
	p, err := c.resolver.Resolve(c.cfg.Name)
	if err != nil {
		return err
	}
	c.log.Debugf("attached to qemu process %d (%s)", p.PID, p.Comm)

	mem, err := c.newEngine(p.PID)
	if err != nil {
		return err
	}

	c.teardown()
	c.proc, c.mem = p, mem
	c.openMonitor()

	m, err := c.buildMap()
	if err != nil {
		c.teardown()
		return err
	}
	c.installMap(m)
	return nil
}

// openMonitor connects the QMP session, best effort. The channel address
// comes from the configuration, from the target's own -qmp argument, or
// from the conventional per-VM socket path. Protocol failures only cost
// us the live layout query, so they are logged and swallowed.
func (c *Connector) openMonitor() {
	addr := c.cfg.MonitorAddr
	if addr == "" {
		addr, _ = qemu.MonitorAddr(c.proc.Cmdline)
	}
	if addr == "" {
		if c.cfg.Name == "" {
			return
		}
		addr = qmp.DefaultSocketPath(c.cfg.Name)
	}
	mon, err := c.dial(addr)
	if err != nil {
		c.log.Warnf("qmp monitor unavailable, using fallback memory layout: %v", err)
		return
	}
	c.log.Debugf("qmp session established at %s", addr)
	c.mon = mon
}

// buildMap acquires the current guest memory layout. The live QMP query is
// preferred; the static per-machine fallback table covers monitors that
// are absent or reject the query. An overlapping QMP result is fatal and
// never installed.
func (c *Connector) buildMap() (*memmap.Map, error) {
	base, size, err := c.proc.GuestBacking()
	if err != nil {
		return nil, err
	}
	if c.cfg.HasMapBase {
		base = c.cfg.MapBase
	}
	if c.cfg.HasMapSize {
		size = c.cfg.MapSize
	}

	if c.mon != nil {
		blocks, err := c.mon.QueryRAMBlocks()
		switch {
		case err == nil:
			regions := make([]memmap.Region, len(blocks))
			for i, b := range blocks {
				regions[i] = memmap.Region{
					Base:     b.Base,
					Size:     b.Size,
					HostAddr: base + b.BackingOffset,
				}
			}
			return memmap.New(regions)
		case errors.Is(err, qmp.ErrUnavailable):
			c.log.Warnf("qmp layout query rejected, using fallback memory layout: %v", err)
			c.mon.Close()
			c.mon = nil
		default:
			c.log.Warnf("qmp layout query failed, using fallback memory layout: %v", err)
		}
	}

	machine := qemu.Machine(c.proc.Cmdline)
	c.log.Debugf("building fallback memory layout for machine %q, backing %#x+%#x", machine, base, size)
	return memmap.Fallback(machine, base, size)
}

func (c *Connector) installMap(m *memmap.Map) {
	c.mmap = m
	if c.pages != nil {
		c.pages.Purge()
	}
	c.log.Debugf("memory map installed: %d regions, %#x bytes addressable", len(m.Regions()), m.Size())
}

// refreshMap re-acquires the layout and swaps it in. The old map stays
// active if the rebuild fails.
func (c *Connector) refreshMap() error {
	m, err := c.buildMap()
	if err != nil {
		return err
	}
	c.installMap(m)
	return nil
}

// ReadPhys reads len(buf) bytes of guest-physical memory at addr.
func (c *Connector) ReadPhys(addr uint64, buf []byte) error {
	return c.phys(addr, buf, Memory.ReadAt)
}

// WritePhys writes buf to guest-physical memory at addr.
func (c *Connector) WritePhys(addr uint64, buf []byte) error {
	return c.phys(addr, buf, Memory.WriteAt)
}

func (c *Connector) phys(addr uint64, buf []byte, op func(Memory, uint64, []byte) error) error {
	if c.closed || c.mem == nil {
		return ErrClosed
	}
	reattached := false
	for {
		spans, err := c.translate(addr, uint64(len(buf)))
		if err != nil {
			return err
		}
		err = c.transfer(spans, buf, op)
		if err == nil {
			return nil
		}
		// A vanished process gets one reattach (new pid, new map) before
		// the error is surfaced. If reattaching fails the original error
		// wins: it names what actually went wrong first.
		if errors.Is(err, procio.ErrProcessGone) && !reattached {
			reattached = true
			if rerr := c.attach(); rerr != nil {
				c.log.Warnf("reattach failed: %v", rerr)
				return err
			}
			continue
		}
		return err
	}
}

func (c *Connector) transfer(spans []memmap.Span, buf []byte, op func(Memory, uint64, []byte) error) error {
	off := uint64(0)
	for _, s := range spans {
		if err := op(c.mem, s.HostAddr, buf[off:off+s.Size]); err != nil {
			return err
		}
		off += s.Size
	}
	return nil
}

// translate resolves a guest-physical range into host spans. A request
// into an unmapped hole triggers one layout refresh when a live monitor is
// connected: guest RAM may have been resized since the map was built.
func (c *Connector) translate(addr, size uint64) ([]memmap.Span, error) {
	if size == 0 {
		return nil, nil
	}
	if page := addr &^ (pageSize - 1); page == (addr+size-1)&^(pageSize-1) {
		if host, ok := c.pages.Get(page); ok {
			return []memmap.Span{{HostAddr: host.(uint64) + (addr - page), Size: size}}, nil
		}
	}

	spans, err := c.mmap.Translate(addr, size)
	var unmapped *memmap.UnmappedRangeError
	if errors.As(err, &unmapped) && c.mon != nil {
		if rerr := c.refreshMap(); rerr != nil {
			c.log.Warnf("memory map refresh failed: %v", rerr)
			return nil, err
		}
		spans, err = c.mmap.Translate(addr, size)
	}
	if err != nil {
		return nil, err
	}
	c.cachePage(addr, size, spans)
	return spans, nil
}

// cachePage remembers the translation of the surrounding page when the
// whole request landed inside a single page of a single region.
func (c *Connector) cachePage(addr, size uint64, spans []memmap.Span) {
	if len(spans) != 1 {
		return
	}
	page := addr &^ (pageSize - 1)
	if page != (addr+size-1)&^(pageSize-1) {
		return
	}
	if pageSpans, err := c.mmap.Translate(page, pageSize); err == nil && len(pageSpans) == 1 {
		c.pages.Add(page, pageSpans[0].HostAddr)
	}
}

// Size returns the total addressable guest-physical size reported by the
// current map, holes included.
func (c *Connector) Size() uint64 {
	return c.mmap.Size()
}

// Pid returns the pid of the hypervisor process currently attached.
func (c *Connector) Pid() int {
	return c.proc.PID
}

// Map returns the current memory map snapshot.
func (c *Connector) Map() *memmap.Map {
	return c.mmap
}

// Close tears down the monitor session and the I/O engine. Idempotent.
func (c *Connector) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardown()
	return nil
}

func (c *Connector) teardown() {
	if c.mon != nil {
		c.mon.Close()
		c.mon = nil
	}
	if c.mem != nil {
		c.mem.Close()
		c.mem = nil
	}
}

// Targets enumerates all running VMs that can be opened by name.
func Targets() ([]qemu.Target, error) {
	return qemu.NewResolver().Targets()
}

var _ Memory = (*procio.Engine)(nil)

// OpenArgs is a convenience wrapper combining ParseArgs and Open.
func OpenArgs(argstr string) (*Connector, error) {
	cfg, err := ParseArgs(argstr)
	if err != nil {
		return nil, err
	}
	return Open(cfg)
}
