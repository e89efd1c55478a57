package connector

import (
	"fmt"
	"strconv"
	"strings"
)

// Config selects the target VM and overrides layout probing.
type Config struct {
	// Name of the VM, matched against the -name argument of running QEMU
	// processes. Empty means "the only running QEMU process".
	Name string
	// MonitorAddr is the QMP channel address ("unix:<path>" or
	// "tcp:<host:port>"). Empty means autodiscover from the target's own
	// -qmp argument, then the conventional per-VM socket path.
	MonitorAddr string
	// MapBase overrides the probed base of the guest-RAM backing mapping
	// for the fallback layout.
	MapBase    uint64
	HasMapBase bool
	// MapSize overrides the probed size of the guest-RAM backing mapping
	// for the fallback layout.
	MapSize    uint64
	HasMapSize bool
	// ProcRoot overrides the procfs mount point. Used by tests.
	ProcRoot string
}

// ParseArgs parses a connector option string of comma separated key=value
// pairs. A first bare value is shorthand for name=<value>:
//
//	win10
//	name=win10,qmp=unix:/tmp/qmp-win10.sock
//	name=win10,map_base=0x7f0000000000,map_size=0x80000000
func ParseArgs(argstr string) (Config, error) {
	var cfg Config
	if argstr == "" {
		return cfg, nil
	}
	for i, kv := range strings.Split(argstr, ",") {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			if i == 0 {
				cfg.Name = kv
				continue
			}
			return Config{}, fmt.Errorf("malformed connector argument %q", kv)
		}
		switch key {
		case "name":
			cfg.Name = value
		case "qmp":
			cfg.MonitorAddr = value
		case "map_base":
			n, err := strconv.ParseUint(value, 0, 64)
			if err != nil {
				return Config{}, fmt.Errorf("malformed map_base %q: %v", value, err)
			}
			cfg.MapBase, cfg.HasMapBase = n, true
		case "map_size":
			n, err := strconv.ParseUint(value, 0, 64)
			if err != nil {
				return Config{}, fmt.Errorf("malformed map_size %q: %v", value, err)
			}
			cfg.MapSize, cfg.HasMapSize = n, true
		default:
			return Config{}, fmt.Errorf("unknown connector argument %q, valid arguments are:\n%s", key, Help())
		}
	}
	return cfg, nil
}

// Help returns the description of the recognized connector arguments.
func Help() string {
	return `The qemu connector reads the physical memory of a running QEMU
virtual machine through the process filesystem on Linux. The process
loading it needs ptrace access to the hypervisor process (CAP_SYS_PTRACE
or root).

Available arguments are:
  name      the name of the virtual machine (specified with -name when starting qemu)
  qmp       the QMP monitor address, unix:<path> or tcp:<host:port>
  map_base  override for the base address of the guest RAM backing mapping
  map_size  override for the size of the guest RAM backing mapping`
}
