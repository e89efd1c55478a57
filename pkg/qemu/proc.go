// Package qemu locates the QEMU hypervisor process that backs a given
// virtual machine and extracts what the connector needs from its procfs
// entry: the invocation arguments and the guest-RAM backing mapping.
package qemu

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/memflow/memflow-qemu/pkg/logflags"
)

// Process is a resolved QEMU hypervisor process.
type Process struct {
	PID     int
	Comm    string
	Cmdline []string

	procRoot string
}

// NotFoundError is returned by Resolve when no running QEMU process
// matches the requested VM name.
type NotFoundError struct {
	Name string
}

func (err *NotFoundError) Error() string {
	if err.Name == "" {
		return "no qemu process found"
	}
	return fmt.Sprintf("no qemu process found for VM %q", err.Name)
}

// AmbiguousError is returned by Resolve when more than one running QEMU
// process matches the requested VM name (or no name was given and several
// candidates exist).
type AmbiguousError struct {
	Name string
	PIDs []int
}

func (err *AmbiguousError) Error() string {
	if err.Name == "" {
		return fmt.Sprintf("multiple qemu processes found (pids %v), select one with a VM name", err.PIDs)
	}
	return fmt.Sprintf("multiple qemu processes found for VM %q (pids %v)", err.Name, err.PIDs)
}

// Target describes one running VM, for target enumeration.
type Target struct {
	Name string
	PID  int
}

// Resolver finds QEMU processes through procfs. The zero value scans
// /proc; ProcRoot can point somewhere else for tests.
type Resolver struct {
	ProcRoot string

	log logflags.Logger
}

// NewResolver returns a Resolver scanning the default procfs mount.
func NewResolver() *Resolver {
	return &Resolver{ProcRoot: "/proc", log: logflags.ConnectorLogger()}
}

func (r *Resolver) root() string {
	if r.ProcRoot == "" {
		return "/proc"
	}
	return r.ProcRoot
}

func (r *Resolver) logger() logflags.Logger {
	if r.log == nil {
		r.log = logflags.ConnectorLogger()
	}
	return r.log
}

// Resolve finds the single QEMU process running the VM called name. With
// an empty name exactly one QEMU process must be running. Resolve is
// idempotent and can be re-run to reattach after the original process is
// gone.
func (r *Resolver) Resolve(name string) (*Process, error) {
	procs, err := r.candidates()
	if err != nil {
		return nil, err
	}
	matches := procs
	if name != "" {
		matches = nil
		for _, p := range procs {
			if n, ok := GuestName(p.Cmdline); ok && n == name {
				matches = append(matches, p)
			}
		}
	}
	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Name: name}
	case 1:
		r.logger().Debugf("qemu process found with pid %d", matches[0].PID)
		return matches[0], nil
	default:
		pids := make([]int, len(matches))
		for i, p := range matches {
			pids[i] = p.PID
		}
		return nil, &AmbiguousError{Name: name, PIDs: pids}
	}
}

// Targets enumerates all running VMs that carry a -name argument.
func (r *Resolver) Targets() ([]Target, error) {
	procs, err := r.candidates()
	if err != nil {
		return nil, err
	}
	var targets []Target
	for _, p := range procs {
		if n, ok := GuestName(p.Cmdline); ok {
			targets = append(targets, Target{Name: n, PID: p.PID})
		}
	}
	return targets, nil
}

// candidates returns every running QEMU process. Unreadable procfs entries
// for individual processes are skipped (they belong to other users or died
// mid-scan); failure to enumerate the process list itself is an error the
// caller cannot recover from.
func (r *Resolver) candidates() ([]*Process, error) {
	entries, err := os.ReadDir(r.root())
	if err != nil {
		return nil, fmt.Errorf("could not enumerate processes: %w", err)
	}
	var procs []*Process
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(r.root(), entry.Name(), "comm"))
		if err != nil {
			continue
		}
		commstr := strings.TrimSpace(string(comm))
		if !isQemuComm(commstr) {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(r.root(), entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		procs = append(procs, &Process{
			PID:      pid,
			Comm:     commstr,
			Cmdline:  splitCmdline(buf),
			procRoot: r.root(),
		})
	}
	return procs, nil
}

// Alive reports whether the process still exists.
func (p *Process) Alive() bool {
	_, err := os.Stat(filepath.Join(p.root(), strconv.Itoa(p.PID)))
	return err == nil
}

func (p *Process) root() string {
	if p.procRoot == "" {
		return "/proc"
	}
	return p.procRoot
}

// cmdline entries are NUL separated and NUL terminated.
func splitCmdline(buf []byte) []string {
	args := strings.Split(string(bytes.TrimRight(buf, "\x00")), "\x00")
	if len(args) == 1 && args[0] == "" {
		return nil
	}
	return args
}
