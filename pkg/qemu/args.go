package qemu

import "strings"

// isQemuComm reports whether a process comm name belongs to a QEMU
// hypervisor process. comm is truncated by the kernel to 15 characters so
// only the prefix of the binary name is matched.
func isQemuComm(comm string) bool {
	return strings.Contains(comm, "qemu-system-") || comm == "QEMULauncher"
}

// ArgOpt extracts the value of an option from a QEMU invocation.
//
// QEMU flag values are comma separated lists of either bare values or
// key=value pairs, e.g. "-name win10,debug-threads=on" or
// "-name guest=win10". ArgOpt returns the value of the key opt if present,
// otherwise the first bare value. The empty string with ok == false means
// the flag is absent or carries no matching value.
func ArgOpt(args []string, flag, opt string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] != flag {
			continue
		}
		for j, kv := range strings.Split(args[i+1], ",") {
			k, v, found := strings.Cut(kv, "=")
			if found {
				if k == opt {
					return v, true
				}
			} else if j == 0 {
				return kv, true
			}
		}
	}
	return "", false
}

// GuestName returns the VM name from the -name flag.
func GuestName(cmdline []string) (string, bool) {
	return ArgOpt(cmdline, "-name", "guest")
}

// Machine returns the machine type of the invocation. QEMU started without
// -machine uses the "pc" alias; aarch64 targets are recognized from the
// binary name since their RAM layout does not depend on the machine string.
func Machine(cmdline []string) string {
	if len(cmdline) > 0 && strings.Contains(cmdline[0], "aarch64") {
		return "aarch64"
	}
	if m, ok := ArgOpt(cmdline, "-machine", "type"); ok {
		return m
	}
	return "pc"
}

// MonitorAddr returns the QMP control channel address from the -qmp flag,
// e.g. "unix:/tmp/qmp.sock,server,nowait" yields "unix:/tmp/qmp.sock".
func MonitorAddr(cmdline []string) (string, bool) {
	return ArgOpt(cmdline, "-qmp", "")
}
