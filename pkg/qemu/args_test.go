package qemu

import "testing"

func argOpt(t *testing.T, args []string, flag, opt string) string {
	t.Helper()
	v, _ := ArgOpt(args, flag, opt)
	return v
}

func TestArgOptName(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"-name", "win10-test"}, "win10-test"},
		{[]string{"-test", "-name", "win10-test"}, "win10-test"},
		{[]string{"-name", "win10-test,arg=opt"}, "win10-test"},
		{[]string{"-name", "guest=win10-test,arg=opt"}, "win10-test"},
		{[]string{"-name", "arg=opt,guest=win10-test"}, "win10-test"},
		{[]string{"-name", "arg=opt"}, ""},
	} {
		if got := argOpt(t, tc.args, "-name", "guest"); got != tc.want {
			t.Errorf("ArgOpt(%q, -name, guest) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestArgOptMachine(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"-machine", "q35"}, "q35"},
		{[]string{"-test", "-machine", "q35"}, "q35"},
		{[]string{"-machine", "q35,arg=opt"}, "q35"},
		{[]string{"-machine", "type=pc,arg=opt"}, "pc"},
		{[]string{"-machine", "arg=opt,type=pc-i1440fx"}, "pc-i1440fx"},
		{[]string{"-machine", "arg=opt"}, ""},
	} {
		if got := argOpt(t, tc.args, "-machine", "type"); got != tc.want {
			t.Errorf("ArgOpt(%q, -machine, type) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestMachine(t *testing.T) {
	for _, tc := range []struct {
		cmdline []string
		want    string
	}{
		{[]string{"qemu-system-x86_64", "-machine", "q35"}, "q35"},
		{[]string{"qemu-system-x86_64"}, "pc"},
		{[]string{"/usr/bin/qemu-system-aarch64", "-machine", "virt"}, "aarch64"},
		{nil, "pc"},
	} {
		if got := Machine(tc.cmdline); got != tc.want {
			t.Errorf("Machine(%q) = %q, want %q", tc.cmdline, got, tc.want)
		}
	}
}

func TestMonitorAddr(t *testing.T) {
	addr, ok := MonitorAddr([]string{"qemu-system-x86_64", "-qmp", "unix:/tmp/qmp-win10.sock,server,nowait"})
	if !ok || addr != "unix:/tmp/qmp-win10.sock" {
		t.Errorf("MonitorAddr = %q, %v", addr, ok)
	}
	if _, ok := MonitorAddr([]string{"qemu-system-x86_64"}); ok {
		t.Error("MonitorAddr reported an address for a cmdline without -qmp")
	}
}
