package connector

import (
	"strings"
	"testing"
)

func TestParseArgs(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Config
	}{
		{"", Config{}},
		{"win10", Config{Name: "win10"}},
		{"name=win10", Config{Name: "win10"}},
		{"name=win10,qmp=unix:/tmp/qmp-win10.sock", Config{Name: "win10", MonitorAddr: "unix:/tmp/qmp-win10.sock"}},
		{"win10,map_base=0x7f0000000000", Config{Name: "win10", MapBase: 0x7f0000000000, HasMapBase: true}},
		{"win10,map_size=2147483648", Config{Name: "win10", MapSize: 2147483648, HasMapSize: true}},
	} {
		got, err := ParseArgs(tc.in)
		if err != nil {
			t.Errorf("ParseArgs(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseArgs(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestParseArgsErrors(t *testing.T) {
	for _, in := range []string{
		"name=win10,bogus=1",
		"name=win10,map_base=zzz",
		"name=win10,stray",
	} {
		if _, err := ParseArgs(in); err == nil {
			t.Errorf("ParseArgs(%q) succeeded, want error", in)
		}
	}
}

func TestParseArgsUnknownKeyMentionsHelp(t *testing.T) {
	_, err := ParseArgs("frobnicate=yes")
	if err == nil || !strings.Contains(err.Error(), "map_base") {
		t.Errorf("unknown key error does not list valid arguments: %v", err)
	}
}
