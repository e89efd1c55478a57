package main

import (
	"os"

	"github.com/memflow/memflow-qemu/cmd/qemu-phys/cmds"
	"github.com/memflow/memflow-qemu/pkg/logflags"
)

func main() {
	defer logflags.Close()
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
