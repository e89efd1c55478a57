// Package cmds implements the qemu-phys command line tool, a small
// front end over the connector for inspecting guest-physical memory of
// running QEMU virtual machines.
package cmds

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memflow/memflow-qemu/pkg/config"
	"github.com/memflow/memflow-qemu/pkg/connector"
	"github.com/memflow/memflow-qemu/pkg/logflags"
	"github.com/memflow/memflow-qemu/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// target is the VM name to attach to.
	target string
	// monitorAddr is the QMP monitor address override.
	monitorAddr string
	// mapBase/mapSize override the probed guest-RAM backing mapping.
	mapBase string
	mapSize string

	conf *config.Config
)

// New returns the root command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "qemu-phys",
		Short: "qemu-phys inspects the physical memory of running QEMU virtual machines.",
		Long: `qemu-phys attaches to the QEMU process backing a virtual machine and
reads its guest-physical memory through the process filesystem, without any
agent inside the guest. It needs ptrace access to the hypervisor process
(CAP_SYS_PTRACE, or run it as root).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logflags.Setup(log, logOutput, logDest)
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (connector,qmp,ioengine).")
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVarP(&target, "target", "t", "", "Name of the VM (matched against the -name argument of qemu). Defaults to the sole running VM.")
	rootCommand.PersistentFlags().StringVar(&monitorAddr, "qmp", "", "QMP monitor address, unix:<path> or tcp:<host:port>.")
	rootCommand.PersistentFlags().StringVar(&mapBase, "map-base", "", "Override for the base address of the guest RAM backing mapping.")
	rootCommand.PersistentFlags().StringVar(&mapSize, "map-size", "", "Override for the size of the guest RAM backing mapping.")

	targetsCommand := &cobra.Command{
		Use:   "targets",
		Short: "List running QEMU virtual machines.",
		RunE:  targetsCmd,
	}
	rootCommand.AddCommand(targetsCommand)

	mapCommand := &cobra.Command{
		Use:   "map",
		Short: "Show the guest-physical memory layout of a VM.",
		RunE:  mapCmd,
	}
	rootCommand.AddCommand(mapCommand)

	readCommand := &cobra.Command{
		Use:   "read <addr> <length>",
		Short: "Hex dump guest-physical memory of a VM.",
		Args:  cobra.ExactArgs(2),
		RunE:  readCmd,
	}
	rootCommand.AddCommand(readCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qemu-phys\n%s\n%s\n", version.ConnectorVersion, version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func targetsCmd(cmd *cobra.Command, args []string) error {
	targets, err := connector.Targets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println("no running VMs found")
		return nil
	}
	for _, t := range targets {
		fmt.Printf("%-8d %s\n", t.PID, t.Name)
	}
	return nil
}

func mapCmd(cmd *cobra.Command, args []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("pid %d, %#x bytes addressable\n", c.Pid(), c.Size())
	for _, r := range c.Map().Regions() {
		fmt.Printf("%016x-%016x -> %016x\n", r.Base, r.End(), r.HostAddr)
	}
	return nil
}

func readCmd(cmd *cobra.Command, args []string) error {
	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("malformed address %q: %v", args[0], err)
	}
	length, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("malformed length %q: %v", args[1], err)
	}

	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	buf := make([]byte, length)
	if err := c.ReadPhys(addr, buf); err != nil {
		return err
	}
	dump(os.Stdout, addr, buf)
	return nil
}

// open builds the connector configuration from flags and the config file.
func open() (*connector.Connector, error) {
	cfg := connector.Config{
		Name:        firstOf(target, conf.Target),
		MonitorAddr: firstOf(monitorAddr, conf.MonitorAddr),
	}
	if mapBase != "" {
		n, err := strconv.ParseUint(mapBase, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed --map-base %q: %v", mapBase, err)
		}
		cfg.MapBase, cfg.HasMapBase = n, true
	}
	if mapSize != "" {
		n, err := strconv.ParseUint(mapSize, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed --map-size %q: %v", mapSize, err)
		}
		cfg.MapSize, cfg.HasMapSize = n, true
	}
	return connector.Open(cfg)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// dump writes a conventional hex dump of buf, addressed from addr.
func dump(w *os.File, addr uint64, buf []byte) {
	width := conf.BytesPerLine
	if width <= 0 {
		width = 16
	}
	for off := 0; off < len(buf); off += width {
		end := off + width
		if end > len(buf) {
			end = len(buf)
		}
		fmt.Fprintf(w, "%016x ", addr+uint64(off))
		for i := off; i < off+width; i++ {
			if i < end {
				fmt.Fprintf(w, " %02x", buf[i])
			} else {
				fmt.Fprint(w, "   ")
			}
		}
		fmt.Fprint(w, "  ")
		for i := off; i < end; i++ {
			if buf[i] >= 0x20 && buf[i] < 0x7f {
				fmt.Fprintf(w, "%c", buf[i])
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w)
	}
}
