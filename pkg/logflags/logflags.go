// Package logflags configures the loggers used by the connector.
//
// Every layer of the connector (process resolution, the QMP wire protocol,
// the process-memory I/O path) has its own logger that is disabled by
// default and can be enabled selectively with a comma separated list.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var connector = false
var qmpWire = false
var ioEngine = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	lf := loggerFactory
	if lf == nil {
		lf = DefaultLoggerFactory(logOut)
	}
	return lf(flag, fields, logOut)
}

// Connector returns true if the connector layer should log.
func Connector() bool {
	return connector
}

// ConnectorLogger returns a logger for the connector layer.
func ConnectorLogger() Logger {
	return makeLogger(connector, Fields{"layer": "connector"})
}

// QMPWire returns true if all QMP messages exchanged with the monitor
// socket should be logged.
func QMPWire() bool {
	return qmpWire
}

// QMPWireLogger returns a configured logger for the QMP wire protocol.
func QMPWireLogger() Logger {
	return makeLogger(qmpWire, Fields{"layer": "qmp"})
}

// IOEngine returns true if the process-memory I/O engine should log.
func IOEngine() bool {
	return ioEngine
}

// IOEngineLogger returns a logger for the process-memory I/O engine.
func IOEngineLogger() Logger {
	return makeLogger(ioEngine, Fields{"layer": "ioengine"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr, a comma
// separated list of layer names. An empty logstr enables the connector
// layer only. logDest, if not empty, redirects logs to a file or to a
// file descriptor (numeric).
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := parseFd(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "qemu-phys-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "connector"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "connector":
			connector = true
		case "qmp":
			qmpWire = true
		case "ioengine":
			ioEngine = true
		default:
			return fmt.Errorf("unknown log output %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

func parseFd(logDest string) (int, error) {
	var n int
	_, err := fmt.Sscanf(logDest, "%d", &n)
	if err != nil || fmt.Sprintf("%d", n) != logDest {
		return 0, errors.New("not a file descriptor")
	}
	return n, nil
}

// Any returns true if any logger is enabled.
func Any() bool {
	return connector || qmpWire || ioEngine
}
