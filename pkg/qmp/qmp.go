// Package qmp implements a minimal client for the QEMU Machine Protocol,
// the JSON request/response protocol spoken on the monitor socket that
// QEMU exposes when started with -qmp.
//
// The monitor is an optional runtime feature of the hypervisor and is
// frequently disabled; every failure in this package is recoverable by the
// caller (it selects the static fallback layout), never fatal.
package qmp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/memflow/memflow-qemu/pkg/logflags"
)

var (
	// ErrUnavailable indicates that the monitor channel could not be
	// opened or that the monitor rejected the command needed to query the
	// memory layout.
	ErrUnavailable = errors.New("qmp monitor unavailable")
	// ErrHandshakeFailed indicates a malformed or timed out greeting.
	ErrHandshakeFailed = errors.New("qmp handshake failed")
	// ErrQueryFailed indicates a malformed reply to a memory layout query.
	ErrQueryFailed = errors.New("qmp query failed")
)

const (
	handshakeTimeout = 4 * time.Second
	commandTimeout   = 4 * time.Second
)

// CommandError is an error object returned by the monitor in response to a
// command.
type CommandError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (err *CommandError) Error() string {
	return fmt.Sprintf("qmp command failed: %s (%s)", err.Desc, err.Class)
}

// Conn is a QMP session. It is owned by a single connector and is not safe
// for concurrent use.
type Conn struct {
	conn net.Conn
	rdr  *bufio.Reader

	reqID uint64

	log logflags.Logger
}

// Dial connects to a monitor address of the form "unix:<path>" or
// "tcp:<host:port>" (a bare absolute path is treated as a unix socket) and
// performs the capability handshake. Connection failures are reported as
// ErrUnavailable, greeting failures as ErrHandshakeFailed.
func Dial(addr string) (*Conn, error) {
	network, target, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}
	c, err := net.DialTimeout(network, target, handshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return NewConn(c)
}

func splitAddr(addr string) (network, target string, err error) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		return "unix", strings.TrimPrefix(addr, "unix:"), nil
	case strings.HasPrefix(addr, "tcp:"):
		return "tcp", strings.TrimPrefix(addr, "tcp:"), nil
	case strings.HasPrefix(addr, "/"):
		return "unix", addr, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported monitor address %q", ErrUnavailable, addr)
	}
}

// DefaultSocketPath returns the conventional per-VM monitor socket path
// used when the configuration does not name a channel and the target's
// invocation carries no -qmp argument.
func DefaultSocketPath(name string) string {
	return fmt.Sprintf("/var/run/qemu/%s.sock", name)
}

// NewConn performs the QMP handshake on an established connection and
// returns the session. On error the connection is closed.
func NewConn(c net.Conn) (*Conn, error) {
	conn := &Conn{
		conn: c,
		rdr:  bufio.NewReader(c),
		log:  logflags.QMPWireLogger(),
	}
	if err := conn.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return conn, nil
}

// Close tears down the session. Idempotent.
func (conn *Conn) Close() error {
	if conn.conn == nil {
		return nil
	}
	err := conn.conn.Close()
	conn.conn = nil
	return err
}

// greeting is the banner the monitor sends on connect:
//
//	{"QMP": {"version": {...}, "capabilities": [...]}}
type greeting struct {
	QMP *struct {
		Capabilities []string `json:"capabilities"`
	} `json:"QMP"`
}

// handshake reads the greeting banner and negotiates capability mode; the
// monitor accepts no command before qmp_capabilities.
func (conn *Conn) handshake() error {
	line, err := conn.recv(handshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	var g greeting
	if err := json.Unmarshal(line, &g); err != nil || g.QMP == nil {
		return fmt.Errorf("%w: malformed greeting %q", ErrHandshakeFailed, string(line))
	}
	if _, err := conn.execute("qmp_capabilities", nil); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return nil
}

type request struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
	ID        uint64      `json:"id"`
}

type response struct {
	Return json.RawMessage `json:"return"`
	Error  *CommandError   `json:"error"`
	Event  string          `json:"event"`
	ID     uint64          `json:"id"`
}

// execute performs one command round-trip. Responses are correlated by
// request id; asynchronous event messages the monitor interleaves on the
// channel are skipped.
func (conn *Conn) execute(cmd string, args interface{}) (json.RawMessage, error) {
	if conn.conn == nil {
		return nil, ErrUnavailable
	}
	conn.reqID++
	req, err := json.Marshal(request{Execute: cmd, Arguments: args, ID: conn.reqID})
	if err != nil {
		return nil, err
	}
	conn.log.Debugf("-> %s", string(req))
	if _, err := conn.conn.Write(append(req, '\n')); err != nil {
		return nil, fmt.Errorf("could not send %s: %w", cmd, err)
	}

	deadline := time.Now().Add(commandTimeout)
	for {
		line, err := conn.recvUntil(deadline)
		if err != nil {
			return nil, fmt.Errorf("no reply to %s: %w", cmd, err)
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("malformed reply to %s: %q", cmd, string(line))
		}
		if resp.Event != "" || (resp.Return == nil && resp.Error == nil) {
			continue
		}
		if resp.ID != conn.reqID {
			// stale reply from an earlier, timed out command
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Return, nil
	}
}

func (conn *Conn) recv(timeout time.Duration) ([]byte, error) {
	return conn.recvUntil(time.Now().Add(timeout))
}

func (conn *Conn) recvUntil(deadline time.Time) ([]byte, error) {
	conn.conn.SetReadDeadline(deadline)
	defer conn.conn.SetReadDeadline(time.Time{})
	line, err := conn.rdr.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	conn.log.Debugf("<- %s", strings.TrimSpace(string(line)))
	return line, nil
}
