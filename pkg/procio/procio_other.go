//go:build !(linux && (amd64 || arm64))

package procio

// Engine is a stub on platforms without a process-memory access primitive.
type Engine struct{}

func New(pid int) (*Engine, error) {
	return nil, ErrUnsupported
}

func (e *Engine) Pid() int { return 0 }

func (e *Engine) Close() error { return nil }

func (e *Engine) ReadAt(addr uint64, buf []byte) error {
	return ErrUnsupported
}

func (e *Engine) WriteAt(addr uint64, buf []byte) error {
	return ErrUnsupported
}
