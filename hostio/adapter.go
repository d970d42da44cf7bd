package hostio

import (
	"bufio"

	"github.com/daedaluz/fdev/poll"
)

// Adapter is the host-side byte channel the STK500v1 parser and dispatcher
// are driven from. It wraps a raw-mode Port (in practice the local tty end
// of a USB CDC-ACM gadget function, e.g. /dev/ttyGS0) with a small buffered
// writer so callers can stage several response bytes before pushing them to
// the endpoint in one Flush, the way the real hardware would coalesce a USB
// IN transaction.
type Adapter struct {
	port *Port
	w    *bufio.Writer
}

// OpenGadget opens name (typically the local tty end of a USB CDC-ACM
// gadget function, e.g. /dev/ttyGS0) as a raw-mode serial device and wraps
// it as an Adapter.
func OpenGadget(name string) (*Adapter, error) {
	port, err := Open(name, NewOptions())
	if err != nil {
		return nil, err
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, err
	}
	return NewFromPort(port), nil
}

// NewFromPort wraps an already-open Port (used by cmd/avrispbridge's
// --simulate path for the slave end returned by OpenSimulatedGadget, and by
// tests).
func NewFromPort(port *Port) *Adapter {
	return &Adapter{port: port, w: bufio.NewWriter(port)}
}

// Poll reports whether at least one byte is available to read right now,
// without blocking. It never blocks longer than a few microseconds: it is
// a readiness check, not a byte counter, which is all C4/C5 need to decide
// whether to call Read.
func (a *Adapter) Poll() int {
	if err := poll.WaitInput(a.port.Fd(), 0); err != nil {
		return 0
	}
	return 1
}

// Read consumes up to len(into) bytes, non-blocking. It returns 0 when
// nothing is available.
func (a *Adapter) Read(into []byte) int {
	n, err := a.port.ReadTimeout(into, 0)
	if err != nil {
		return 0
	}
	return n
}

// WriteByte stages a single byte for later Flush.
func (a *Adapter) WriteByte(b byte) error {
	return a.w.WriteByte(b)
}

// Write stages bytes for later Flush.
func (a *Adapter) Write(data []byte) (int, error) {
	return a.w.Write(data)
}

// Flush pushes all staged bytes to the endpoint.
func (a *Adapter) Flush() error {
	return a.w.Flush()
}

// Close releases the underlying port.
func (a *Adapter) Close() error {
	return a.port.Close()
}
