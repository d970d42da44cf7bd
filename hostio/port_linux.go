package hostio

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
)

// Termios mirrors struct termios from <asm-generic/termios.h>, the subset
// of terminal state this adapter needs to put a gadget tty into raw mode.
type Termios struct {
	Iflag IFlag      /* input mode flags */
	Oflag OFlag      /* output mode flags */
	Cflag CFlag      /* control mode flags */
	Lflag LFlag      /* local mode flags */
	Line  Discipline /* line discipline */
	Cc    [19]byte   /* control characters */
}

type IFlag uint32

// Input flags MakeRaw clears.
const (
	IGNBRK = IFlag(0000001)
	BRKINT = IFlag(0000002)
	PARMRK = IFlag(0000010)
	ISTRIP = IFlag(0000040)
	INLCR  = IFlag(0000100)
	IGNCR  = IFlag(0000200)
	ICRNL  = IFlag(0000400)
	IXON   = IFlag(0002000)
)

type OFlag uint32

// OPOST is the only output flag this adapter cares about: disabling it is
// what makes writes reach the gadget tty byte-for-byte.
const (
	OPOST = OFlag(0000001)
)

type CFlag uint32

// Control flags MakeRaw manipulates to select 8-bit, no-parity characters.
// The baud-rate bits (CBAUD and friends) are not modeled: a USB CDC-ACM
// gadget tty has no physical UART behind it, so there is no baud rate to
// configure.
const (
	CSIZE  = CFlag(0000060)
	CS8    = CFlag(0000060)
	PARENB = CFlag(0000400)
)

type LFlag uint32

// Local flags MakeRaw clears to take the line out of canonical/echoing mode.
const (
	ISIG   = LFlag(0000001)
	ICANON = LFlag(0000002)
	ECHO   = LFlag(0000010)
	ECHONL = LFlag(0000100)
	IEXTEN = LFlag(0100000)
)

// Action selects when a termios change takes effect (see tcsetattr(3)).
type Action int

const (
	TCSANOW Action = iota
	TCSADRAIN
	TCSAFLUSH
)

// Discipline is the tty line discipline. A gadget tty is always N_TTY.
type Discipline byte

const N_TTY = Discipline(0)

// Options configures how Open behaves.
type Options struct {
	ReadTimeout time.Duration
	OpenMode    int
}

// NewOptions returns the defaults: blocking reads, read/write, no
// controlling-terminal semantics (irrelevant for a gadget tty, but matches
// how every other serial device on this board family is opened).
func NewOptions() *Options {
	return &Options{ReadTimeout: -1, OpenMode: syscall.O_RDWR | syscall.O_NOCTTY}
}

func (o *Options) SetReadTimeout(timeout time.Duration) *Options {
	o.ReadTimeout = timeout
	return o
}

// Port is a raw file descriptor to a tty or pty device, plus the termios/
// ioctl operations the bridge needs on it.
type Port struct {
	options *Options
	closed  atomic.Bool
	f       int
}

// Open opens name under opts (NewOptions() if nil).
func Open(name string, opts *Options) (*Port, error) {
	if opts == nil {
		opts = NewOptions()
	}
	fd, err := syscall.Open(name, opts.OpenMode, 0)
	if err != nil {
		return nil, wrapErr("open "+name, err)
	}
	return &Port{
		options: opts,
		f:       fd,
	}, nil
}

func (p *Port) Write(data []byte) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return syscall.Write(p.f, data)
}

func (p *Port) readTimeout(data []byte, timeout time.Duration) (int, error) {
	if err := poll.WaitInput(p.f, timeout); err != nil {
		return 0, err
	}
	return syscall.Read(p.f, data)
}

func (p *Port) Read(data []byte) (n int, err error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if p.options.ReadTimeout > -1 {
		return p.readTimeout(data, p.options.ReadTimeout)
	}
	return syscall.Read(p.f, data)
}

func (p *Port) ReadTimeout(data []byte, timeout time.Duration) (n int, err error) {
	return p.readTimeout(data, timeout)
}

func (p *Port) SetReadTimeout(timeout time.Duration) {
	p.options.ReadTimeout = timeout
}

func (p *Port) Fd() int {
	if p.closed.Load() {
		return -1
	}
	return p.f
}

func (p *Port) Close() error {
	if !p.closed.Swap(true) {
		fd := p.f
		p.f = -1
		return syscall.Close(fd)
	}
	return ErrClosed
}

func (p *Port) GetAttr() (*Termios, error) {
	attrs := &Termios{}
	err := ioctl.Ioctl(uintptr(p.f), tcgets, uintptr(unsafe.Pointer(attrs)))
	if err != nil {
		return nil, err
	}
	return attrs, nil
}

func (p *Port) SetAttr(when Action, attrs *Termios) error {
	return ioctl.Ioctl(uintptr(p.f), tcsets+uintptr(when), uintptr(unsafe.Pointer(attrs)))
}

// MakeRaw puts the Port into raw mode: no canonicalization, no echo, no
// output post-processing, 8 data bits, no parity.
func (p *Port) MakeRaw() error {
	attrs, err := p.GetAttr()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	return p.SetAttr(TCSANOW, attrs)
}

func (attrs *Termios) MakeRaw() {
	attrs.Iflag &= ^(IGNBRK | BRKINT | PARMRK | ISTRIP | INLCR | IGNCR | ICRNL | IXON)
	attrs.Oflag &= ^(OPOST)
	attrs.Lflag &= ^(ECHO | ECHONL | ICANON | ISIG | IEXTEN)
	attrs.Cflag &= ^(CSIZE | PARENB)
	attrs.Cflag |= CS8
}
