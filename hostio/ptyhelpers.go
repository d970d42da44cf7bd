package hostio

import (
	"fmt"
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// Winsize mirrors struct winsize from <asm-generic/termios.h>, used only by
// the PTY-backed gadget simulator (OpenSimulatedGadget) to size the slave
// side; the STK500v1 protocol itself has no notion of terminal geometry.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// SetLockPT sets or clears the pty lock on a /dev/ptmx master.
func (p *Port) SetLockPT(locked bool) error {
	var v int32
	if locked {
		v = 1
	}
	return ioctl.Ioctl(uintptr(p.f), tiocsptlck, uintptr(unsafe.Pointer(&v)))
}

// GetPTPeer opens the slave end of a /dev/ptmx master via TIOCGPTPEER. Unlike
// most ioctls, the kernel hands back the new file descriptor as the syscall's
// return value rather than through an output pointer, so this bypasses the
// goioctl error-only wrapper used everywhere else in this package.
func (p *Port) GetPTPeer(flags int) (*Port, error) {
	r1, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.f), tiocgptpeer, uintptr(flags))
	if errno != 0 {
		return nil, errno
	}
	return &Port{options: NewOptions(), f: int(r1)}, nil
}

// SetWinSize applies a terminal window size to the port.
func (p *Port) SetWinSize(ws *Winsize) error {
	return ioctl.Ioctl(uintptr(p.f), tiocswinsz, uintptr(unsafe.Pointer(ws)))
}

// GetPTName resolves the /dev/pts/<n> path of the slave paired with this
// /dev/ptmx master, via TIOCGPTN. Used by --simulate to tell the operator
// which pts to attach a host-side STK500v1 tool to.
func (p *Port) GetPTName() (string, error) {
	var n uint32
	if err := ioctl.Ioctl(uintptr(p.f), tiocgptn, uintptr(unsafe.Pointer(&n))); err != nil {
		return "", err
	}
	return fmt.Sprintf("/dev/pts/%d", n), nil
}
