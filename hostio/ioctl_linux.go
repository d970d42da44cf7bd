package hostio

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

var (
	tcgets = uintptr(0x5401)
	tcsets = uintptr(0x5402)

	tiocswinsz = uintptr(0x5414)

	tiocgptn    = ioctl.IOR('T', 0x30, unsafe.Sizeof(uint32(0)))
	tiocsptlck  = ioctl.IOW('T', 0x31, unsafe.Sizeof(int32(0)))
	tiocgptpeer = ioctl.IO('T', 0x41)
)
