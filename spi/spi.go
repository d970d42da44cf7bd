// Package spi is the hardware-peripheral SPI Link back-end (C1): it drives
// a Linux spidev character device for the 4-byte AVR serial-programming
// transactions, and a periph.io GPIO line for the target RESET signal that
// spidev itself has no notion of. Adapted from daedaluz/goserial's spi
// package, which exposed general-purpose spidev Tx(); here the transfer is
// narrowed to the fixed 4-byte mode-0 transactions the AVR ISP driver
// (package isp) needs, and a RESET line plus a speed knob are added.
package spi

import (
	"fmt"
	"reflect"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/avrispbridge/boardgpio"
	ioctl "github.com/daedaluz/goioctl"
	"periph.io/x/conn/v3/gpio"
)

const spiIOCMagic = 'k'

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	len     uint32
	speedHz uint32

	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNBits        uint8
	rxNBits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

var (
	spiIOCWrMode32      = ioctl.IOW(spiIOCMagic, 5, 4)
	spiIOCWrBitsPerWord = ioctl.IOW(spiIOCMagic, 3, 1)
	spiIOCWrMaxSpeedHz  = ioctl.IOW(spiIOCMagic, 4, 4)
	spiIOCMessage       = ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{}))
)

// Mode0 is the only SPI mode the AVR serial-programming protocol uses:
// CPOL=0, CPHA=0.
const Mode0 = 0

// Link is the hardware-peripheral back-end: a spidev device plus a GPIO
// RESET line. It implements spilink.Link.
type Link struct {
	fd       int
	speedHz  uint32
	resetPin gpio.PinIO
}

// Config selects the spidev device node and the periph GPIO line name used
// for RESET.
type Config struct {
	Device    string // e.g. /dev/spidev0.0
	ResetLine string // e.g. "GPIO25"
	SpeedHz   uint32 // defaults to 200kHz, the top of the AVR ISP range, if 0
}

// Open opens the spidev device and resolves the RESET GPIO line, programs
// SPI mode 0 / 8 bits / the requested clock, but does not yet drive RESET;
// call Init for that.
func Open(cfg Config) (*Link, error) {
	if cfg.SpeedHz == 0 {
		cfg.SpeedHz = 200_000
	}
	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spi: open %s: %w", cfg.Device, err)
	}
	pin, err := boardgpio.Line(cfg.ResetLine)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	l := &Link{fd: fd, speedHz: cfg.SpeedHz, resetPin: pin}
	if err := l.configure(); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return l, nil
}

func (l *Link) configure() error {
	mode := uint32(Mode0)
	if err := ioctl.Ioctl(uintptr(l.fd), spiIOCWrMode32, uintptr(unsafe.Pointer(&mode))); err != nil {
		return fmt.Errorf("spi: set mode: %w", err)
	}
	bits := uint8(8)
	if err := ioctl.Ioctl(uintptr(l.fd), spiIOCWrBitsPerWord, uintptr(unsafe.Pointer(&bits))); err != nil {
		return fmt.Errorf("spi: set bits per word: %w", err)
	}
	if err := ioctl.Ioctl(uintptr(l.fd), spiIOCWrMaxSpeedHz, uintptr(unsafe.Pointer(&l.speedHz))); err != nil {
		return fmt.Errorf("spi: set speed: %w", err)
	}
	return nil
}

// Init configures RESET as released (high); SCK/MOSI/MISO are already
// owned by the spidev driver once opened.
func (l *Link) Init() error {
	return l.ResetRelease()
}

// Transfer performs one full-duplex 4-byte SPI transaction.
func (l *Link) Transfer(tx [4]byte) ([4]byte, error) {
	var rx [4]byte
	txSlice := tx[:]
	rxSlice := rx[:]

	txHeader := (*reflect.SliceHeader)(unsafe.Pointer(&txSlice))
	rxHeader := (*reflect.SliceHeader)(unsafe.Pointer(&rxSlice))

	xfer := &spiIOCTransfer{
		txBuf:       uint64(txHeader.Data),
		rxBuf:       uint64(rxHeader.Data),
		len:         uint32(len(tx)),
		speedHz:     l.speedHz,
		bitsPerWord: 8,
	}
	if err := ioctl.Ioctl(uintptr(l.fd), spiIOCMessage, uintptr(unsafe.Pointer(xfer))); err != nil {
		return rx, fmt.Errorf("spi: transfer: %w", err)
	}
	return rx, nil
}

// ResetAssert drives RESET low, holding the target in ISP mode.
func (l *Link) ResetAssert() error {
	return l.resetPin.Out(gpio.Low)
}

// ResetRelease drives RESET high, letting the target run.
func (l *Link) ResetRelease() error {
	return l.resetPin.Out(gpio.High)
}

// ResetPulse releases then asserts RESET, 20ms in each state, as the AVR
// datasheet's programming-enable sequence requires.
func (l *Link) ResetPulse() error {
	if err := l.ResetRelease(); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	if err := l.ResetAssert(); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)
	return nil
}

// SetSpeed is a no-op: the hardware peripheral's clock is fixed by
// SPI_IOC_WR_MAX_SPEED_HZ at Open time, not adjustable per-transfer the way
// the bit-banged back-end's half-period is.
func (l *Link) SetSpeed(halfPeriodUs int) {}

// GetSpeed reports 0: there is no meaningful half-period for a hardware
// peripheral clocked in Hz rather than a software busy-wait loop.
func (l *Link) GetSpeed() int { return 0 }

// Close releases the spidev file descriptor.
func (l *Link) Close() error {
	return syscall.Close(l.fd)
}
