// Package gpiospi is the software-timed SPI Link back-end (C1): it bit-bangs
// SCK/MOSI/MISO over periph.io GPIO lines instead of a spidev peripheral,
// for boards with no hardware SPI controller wired to the ISP header. The
// bit-level protocol (mode 0, MSB first, configurable half-period) is
// adapted from ziutek/bitbang's SPI, which drove the same three signal
// lines over a generic io.ReadWriter; here they are periph gpio.PinIO pins
// driven directly, since that is how GPIO is reached on this board family.
package gpiospi

import (
	"time"

	"github.com/daedaluz/avrispbridge/boardgpio"
	"periph.io/x/conn/v3/gpio"
)

// Config names the four periph GPIO lines the bit-banged link drives.
type Config struct {
	SCKLine      string
	MOSILine     string
	MISOLine     string
	ResetLine    string
	HalfPeriodUs int // defaults to 5us (~100kHz) if zero
}

// Link is the bit-banged back-end. It implements spilink.Link.
type Link struct {
	sck, mosi, miso, reset gpio.PinIO
	halfPeriod             time.Duration
}

// Open resolves all four GPIO lines named in cfg.
func Open(cfg Config) (*Link, error) {
	if cfg.HalfPeriodUs == 0 {
		cfg.HalfPeriodUs = 5
	}
	sck, err := boardgpio.Line(cfg.SCKLine)
	if err != nil {
		return nil, err
	}
	mosi, err := boardgpio.Line(cfg.MOSILine)
	if err != nil {
		return nil, err
	}
	miso, err := boardgpio.Line(cfg.MISOLine)
	if err != nil {
		return nil, err
	}
	reset, err := boardgpio.Line(cfg.ResetLine)
	if err != nil {
		return nil, err
	}
	return &Link{
		sck:        sck,
		mosi:       mosi,
		miso:       miso,
		reset:      reset,
		halfPeriod: time.Duration(cfg.HalfPeriodUs) * time.Microsecond,
	}, nil
}

// Init drives SCK/MOSI low (idle, mode 0), configures MISO as input with a
// pull-up (the AVR's MISO line floats when the target is unpowered or not
// yet in programming mode), and releases RESET.
func (l *Link) Init() error {
	if err := l.sck.Out(gpio.Low); err != nil {
		return err
	}
	if err := l.mosi.Out(gpio.Low); err != nil {
		return err
	}
	if err := l.miso.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return err
	}
	return l.ResetRelease()
}

// Transfer performs one full-duplex 4-byte SPI transaction, mode 0
// (sample MISO while SCK is high, shift MOSI while SCK is low), MSB first.
func (l *Link) Transfer(tx [4]byte) ([4]byte, error) {
	var rx [4]byte
	for i, b := range tx {
		out, err := l.transferByte(b)
		if err != nil {
			return rx, err
		}
		rx[i] = out
	}
	return rx, nil
}

func (l *Link) transferByte(b byte) (byte, error) {
	var out byte
	for bit := 7; bit >= 0; bit-- {
		level := gpio.Low
		if b&(1<<uint(bit)) != 0 {
			level = gpio.High
		}
		if err := l.mosi.Out(level); err != nil {
			return 0, err
		}
		l.delay()
		if err := l.sck.Out(gpio.High); err != nil {
			return 0, err
		}
		if l.miso.Read() == gpio.High {
			out |= 1 << uint(bit)
		}
		l.delay()
		if err := l.sck.Out(gpio.Low); err != nil {
			return 0, err
		}
	}
	return out, nil
}

func (l *Link) delay() {
	time.Sleep(l.halfPeriod)
}

// ResetAssert drives RESET low, holding the target in ISP mode.
func (l *Link) ResetAssert() error {
	return l.reset.Out(gpio.Low)
}

// ResetRelease drives RESET high, letting the target run.
func (l *Link) ResetRelease() error {
	return l.reset.Out(gpio.High)
}

// ResetPulse releases then asserts RESET, 20ms in each state.
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

// SetSpeed adjusts the bit half-period in microseconds.
func (l *Link) SetSpeed(halfPeriodUs int) {
	l.halfPeriod = time.Duration(halfPeriodUs) * time.Microsecond
}

// GetSpeed reports the current bit half-period in microseconds.
func (l *Link) GetSpeed() int {
	return int(l.halfPeriod / time.Microsecond)
}

// Close releases no OS handles: periph GPIO pins need no explicit close.
func (l *Link) Close() error { return nil }
