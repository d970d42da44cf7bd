// Package spilink defines the capability every SPI back-end exposes to the
// AVR ISP driver (C2). Exactly one implementation is wired in at process
// start — either the hardware spidev-backed Link in package spi, or the
// bit-banged GPIO Link in package gpiospi — and nothing above this
// interface may switch on which one it got.
package spilink

// Link is a 4-byte full-duplex SPI master in mode 0 (CPOL=0, CPHA=0), MSB
// first, plus the target RESET line it shares a connector with.
type Link interface {
	// Init configures the underlying pins/device: MOSI/SCK/RESET as
	// outputs (SCK idle low, RESET initially released), MISO as input.
	Init() error

	// Transfer performs one full-duplex 4-byte SPI transaction and
	// returns the 4 bytes clocked back in.
	Transfer(tx [4]byte) ([4]byte, error)

	// ResetAssert drives RESET low (target held in reset / ISP mode).
	ResetAssert() error
	// ResetRelease drives RESET high (target running).
	ResetRelease() error
	// ResetPulse releases then asserts RESET, 20ms each state.
	ResetPulse() error

	// SetSpeed adjusts the bit half-period in microseconds. It is a
	// no-op on back-ends that use a fixed-clock hardware peripheral.
	SetSpeed(halfPeriodUs int)
	// GetSpeed reports the current bit half-period in microseconds.
	// Fixed-clock hardware back-ends report 0.
	GetSpeed() int

	// Close releases any OS handles the back-end holds open.
	Close() error
}
