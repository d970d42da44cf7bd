// Package boardgpio resolves periph.io GPIO lines by name, shared by both
// SPI Link back-ends for the target RESET line (and, in the software
// back-end, for SCK/MOSI/MISO too). periph's host package must be
// initialized exactly once per process before any gpioreg lookup; this
// package does that lazily so callers never have to think about it,
// mirroring the host.Init guard in gentam-gice's device constructor.
package boardgpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var initOnce sync.Once
var initErr error

func ensureInit() error {
	initOnce.Do(func() {
		_, initErr = host.Init()
	})
	return initErr
}

// Line resolves a pin by its periph name (e.g. "GPIO17" on a Raspberry Pi,
// or a board-specific alias registered by periph's host drivers).
func Line(name string) (gpio.PinIO, error) {
	if err := ensureInit(); err != nil {
		return nil, fmt.Errorf("boardgpio: host init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("boardgpio: no such GPIO line %q", name)
	}
	return pin, nil
}
