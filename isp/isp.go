// Package isp implements the AVR serial-programming command set (C2): the
// opcodes issued over a spilink.Link to bring a target into ISP mode,
// erase, load/commit flash pages, read back words, and pass through raw
// universal commands. It knows nothing about STK500v1 framing; the
// dispatcher in package stk500 is the only caller.
package isp

import (
	"time"

	"github.com/daedaluz/avrispbridge/avrerr"
	"github.com/daedaluz/avrispbridge/spilink"
)

// EraseCeiling is the safety ceiling on chip_erase calls per session
// (spec invariant 5). Chosen well above any realistic development session
// but far below the target's rated endurance.
const EraseCeiling = 200

const (
	progEnableEchoByte = 0x53

	opProgrammingEnable = 0xAC
	opChipErase         = 0xAC
	opReadSignature     = 0x30
	opLoadPageLow       = 0x40
	opLoadPageHigh      = 0x48
	opWritePage         = 0x4C
	opReadProgramLow    = 0x20
	opReadProgramHigh   = 0x28
)

// Driver is the AVR ISP state machine (Idle / Programming) from spec §4.2.
// It holds no protocol-level state (that belongs to the dispatcher's
// Programmer State); EraseCount is the one piece of state this layer must
// own itself, since the safety ceiling is a property of the physical
// erase operations issued, not of any STK500v1 session bookkeeping.
type Driver struct {
	link       spilink.Link
	EraseCount uint32
}

// New wraps a spilink.Link. The caller is responsible for link.Init().
func New(link spilink.Link) *Driver {
	return &Driver{link: link}
}

// EnterProgrammingMode toggles RESET and sends the programming-enable
// sequence, retrying up to 8 times with the required echo-byte check.
func (d *Driver) EnterProgrammingMode() error {
	for attempt := 0; attempt < 8; attempt++ {
		if err := d.link.ResetPulse(); err != nil {
			return err
		}
		rx, err := d.link.Transfer([4]byte{opProgrammingEnable, 0x53, 0x00, 0x00})
		if err != nil {
			return err
		}
		if rx[2] == progEnableEchoByte {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return avrerr.ErrProgModeEntryFailed
}

// LeaveProgrammingMode releases RESET and lets the target settle.
func (d *Driver) LeaveProgrammingMode() error {
	if err := d.link.ResetRelease(); err != nil {
		return err
	}
	time.Sleep(1 * time.Millisecond)
	return nil
}

// ReadSignature issues the three single-byte read-signature transactions.
func (d *Driver) ReadSignature() ([3]byte, error) {
	var sig [3]byte
	for i := 0; i < 3; i++ {
		rx, err := d.link.Transfer([4]byte{0x30, 0x00, byte(i), 0x00})
		if err != nil {
			return sig, err
		}
		sig[i] = rx[3]
	}
	return sig, nil
}

// ChipErase issues the chip-erase opcode, refusing once EraseCount has hit
// EraseCeiling (spec invariant 5: the programmer halts rather than wear
// the target further).
func (d *Driver) ChipErase() error {
	if d.EraseCount >= EraseCeiling {
		return avrerr.ErrEraseCeiling
	}
	if _, err := d.link.Transfer([4]byte{opChipErase, 0x80, 0x00, 0x00}); err != nil {
		return err
	}
	time.Sleep(9 * time.Millisecond)
	d.EraseCount++
	return nil
}

// LoadPageBufferWord writes one word (low byte then high byte) into the
// target's on-chip temporary page buffer at wordIndex, the offset in words
// from the start of the page.
func (d *Driver) LoadPageBufferWord(wordIndex uint16, word uint16) error {
	addrHi := byte(wordIndex >> 8)
	addrLo := byte(wordIndex)
	lo := byte(word)
	hi := byte(word >> 8)
	if _, err := d.link.Transfer([4]byte{opLoadPageLow, addrHi, addrLo, lo}); err != nil {
		return err
	}
	if _, err := d.link.Transfer([4]byte{opLoadPageHigh, addrHi, addrLo, hi}); err != nil {
		return err
	}
	return nil
}

// CommitPage writes the page buffer to flash at the page containing
// wordAddress, waiting for the page-write to complete.
func (d *Driver) CommitPage(wordAddress uint16) error {
	addrHi := byte(wordAddress >> 8)
	addrLo := byte(wordAddress)
	if _, err := d.link.Transfer([4]byte{opWritePage, addrHi, addrLo, 0x00}); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

// ReadProgramWord reads one word (low byte then high byte) from flash at
// wordAddress.
func (d *Driver) ReadProgramWord(wordAddress uint16) (uint16, error) {
	addrHi := byte(wordAddress >> 8)
	addrLo := byte(wordAddress)
	rxLo, err := d.link.Transfer([4]byte{opReadProgramLow, addrHi, addrLo, 0x00})
	if err != nil {
		return 0, err
	}
	rxHi, err := d.link.Transfer([4]byte{opReadProgramHigh, addrHi, addrLo, 0x00})
	if err != nil {
		return 0, err
	}
	return uint16(rxHi[3])<<8 | uint16(rxLo[3]), nil
}

// VerifyRange reads back len(expected) words starting at startWord and
// compares them against expected, stopping at the first mismatch.
func (d *Driver) VerifyRange(startWord uint16, expected []uint16) (bool, error) {
	for i, want := range expected {
		got, err := d.ReadProgramWord(startWord + uint16(i))
		if err != nil {
			return false, err
		}
		if got != want {
			return false, nil
		}
	}
	return true, nil
}

// Universal passes cmd through as a single 4-byte SPI transaction and
// returns the fourth response byte, the STK500v1 escape host tools use to
// read fuses, lock bits, or any vendor command this package does not
// otherwise model.
func (d *Driver) Universal(cmd [4]byte) (byte, error) {
	rx, err := d.link.Transfer(cmd)
	if err != nil {
		return 0, err
	}
	return rx[3], nil
}
