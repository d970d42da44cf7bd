package stk500

import (
	"errors"
	"fmt"

	"github.com/daedaluz/avrispbridge/avrerr"
	"github.com/daedaluz/avrispbridge/devprofile"
	"github.com/daedaluz/avrispbridge/isp"
)

// signOnPayload is GET_SIGN_ON's fixed reply, per spec §4.5.
var signOnPayload = []byte("AVR ISP")

// ISPDriver is the subset of isp.Driver the dispatcher calls, named as an
// interface so tests can substitute a fake without a real SPI link.
type ISPDriver interface {
	EnterProgrammingMode() error
	LeaveProgrammingMode() error
	ReadSignature() ([3]byte, error)
	ChipErase() error
	LoadPageBufferWord(wordIndex uint16, word uint16) error
	CommitPage(wordAddress uint16) error
	ReadProgramWord(wordAddress uint16) (uint16, error)
	Universal(cmd [4]byte) (byte, error)
}

var _ ISPDriver = (*isp.Driver)(nil)

// State is the Programmer State singleton owned exclusively by the
// dispatcher (spec §3). PageBytes defaults to devprofile.DefaultPageBytes
// until ENTER_PROGMODE succeeds against a known profile.
type State struct {
	CurrentWordAddress uint32
	InProgrammingMode  bool
	PageBytes          uint16
}

// NewState returns a State with spec-mandated defaults.
func NewState() State {
	return State{PageBytes: devprofile.DefaultPageBytes}
}

// HaltRequest is returned by Dispatch when a command triggers a condition
// the spec says must halt the programmer outright (currently only the
// chip-erase safety ceiling) rather than being recovered as a single
// FAILED reply.
type HaltRequest struct {
	Reason string
}

func (h *HaltRequest) Error() string { return h.Reason }

// Dispatcher executes decoded frames (C5): it owns the Programmer State,
// holds the AVR ISP driver it delegates to, and consults the package-level
// devprofile table on ENTER_PROGMODE.
type Dispatcher struct {
	isp   ISPDriver
	out   Writer
	State State
}

// NewDispatcher wires a Dispatcher to an ISP driver and a response writer
// (the host I/O adapter).
func NewDispatcher(driver ISPDriver, out Writer) *Dispatcher {
	return &Dispatcher{isp: driver, out: out, State: NewState()}
}

func (d *Dispatcher) writeAll(bs ...byte) {
	for _, b := range bs {
		d.out.WriteByte(b)
	}
}

func (d *Dispatcher) replyOK(payload []byte) {
	d.writeAll(RespInSync)
	for _, b := range payload {
		d.out.WriteByte(b)
	}
	d.writeAll(RespOK)
	d.out.Flush()
}

func (d *Dispatcher) replyFailed() {
	d.writeAll(RespInSync, RespFailed)
	d.out.Flush()
}

// Dispatch executes one decoded frame and writes its response. A non-nil
// error is always a *HaltRequest: every other failure mode is fully
// recovered within this call and communicated only via the STK500v1 reply.
func (d *Dispatcher) Dispatch(f Frame) error {
	switch f.Cmd {
	case CmdGetSync:
		d.replyOK(nil)
	case CmdGetSignOn:
		d.replyOK(signOnPayload)
	case CmdSetParameter, CmdSetDevice, CmdSetDeviceExt:
		d.replyOK(nil)
	case CmdGetParameter:
		d.replyOK([]byte{getParameterValue(f.Payload)})
	case CmdEnterProgMode:
		d.dispatchEnterProgMode()
	case CmdLeaveProgMode:
		d.dispatchLeaveProgMode()
	case CmdChipErase:
		return d.dispatchChipErase()
	case CmdCheckAutoInc:
		d.replyOK([]byte{0x01})
	case CmdLoadAddress:
		d.dispatchLoadAddress(f.Payload)
	case CmdReadSign:
		d.dispatchReadSign()
	case CmdUniversal:
		d.dispatchUniversal(f.Payload)
	case CmdProgPage:
		d.dispatchProgPage(f.Payload)
	case CmdReadPage:
		d.dispatchReadPage(f.Payload)
	default:
		d.replyFailed()
	}
	return nil
}

func getParameterValue(payload []byte) byte {
	if len(payload) < 1 {
		return 0
	}
	switch payload[0] {
	case 0x80:
		return 0x02 // hardware version
	case 0x81:
		return 0x01 // software major
	case 0x82:
		return 0x12 // software minor (18)
	default:
		return 0x00
	}
}

func (d *Dispatcher) dispatchEnterProgMode() {
	if err := d.isp.EnterProgrammingMode(); err != nil {
		d.replyFailed()
		return
	}
	sig, err := d.isp.ReadSignature()
	if err != nil {
		d.replyFailed()
		return
	}
	profile, ok := devprofile.Lookup(devprofile.Signature(sig))
	if ok {
		d.State.PageBytes = profile.PageBytes
	} else {
		d.State.PageBytes = devprofile.DefaultPageBytes
	}
	d.State.InProgrammingMode = true
	d.replyOK(nil)
}

func (d *Dispatcher) dispatchLeaveProgMode() {
	d.State.InProgrammingMode = false
	// Best-effort: the spec mandates RESET be released here regardless of
	// whether the target is still responsive; the reply is OK either way.
	_ = d.isp.LeaveProgrammingMode()
	d.replyOK(nil)
}

func (d *Dispatcher) dispatchChipErase() error {
	if !d.State.InProgrammingMode {
		d.replyFailed()
		return nil
	}
	err := d.isp.ChipErase()
	if errors.Is(err, avrerr.ErrEraseCeiling) {
		d.replyFailed()
		return &HaltRequest{Reason: "chip-erase safety ceiling reached"}
	}
	if err != nil {
		d.replyFailed()
		return nil
	}
	d.replyOK(nil)
	return nil
}

func (d *Dispatcher) dispatchLoadAddress(payload []byte) {
	if len(payload) < 2 {
		d.replyFailed()
		return
	}
	lo, hi := payload[0], payload[1]
	d.State.CurrentWordAddress = uint32(hi)<<8 | uint32(lo)
	d.replyOK(nil)
}

func (d *Dispatcher) dispatchReadSign() {
	sig, err := d.isp.ReadSignature()
	if err != nil {
		d.replyFailed()
		return
	}
	d.replyOK(sig[:])
}

func (d *Dispatcher) dispatchUniversal(payload []byte) {
	if len(payload) < 4 {
		d.replyFailed()
		return
	}
	cmd := [4]byte{payload[0], payload[1], payload[2], payload[3]}
	b, err := d.isp.Universal(cmd)
	if err != nil {
		d.replyFailed()
		return
	}
	d.replyOK([]byte{b})
}

func (d *Dispatcher) dispatchProgPage(payload []byte) {
	if len(payload) < 3 {
		d.replyFailed()
		return
	}
	size := int(payload[0])<<8 | int(payload[1])
	memtype := payload[2]
	data := payload[3:]

	if !d.State.InProgrammingMode {
		d.replyFailed()
		return
	}
	if memtype != 'F' && memtype != 'f' {
		d.replyFailed()
		return
	}
	maxSize := int(d.State.PageBytes)
	if maxSize > 256 {
		maxSize = 256
	}
	if size > maxSize || size != len(data) {
		d.replyFailed()
		return
	}

	words := size / 2
	base := uint16(d.State.CurrentWordAddress)
	for j := 0; j < words; j++ {
		word := uint16(data[2*j]) | uint16(data[2*j+1])<<8
		if err := d.isp.LoadPageBufferWord(uint16(j), word); err != nil {
			d.replyFailed()
			return
		}
	}
	if err := d.isp.CommitPage(base); err != nil {
		d.replyFailed()
		return
	}
	d.State.CurrentWordAddress += uint32(words)
	d.replyOK(nil)
}

func (d *Dispatcher) dispatchReadPage(payload []byte) {
	if len(payload) < 3 {
		d.replyFailed()
		return
	}
	size := int(payload[0])<<8 | int(payload[1])
	memtype := payload[2]

	if !d.State.InProgrammingMode {
		d.replyFailed()
		return
	}
	if memtype != 'F' && memtype != 'f' {
		d.replyFailed()
		return
	}
	if size <= 0 || size > 256 {
		d.replyFailed()
		return
	}

	out := make([]byte, size)
	base := uint16(d.State.CurrentWordAddress)
	for off := 0; off < size; off++ {
		word, err := d.isp.ReadProgramWord(base + uint16(off/2))
		if err != nil {
			d.replyFailed()
			return
		}
		if off%2 == 0 {
			out[off] = byte(word)
		} else {
			out[off] = byte(word >> 8)
		}
	}
	d.State.CurrentWordAddress += uint32((size + 1) / 2)
	d.replyOK(out)
}

// String renders the dispatcher's state for diagnostics.
func (s State) String() string {
	return fmt.Sprintf("addr=0x%04x progmode=%v page=%d", s.CurrentWordAddress, s.InProgrammingMode, s.PageBytes)
}
